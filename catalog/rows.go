package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dataview-sh/dataview/db/types"
)

// RowsPerPage is the hard cap on the number of rows returned per page,
// regardless of the requested length.
const RowsPerPage = 100

// Row is one split row plus its stable index within the split.
type Row struct {
	Idx   int64
	Cells map[string]any
}

// Page is one page of split rows, with the total number of rows matching the
// page's selection.
type Page struct {
	Rows         []Row
	NumRowsTotal int64
}

// Page returns split rows in insertion order, starting at offset. The length
// is clamped to RowsPerPage.
func (s *Split) Page(ctx context.Context, d types.Querier, columns []*Column, offset, length int64) (*Page, error) {
	return s.page(ctx, d, columns, nil, offset, length)
}

// SearchPage returns split rows whose string columns contain query,
// case-insensitively, in insertion order.
func (s *Split) SearchPage(
	ctx context.Context, d types.Querier, columns []*Column,
	query string, offset, length int64,
) (*Page, error) {
	var conds []string
	var args []any
	for _, col := range columns {
		if col.Type != ColumnString {
			continue
		}
		conds = append(conds, fmt.Sprintf(`lower(%s) LIKE ?`, quoteIdent(col.Name)))
		args = append(args, "%"+strings.ToLower(query)+"%")
	}
	if len(conds) == 0 {
		// No searchable columns means no matches.
		return &Page{Rows: []Row{}}, nil
	}

	filter := types.NewFilter("("+strings.Join(conds, " OR ")+")", args)

	return s.page(ctx, d, columns, filter, offset, length)
}

// FilterPage returns split rows matching the given where expression, in
// insertion order. The expression is validated against the split schema
// before execution; an invalid expression yields an InvalidInputError.
func (s *Split) FilterPage(
	ctx context.Context, d types.Querier, columns []*Column,
	where string, offset, length int64,
) (*Page, error) {
	validated, err := validateWhere(where, columns)
	if err != nil {
		return nil, err
	}

	return s.page(ctx, d, columns, types.NewFilter("("+validated+")", nil), offset, length)
}

func (s *Split) page(
	ctx context.Context, d types.Querier, columns []*Column,
	filter *types.Filter, offset, length int64,
) (*Page, error) {
	if offset < 0 {
		return nil, types.InvalidInputError{Msg: "offset must not be negative"}
	}
	if length <= 0 || length > RowsPerPage {
		length = RowsPerPage
	}

	where := "1=1"
	var args []any
	if filter != nil {
		where = filter.Where
		args = filter.Args
	}

	var total int64
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, quoteIdent(s.TableName), where)
	if err := d.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed counting rows of '%s': %w", s.TableName, err)
	}

	selects := make([]string, 0, len(columns)+1)
	selects = append(selects, "_row_idx")
	for _, col := range columns {
		selects = append(selects, quoteIdent(col.Name))
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY _row_idx LIMIT ? OFFSET ?`,
		strings.Join(selects, ", "), quoteIdent(s.TableName), where)
	rows, err := d.QueryContext(ctx, query, append(args, length, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed querying rows of '%s': %w", s.TableName, err)
	}
	defer rows.Close()

	page := &Page{Rows: []Row{}, NumRowsTotal: total}
	for rows.Next() {
		row, err := scanRow(rows, columns)
		if err != nil {
			return nil, err
		}
		page.Rows = append(page.Rows, *row)
	}

	//nolint:wrapcheck // This is fine.
	return page, rows.Err()
}

func scanRow(rows *sql.Rows, columns []*Column) (*Row, error) {
	dest := make([]any, 0, len(columns)+1)
	var idx int64
	dest = append(dest, &idx)
	for _, col := range columns {
		switch col.Type {
		case ColumnString:
			dest = append(dest, &sql.Null[string]{})
		case ColumnFloat:
			dest = append(dest, &sql.Null[float64]{})
		default:
			// Bools and class labels are stored as integers.
			dest = append(dest, &sql.Null[int64]{})
		}
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, types.ScanError{ModelName: "row", Err: err}
	}

	cells := make(map[string]any, len(columns))
	for i, col := range columns {
		cells[col.Name] = cellFromScan(col, dest[i+1])
	}

	return &Row{Idx: idx, Cells: cells}, nil
}

func cellFromScan(col *Column, v any) any {
	switch val := v.(type) {
	case *sql.Null[string]:
		if val.Valid {
			return val.V
		}
	case *sql.Null[float64]:
		if val.Valid {
			return val.V
		}
	case *sql.Null[int64]:
		if !val.Valid {
			return nil
		}
		if col.Type == ColumnBool {
			return val.V != 0
		}
		return val.V
	}

	return nil
}
