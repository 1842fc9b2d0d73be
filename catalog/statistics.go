package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/dataview-sh/dataview/db/types"
)

// StatsType is the statistics classification of a column. It refines
// ColumnType: string columns split into low-cardinality labels and free text.
type StatsType string

// The statistics column types.
const (
	StatsClassLabel  StatsType = "class_label"
	StatsFloat       StatsType = "float"
	StatsInt         StatsType = "int"
	StatsBool        StatsType = "bool"
	StatsStringLabel StatsType = "string_label"
	StatsStringText  StatsType = "string_text"
)

// MaxNumStringLabels is the cardinality threshold for string columns: up to
// this many distinct non-null values the column is treated as a set of labels,
// above it as free text.
const MaxNumStringLabels = 30

const (
	statsNumBins  = 10
	statsDecimals = 3
)

// NoLabelValue is the class id marking an unlabeled class_label cell.
const NoLabelValue = -1

// ColumnStatistics is the computed statistics of one column.
type ColumnStatistics struct {
	ColumnName string    `json:"column_name"`
	ColumnType StatsType `json:"column_type"`
	Statistics any       `json:"column_statistics"`
}

// Histogram is a fixed-bin histogram of a numerical column. BinEdges has one
// more entry than Hist; every bin is left-closed and the last bin is closed.
type Histogram struct {
	Hist     []int64 `json:"hist"`
	BinEdges []any   `json:"bin_edges"`
}

// NumericalStatistics describes an int or float column, or the value lengths
// of a free-text string column.
type NumericalStatistics struct {
	NanCount      int64     `json:"nan_count"`
	NanProportion float64   `json:"nan_proportion"`
	Min           any       `json:"min"`
	Max           any       `json:"max"`
	Mean          float64   `json:"mean"`
	Median        float64   `json:"median"`
	Std           float64   `json:"std"`
	Histogram     Histogram `json:"histogram"`
}

// CategoricalStatistics describes a class_label or string_label column.
type CategoricalStatistics struct {
	NanCount          int64            `json:"nan_count"`
	NanProportion     float64          `json:"nan_proportion"`
	NoLabelCount      int64            `json:"no_label_count"`
	NoLabelProportion float64          `json:"no_label_proportion"`
	NUnique           int              `json:"n_unique"`
	Frequencies       map[string]int64 `json:"frequencies"`
}

// BoolStatistics describes a bool column.
type BoolStatistics struct {
	NanCount      int64            `json:"nan_count"`
	NanProportion float64          `json:"nan_proportion"`
	Frequencies   map[string]int64 `json:"frequencies"`
}

// ComputeStatistics computes per-column statistics over all rows of the
// split.
func (s *Split) ComputeStatistics(
	ctx context.Context, d types.Querier, columns []*Column,
) ([]ColumnStatistics, error) {
	stats := make([]ColumnStatistics, 0, len(columns))
	for _, col := range columns {
		colStats, err := s.computeColumnStatistics(ctx, d, col)
		if err != nil {
			return nil, fmt.Errorf("column '%s': %w", col.Name, err)
		}
		stats = append(stats, *colStats)
	}

	return stats, nil
}

func (s *Split) computeColumnStatistics(
	ctx context.Context, d types.Querier, col *Column,
) (*ColumnStatistics, error) {
	switch col.Type {
	case ColumnInt, ColumnFloat:
		values, nanCount, err := scanFloatColumn(ctx, d, s.TableName, col.Name)
		if err != nil {
			return nil, err
		}
		st := StatsInt
		if col.Type == ColumnFloat {
			st = StatsFloat
		}
		return &ColumnStatistics{
			ColumnName: col.Name,
			ColumnType: st,
			Statistics: numericalStatistics(values, nanCount, st),
		}, nil
	case ColumnBool:
		values, nanCount, err := scanIntColumn(ctx, d, s.TableName, col.Name)
		if err != nil {
			return nil, err
		}
		return &ColumnStatistics{
			ColumnName: col.Name,
			ColumnType: StatsBool,
			Statistics: boolStatistics(values, nanCount),
		}, nil
	case ColumnClassLabel:
		values, nanCount, err := scanIntColumn(ctx, d, s.TableName, col.Name)
		if err != nil {
			return nil, err
		}
		return &ColumnStatistics{
			ColumnName: col.Name,
			ColumnType: StatsClassLabel,
			Statistics: classLabelStatistics(values, nanCount, col.ClassNames),
		}, nil
	case ColumnString:
		values, nanCount, err := scanStringColumn(ctx, d, s.TableName, col.Name)
		if err != nil {
			return nil, err
		}
		return stringStatistics(col.Name, values, nanCount), nil
	}

	return nil, types.InvalidInputError{Msg: fmt.Sprintf("unknown column type '%s'", col.Type)}
}

// numericalStatistics computes min/max/mean/median/std and a histogram over
// the non-null values.
func numericalStatistics(values []float64, nanCount int64, st StatsType) *NumericalStatistics {
	nSamples := int64(len(values)) + nanCount
	stats := &NumericalStatistics{
		NanCount:      nanCount,
		NanProportion: proportion(nanCount, nSamples),
	}
	if len(values) == 0 {
		stats.Histogram = Histogram{Hist: []int64{}, BinEdges: []any{}}
		return stats
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	minVal, maxVal := sorted[0], sorted[len(sorted)-1]

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sqDiff float64
	for _, v := range values {
		sqDiff += (v - mean) * (v - mean)
	}
	std := 0.0
	if len(values) > 1 {
		std = math.Sqrt(sqDiff / float64(len(values)-1))
	}

	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	var edges []float64
	if st == StatsInt {
		edges = intBinEdges(int64(minVal), int64(maxVal), statsNumBins)
		stats.Min = int64(minVal)
		stats.Max = int64(maxVal)
	} else {
		edges = floatBinEdges(minVal, maxVal, statsNumBins)
		stats.Min = roundTo(minVal, statsDecimals)
		stats.Max = roundTo(maxVal, statsDecimals)
	}

	stats.Mean = roundTo(mean, statsDecimals)
	stats.Median = roundTo(median, statsDecimals)
	stats.Std = roundTo(std, statsDecimals)
	stats.Histogram = histogram(values, edges, st)

	return stats
}

// intBinEdges generates bin edges for an integer column: bins of equal width
// covering [min, max], with max appended as the final edge.
func intBinEdges(minVal, maxVal int64, nBins int64) []float64 {
	width := (maxVal - minVal + 1 + nBins - 1) / nBins
	if width < 1 {
		width = 1
	}

	var edges []float64
	for e := minVal; e <= maxVal; e += width {
		edges = append(edges, float64(e))
	}
	edges = append(edges, float64(maxVal))

	return edges
}

// floatBinEdges generates equal-width bin edges over [min, max]. Equal min
// and max collapse to a single bin.
func floatBinEdges(minVal, maxVal float64, nBins int64) []float64 {
	if minVal == maxVal {
		return []float64{minVal, maxVal}
	}

	edges := make([]float64, 0, nBins+1)
	width := (maxVal - minVal) / float64(nBins)
	for i := int64(0); i < nBins; i++ {
		edges = append(edges, minVal+width*float64(i))
	}
	edges = append(edges, maxVal)

	return edges
}

// histogram counts values into the bins described by edges. Every bin is
// left-closed; the final bin also includes its upper edge, so the counts sum
// to the number of non-null values.
func histogram(values []float64, edges []float64, st StatsType) Histogram {
	nBins := len(edges) - 1
	hist := make([]int64, nBins)
	for _, v := range values {
		for i := 0; i < nBins; i++ {
			if v >= edges[i] && (v < edges[i+1] || i == nBins-1) {
				hist[i]++
				break
			}
		}
	}

	binEdges := make([]any, len(edges))
	for i, e := range edges {
		if st == StatsInt {
			binEdges[i] = int64(e)
		} else {
			binEdges[i] = roundTo(e, statsDecimals)
		}
	}

	return Histogram{Hist: hist, BinEdges: binEdges}
}

func boolStatistics(values []int64, nanCount int64) *BoolStatistics {
	nSamples := int64(len(values)) + nanCount
	freqs := map[string]int64{}
	for _, v := range values {
		freqs[strconv.FormatBool(v != 0)]++
	}

	return &BoolStatistics{
		NanCount:      nanCount,
		NanProportion: proportion(nanCount, nSamples),
		Frequencies:   freqs,
	}
}

// classLabelStatistics counts per-class frequencies, keyed by class name.
// Every declared class appears, even with a zero count. The NoLabelValue
// sentinel is counted separately.
func classLabelStatistics(values []int64, nanCount int64, classNames []string) *CategoricalStatistics {
	nSamples := int64(len(values)) + nanCount

	var noLabelCount int64
	counts := make(map[int64]int64, len(classNames))
	for _, v := range values {
		if v == NoLabelValue {
			noLabelCount++
			continue
		}
		counts[v]++
	}

	freqs := make(map[string]int64, len(classNames))
	for id, name := range classNames {
		freqs[name] = counts[int64(id)]
	}

	return &CategoricalStatistics{
		NanCount:          nanCount,
		NanProportion:     proportion(nanCount, nSamples),
		NoLabelCount:      noLabelCount,
		NoLabelProportion: proportion(noLabelCount, nSamples),
		NUnique:           len(classNames),
		Frequencies:       freqs,
	}
}

// stringStatistics classifies a string column by cardinality: up to
// MaxNumStringLabels distinct non-null values it is a label column with
// per-value frequencies, above that a free-text column described by the
// distribution of its value lengths.
func stringStatistics(name string, values []string, nanCount int64) *ColumnStatistics {
	nSamples := int64(len(values)) + nanCount

	freqs := map[string]int64{}
	for _, v := range values {
		freqs[v]++
	}

	if len(freqs) <= MaxNumStringLabels {
		return &ColumnStatistics{
			ColumnName: name,
			ColumnType: StatsStringLabel,
			Statistics: &CategoricalStatistics{
				NanCount:      nanCount,
				NanProportion: proportion(nanCount, nSamples),
				NUnique:       len(freqs),
				Frequencies:   freqs,
			},
		}
	}

	lengths := make([]float64, len(values))
	for i, v := range values {
		lengths[i] = float64(len([]rune(v)))
	}

	return &ColumnStatistics{
		ColumnName: name,
		ColumnType: StatsStringText,
		Statistics: numericalStatistics(lengths, nanCount, StatsInt),
	}
}

func proportion(count, total int64) float64 {
	if count == 0 || total == 0 {
		return 0.0
	}

	return roundTo(float64(count)/float64(total), statsDecimals)
}

func roundTo(v float64, decimals int) float64 {
	factor := math.Pow10(decimals)

	return math.Round(v*factor) / factor
}

func scanFloatColumn(
	ctx context.Context, d types.Querier, tableName, colName string,
) (values []float64, nanCount int64, err error) {
	rows, err := d.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s`, quoteIdent(colName), quoteIdent(tableName)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed querying column: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v sql.Null[float64]
		if err = rows.Scan(&v); err != nil {
			return nil, 0, types.ScanError{ModelName: "column value", Err: err}
		}
		if !v.Valid {
			nanCount++
			continue
		}
		values = append(values, v.V)
	}

	//nolint:wrapcheck // This is fine.
	return values, nanCount, rows.Err()
}

func scanIntColumn(
	ctx context.Context, d types.Querier, tableName, colName string,
) (values []int64, nanCount int64, err error) {
	rows, err := d.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s`, quoteIdent(colName), quoteIdent(tableName)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed querying column: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v sql.Null[int64]
		if err = rows.Scan(&v); err != nil {
			return nil, 0, types.ScanError{ModelName: "column value", Err: err}
		}
		if !v.Valid {
			nanCount++
			continue
		}
		values = append(values, v.V)
	}

	//nolint:wrapcheck // This is fine.
	return values, nanCount, rows.Err()
}

func scanStringColumn(
	ctx context.Context, d types.Querier, tableName, colName string,
) (values []string, nanCount int64, err error) {
	rows, err := d.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s`, quoteIdent(colName), quoteIdent(tableName)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed querying column: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v sql.Null[string]
		if err = rows.Scan(&v); err != nil {
			return nil, 0, types.ScanError{ModelName: "column value", Err: err}
		}
		if !v.Valid {
			nanCount++
			continue
		}
		values = append(values, v.V)
	}

	//nolint:wrapcheck // This is fine.
	return values, nanCount, rows.Err()
}
