package catalog

// Feature is the wire representation of one column, as returned by the
// /first-rows, /rows, /search and /filter endpoints.
type Feature struct {
	FeatureIdx int            `json:"feature_idx"`
	Name       string         `json:"name"`
	Type       map[string]any `json:"type"`
}

// Features converts a split schema into its wire representation.
func Features(columns []*Column) []Feature {
	features := make([]Feature, len(columns))
	for i, col := range columns {
		var ftype map[string]any
		if col.Type == ColumnClassLabel {
			ftype = map[string]any{
				"names": col.ClassNames,
				"_type": "ClassLabel",
			}
		} else {
			ftype = map[string]any{
				"dtype": dtype(col.Type),
				"_type": "Value",
			}
		}
		features[i] = Feature{FeatureIdx: i, Name: col.Name, Type: ftype}
	}

	return features
}

func dtype(ct ColumnType) string {
	switch ct {
	case ColumnInt:
		return "int64"
	case ColumnFloat:
		return "float64"
	case ColumnBool:
		return "bool"
	default:
		return "string"
	}
}
