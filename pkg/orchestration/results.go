package orchestration

// ResultSource is anything exposing boxed result-node outputs.
type ResultSource interface {
	ResultsAny() []any
}

// ResultsAs returns the collected outputs of src as []T. It reports false when any
// output is not a T.
func ResultsAs[T any](src ResultSource) ([]T, bool) {
	raw := src.ResultsAny()
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		t, err := cast[T](v)
		if err != nil {
			return nil, false
		}
		out = append(out, t)
	}
	return out, true
}
