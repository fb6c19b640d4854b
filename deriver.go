package connectreq

import "strconv"

// Deriver maps a component's inputs to its query configs. It must be pure:
// the coordinator calls it on attach, on every input change and on every
// forced request.
type Deriver[I any] func(inputs I) (Configs, error)

// Single adapts a function that yields at most one config. The config is
// named "0"; a nil config yields no queries.
func Single[I any](fn func(inputs I) *QueryConfig) Deriver[I] {
	return func(inputs I) (Configs, error) {
		cfg := fn(inputs)
		if cfg == nil {
			return Configs{}, nil
		}
		return Configs{"0": cfg}, nil
	}
}

// List adapts a function that yields a list of configs. Each config is
// named after its index; nil entries are absent.
func List[I any](fn func(inputs I) []*QueryConfig) Deriver[I] {
	return func(inputs I) (Configs, error) {
		cfgs := fn(inputs)
		out := make(Configs, len(cfgs))
		for i, cfg := range cfgs {
			if cfg != nil {
				out[strconv.Itoa(i)] = cfg
			}
		}
		return out, nil
	}
}
