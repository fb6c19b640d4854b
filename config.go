package connectreq

// QueryKey identifies a query for deduplication and diffing.
type QueryKey string

// Entities holds the normalized result of a transformed response, keyed by
// entity name.
type Entities map[string]any

// TransformFunc turns a raw response body into entities.
type TransformFunc func(body []byte, status int) (Entities, error)

// UpdateFunc merges a freshly transformed entity into its previous value.
type UpdateFunc func(prev, next any) any

// QueryConfig describes one fetch operation derived from a component's
// inputs. Only URL, Body and Options contribute to its key.
type QueryConfig struct {
	URL     string
	Body    []byte
	Options map[string]any
	Meta    map[string]any

	Transform TransformFunc
	Update    map[string]UpdateFunc

	// QueryKey overrides the key computed from URL, Body and Options.
	QueryKey QueryKey

	// Force and Retry are set by the Coordinator on every dispatched
	// config: implicit requests retry, forced requests do not.
	Force bool
	Retry bool
}

// Configs maps a query name to its config. A nil config means the query
// is absent.
type Configs map[string]*QueryConfig

// withFlags returns a copy of the config with the given dispatch flags.
func (c QueryConfig) withFlags(force, retry bool) QueryConfig {
	c.Force = force
	c.Retry = retry
	return c
}
