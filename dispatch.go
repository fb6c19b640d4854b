package connectreq

import "sync"

// CommandType distinguishes the commands sent to a Gateway.
type CommandType string

const (
	// CommandRequest asks the transport to fetch a query.
	CommandRequest CommandType = "request"
	// CommandCancel asks the transport to abandon a query.
	CommandCancel CommandType = "cancel"
)

// Dispatch is a request command handed to a Gateway. The gateway, or the
// transport behind it, calls PreCommit once the command's outcome is known
// and before that outcome is otherwise observable.
type Dispatch struct {
	ID     string
	Type   CommandType
	Name   string
	Key    QueryKey
	Config QueryConfig

	once      sync.Once
	preCommit func(err error)
}

// NewDispatch builds a request command. hook may be nil.
func NewDispatch(id, name string, key QueryKey, cfg QueryConfig, hook func(err error)) *Dispatch {
	return &Dispatch{
		ID:        id,
		Type:      CommandRequest,
		Name:      name,
		Key:       key,
		Config:    cfg,
		preCommit: hook,
	}
}

// PreCommit signals that the command has completed, successfully when err is
// nil. Only the first call has an effect.
func (d *Dispatch) PreCommit(err error) {
	d.once.Do(func() {
		if d.preCommit != nil {
			d.preCommit(err)
		}
	})
}

// Gateway is the boundary to the transport that performs requests.
//
// Issue must not block. Cancel must tolerate keys the transport does not
// know about.
type Gateway interface {
	Issue(d *Dispatch)
	Cancel(key QueryKey)
}
