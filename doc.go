// Package connectreq coordinates the request lifecycle of a component whose
// data dependencies are derived from its inputs.
//
// A [Deriver] maps the current inputs to named [QueryConfig] values. Each
// config is identified by a [QueryKey] computed with [KeyOf]. A [Coordinator]
// issues request commands through a [Gateway] when it attaches, re-derives on
// every input change and only re-requests names whose key changed, and
// cancels everything it still owns when it detaches:
//
//	derive := connectreq.Single(func(in Props) *connectreq.QueryConfig {
//		return &connectreq.QueryConfig{URL: "/users/" + in.UserID}
//	})
//
//	c := connectreq.New(derive, gateway)
//	err := c.Attach(props)
//	...
//	err = c.Update(props, nextProps)
//	...
//	c.Detach()
//
// [Coordinator.ForceRequest] re-issues every derived config with Force set,
// bypassing transport-side dedup. It returns a [Settlement] that completes
// once the transport has signalled each forced command through
// [Dispatch.PreCommit]. Overlapping forced calls against the same key are
// settled strictly in call order by a [ResolverQueue].
//
// The transport subpackage provides a [Gateway] that performs the fetches,
// and the querytest subpackage provides a recording gateway for tests.
package connectreq
