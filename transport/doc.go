// Package transport performs the requests a connectreq.Coordinator issues.
//
// An [Executor] is a connectreq.Gateway. Every issued dispatch is fetched on
// its own goroutine with a [FetchFunc], typically [HTTPFetch]. Implicit
// requests that share a key while one is in flight share a single fetch;
// forced requests always fetch. Cancelling a key aborts every in-flight
// fetch for it, and a cancelled dispatch is never signalled.
//
// Once a fetch finishes, the config's Transform runs, then the dispatch's
// pre-commit hook, then the commit sink configured with [WithCommit]:
//
//	exec := transport.NewExecutor(transport.HTTPFetch(nil),
//		transport.WithRetry(3, 200*time.Millisecond),
//		transport.WithCommit(func(c transport.Commit) { ... }),
//	)
//	defer exec.Close(ctx)
//
//	c := connectreq.New(derive, exec)
package transport
