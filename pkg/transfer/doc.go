// Package transfer implements batched, retried HTTP transfers of local files.
//
// An Item describes one transfer: a method, a URL and a local path. Items
// sharing a method are collected into a Pool, which runs them through a
// simple congestion back-off:
//
//	round 0:   all pending items, concurrency = limit
//	round 1:   after a cooldown, concurrency = max(1, limit/2)
//	round 2+:  after a cooldown, serial
//
// Each round is a barrier: every request of the round finishes before the
// pool decides what to retry. Only failed items are re-issued. The pool stops
// once nothing is pending or MaxRetries retry rounds have been spent; items
// still failing are reported in Result.Failed with their last Outcome.
//
// # Usage
//
//	pool, err := transfer.NewPool(transfer.MethodPut, transfer.PoolOptions{
//	    Limit:      200,
//	    MaxRetries: 3,
//	    Client:     client,
//	})
//	pool.Add(items...)
//	res, err := pool.Run(ctx)
//	for _, f := range res.Failed {
//	    fmt.Println(f.Item.URL, f.Outcome.StatusCode)
//	}
//
// # Outcomes
//
// An Executor never returns an error. Every attempt produces an Outcome whose
// Err wraps ErrLocalIO, ErrTransport or ErrHTTPStatus. A transport failure has
// StatusCode 0. Only 200 and 201 count as success.
package transfer
