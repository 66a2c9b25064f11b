// Package runner orchestrates one fetchpush run.
//
// A run takes the items of a manifest, optionally filters them against the
// ledger (resume) or against the remote side (checkfirst), and transfers them
// with one transfer.Pool per method. Pools run sequentially:
//
//	DELETE -> GET -> HEAD -> PUT
//
// After the pools, completed uploads can be verified with HEAD probes.
//
// # Ledger
//
// Transfer runs always record a snapshot of every tracked item and flush the
// ledger before Run returns, including when the context is cancelled or
// requests fail. Dry and check-only runs leave the ledger untouched.
//
// # Errors
//
// Requests still failing after all retries produce a *FailedError (matching
// ErrTransferFailed). Verification mismatches produce an error matching
// integrity.ErrMismatch. Both may be joined.
package runner
