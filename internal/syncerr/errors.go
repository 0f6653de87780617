// Package syncerr defines the kinds of failure a synchronization run can end with.
package syncerr

import "errors"

var (
	// ErrConnection is a local resource failure (database, transport setup).
	ErrConnection = errors.New("connection failure")
	// ErrTooFewEvents means a peer's event stream ended before the declared event count.
	ErrTooFewEvents = errors.New("too few events")
	// ErrTooManyEvents means a peer's event stream continued past the declared event count.
	ErrTooManyEvents = errors.New("too many events")
	// ErrHeaderContinuity means a header does not extend the previous one.
	ErrHeaderContinuity = errors.New("header continuity violation")
	// ErrHeaderHashMismatch means a header's hash does not match its contents.
	ErrHeaderHashMismatch = errors.New("header hash mismatch")
	// ErrCommitmentMismatch means a block's events do not match the header's event commitment.
	ErrCommitmentMismatch = errors.New("event commitment mismatch")
	// ErrStreamDivergence means the header and event streams of a join fell out of step.
	ErrStreamDivergence = errors.New("header and event streams diverged")
	// ErrNoPeerAvailable means no peer offered the events of a block within the wait timeout.
	ErrNoPeerAvailable = errors.New("no peer available")
)

var kinds = []struct {
	err   error
	label string
}{
	{ErrConnection, "connection"},
	{ErrTooFewEvents, "too_few_events"},
	{ErrTooManyEvents, "too_many_events"},
	{ErrHeaderContinuity, "header_continuity"},
	{ErrHeaderHashMismatch, "header_hash_mismatch"},
	{ErrCommitmentMismatch, "commitment_mismatch"},
	{ErrStreamDivergence, "stream_divergence"},
	{ErrNoPeerAvailable, "no_peer_available"},
}

// Kind returns a stable label for the kind of err, or "unknown".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "unknown"
}
