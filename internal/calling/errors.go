package calling

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusy reports an outbound or inbound operation attempted while the
	// session is occupied by another call.
	ErrBusy = errors.New("calling: session busy")

	// ErrNoActiveCall reports an operation that needs a live channel while
	// the session is idle.
	ErrNoActiveCall = errors.New("calling: no active call")

	// ErrNoPendingInvite reports accept/reject without a stored inviter.
	ErrNoPendingInvite = errors.New("calling: no pending invite")

	ErrInvalidCallType = errors.New("calling: invalid call type")
	ErrNoCallees       = errors.New("calling: no callees given")

	// ErrAllInvitesFailed reports that every fan-out target failed with a
	// non-offline error, so the round was aborted.
	ErrAllInvitesFailed = errors.New("calling: all invites failed")

	// ErrSwitchUnsupported reports a call-type switch the protocol does not
	// allow. Only video to audio downgrades are supported.
	ErrSwitchUnsupported = errors.New("calling: unsupported call type switch")

	// ErrNoDurations reports a summary send attempted with no duration
	// records. This is a precondition violation, not a transport fault.
	ErrNoDurations = errors.New("calling: no duration records for summary")
)

// PartialFailureError enumerates fan-out targets that failed with a
// non-offline error while the round as a whole proceeded.
type PartialFailureError struct {
	Op       string
	Accounts []string
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("calling: %s partially failed for [%s]", e.Op, strings.Join(e.Accounts, ", "))
}
