package calls

import "time"

// CallType classifies the media of a call. It is fixed for the lifetime of a
// channel unless an explicit type-switch control arrives.
type CallType int

const (
	CallTypeAudio CallType = 1
	CallTypeVideo CallType = 2
	CallTypeOther CallType = 3
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo || t == CallTypeOther
}

func (t CallType) String() string {
	switch t {
	case CallTypeAudio:
		return "audio"
	case CallTypeVideo:
		return "video"
	case CallTypeOther:
		return "other"
	default:
		return "unknown"
	}
}

// EndReason describes why a call round ended, as carried by the end-of-call
// accounting summary.
type EndReason string

const (
	EndComplete EndReason = "complete"
	EndCanceled EndReason = "canceled"
	EndRejected EndReason = "rejected"
	EndTimeout  EndReason = "timeout"
	EndBusy     EndReason = "busy"
)

// Code returns the numeric status carried on the summary payload so every
// platform client renders the same end-of-call message.
func (r EndReason) Code() int {
	switch r {
	case EndComplete:
		return 1
	case EndCanceled:
		return 2
	case EndRejected:
		return 3
	case EndTimeout:
		return 4
	case EndBusy:
		return 5
	default:
		return 0
	}
}

func (r EndReason) Valid() bool { return r.Code() != 0 }

// PartyDuration tracks when a participant's media started flowing.
// ElapsedSeconds is derived at summary time; StartedAt stays zero for parties
// that never reached media.
type PartyDuration struct {
	Account        string    `json:"account" db:"account"`
	StartedAt      time.Time `json:"started_at,omitempty" db:"started_at"`
	ElapsedSeconds int       `json:"elapsed_seconds" db:"elapsed_seconds"`
}

// CallRecord is the persisted accounting record for one finished call round.
//
// Invariants:
// - Records are append-only; there is no update path.
// - ChannelID and Reason are required.
// - Parties must be non-empty: a record without durations is a precondition
//   violation at the orchestrator, not something repaired here.
type CallRecord struct {
	ID        string          `json:"id" db:"id"`
	ChannelID string          `json:"channel_id" db:"channel_id"`
	Type      CallType        `json:"type" db:"type"`
	Reason    EndReason       `json:"reason" db:"reason"`
	Caller    string          `json:"caller" db:"caller"`
	Callee    string          `json:"callee,omitempty" db:"callee"`
	Parties   []PartyDuration `json:"parties" db:"parties"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
