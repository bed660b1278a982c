package calling

import (
	"time"

	"callkit/internal/calls"
	"callkit/internal/signaling"
)

// Status is the call session state.
type Status int

const (
	StatusIdle Status = iota
	StatusCalling
	StatusCalled
	StatusInCall
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusCalling:
		return "calling"
	case StatusCalled:
		return "called"
	case StatusInCall:
		return "inCall"
	default:
		return "unknown"
	}
}

// InviterInfo carries the identity needed to accept or reject an inbound
// invite. Present only while Status is called; cleared as soon as the
// accept or reject resolves, success or failure, so stale rounds cannot
// replay.
type InviterInfo struct {
	Account     string
	ChannelID   string
	ChannelName string
	RequestID   string
	CallType    calls.CallType
	GroupCall   bool
}

// Session is the single live call record. It is owned by the Orchestrator
// and mutated only under its lock; Snapshot returns a detached copy.
type Session struct {
	Status    Status
	Channel   *signaling.ChannelInfo
	CallType  calls.CallType
	GroupCall bool
	GroupID   string

	// RequestID correlates one invitation round: the same value rides on
	// the invite and on every cancel/accept/reject answering it.
	RequestID string

	// Pending holds remote accounts still expected to answer the current
	// round. Emptied on every terminal transition.
	Pending map[string]struct{}

	Inviter *InviterInfo

	// Users maps media uid to signaling account and back.
	Users    map[string]string
	Accounts map[string]string

	// Durations records per-participant media start times for the
	// end-of-call summary.
	Durations []calls.PartyDuration
}

func newSession() *Session {
	return &Session{
		Pending:  make(map[string]struct{}),
		Users:    make(map[string]string),
		Accounts: make(map[string]string),
	}
}

// reset clears every field at once. Nothing observes a partially cleared
// session.
func (s *Session) reset() {
	*s = *newSession()
}

func (s *Session) channelID() string {
	if s.Channel == nil {
		return ""
	}
	return s.Channel.ChannelID
}

func (s *Session) addUser(uid, account string) {
	if uid == "" || account == "" {
		return
	}
	s.Users[uid] = account
	s.Accounts[account] = uid
}

func (s *Session) accountOf(uid string) string { return s.Users[uid] }

// syncChannel is the channel a multi-device sync notification should be
// matched against, empty when no channel is known yet.
func (s *Session) syncChannel() string {
	if s.Inviter != nil {
		return s.Inviter.ChannelID
	}
	return s.channelID()
}

// awaitingResponses reports whether invite responses may still arrive.
// Group rounds keep fielding accepts and rejects after the first accept
// moved the session to inCall; a 1:1 round is answered exactly once.
func (s *Session) awaitingResponses() bool {
	if s.Status == StatusCalling {
		return true
	}
	return s.GroupCall && s.Status == StatusInCall
}

// markStarted stamps a duration start for account, once.
func (s *Session) markStarted(account string, now time.Time) {
	for i := range s.Durations {
		if s.Durations[i].Account == account {
			if s.Durations[i].StartedAt.IsZero() {
				s.Durations[i].StartedAt = now
			}
			return
		}
	}
	s.Durations = append(s.Durations, calls.PartyDuration{Account: account, StartedAt: now})
}

func (s *Session) pendingList() []string {
	out := make([]string, 0, len(s.Pending))
	for a := range s.Pending {
		out = append(out, a)
	}
	return out
}

// Snapshot is the externally visible view of the session.
type Snapshot struct {
	Status    string                `json:"status"`
	ChannelID string                `json:"channel_id,omitempty"`
	CallType  calls.CallType        `json:"call_type,omitempty"`
	GroupCall bool                  `json:"group_call"`
	RequestID string                `json:"request_id,omitempty"`
	Pending   []string              `json:"pending,omitempty"`
	Inviter   string                `json:"inviter,omitempty"`
	Durations []calls.PartyDuration `json:"durations,omitempty"`
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		Status:    s.Status.String(),
		ChannelID: s.channelID(),
		CallType:  s.CallType,
		GroupCall: s.GroupCall,
		RequestID: s.RequestID,
		Pending:   s.pendingList(),
		Durations: append([]calls.PartyDuration(nil), s.Durations...),
	}
	if s.Inviter != nil {
		snap.Inviter = s.Inviter.Account
	}
	return snap
}
