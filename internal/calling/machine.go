package calling

import (
	"callkit/internal/calls"
	"callkit/internal/signaling"
)

// The transition core is pure: reducers take the session plus one inbound
// notification, mutate the session, and return the side effects to run as
// commands. No reducer performs I/O, so every interleaving is testable
// with a bare Session.

type command interface{ isCmd() }

type cmdEmit struct{ Event Event }

// cmdJoinMedia joins the media channel for the current call.
type cmdJoinMedia struct {
	ChannelName string
	Type        calls.CallType
}

// cmdSendControl sends an in-channel control message.
type cmdSendControl struct {
	ChannelID string
	To        string
	Op        signaling.ControlOp
	Type      calls.CallType
}

// cmdRejectBusy auto-rejects a second inviter with the busy marker.
type cmdRejectBusy struct {
	ChannelID string
	Account   string
	RequestID string
}

// cmdArmCalleeTimer starts the auto-reject countdown for an inbound invite.
type cmdArmCalleeTimer struct{ RequestID string }

// cmdTeardown runs the best-effort cleanup for a finished round. The
// payload is captured before the reducer resets the session, so the
// executor never reads live state.
type cmdTeardown struct {
	ChannelID    string
	Type         calls.CallType
	LeaveMedia   bool
	CloseChannel bool

	// SummaryTo, when set, requests an end-of-call summary before cleanup.
	SummaryTo string
	Reason    calls.EndReason
	Parties   []calls.PartyDuration
}

type cmdDisableVideo struct{}

func (cmdEmit) isCmd()           {}
func (cmdJoinMedia) isCmd()      {}
func (cmdSendControl) isCmd()    {}
func (cmdRejectBusy) isCmd()     {}
func (cmdArmCalleeTimer) isCmd() {}
func (cmdTeardown) isCmd()       {}
func (cmdDisableVideo) isCmd()   {}

// reduceNotify applies one online signaling notification. Events that fail
// their guards are dropped without side effects; stale transitions must
// not disturb a session that has already moved on.
func reduceNotify(s *Session, self string, ev signaling.ChannelEvent) []command {
	switch ev.Type {
	case signaling.EventInvite:
		return reduceInvite(s, ev)
	case signaling.EventCancelInvite:
		return reduceCancel(s, ev)
	case signaling.EventReject:
		return reduceReject(s, self, ev)
	case signaling.EventAccept:
		return reduceAccept(s, self, ev)
	case signaling.EventControl:
		return reduceControl(s, ev)
	case signaling.EventRoomJoin:
		for _, m := range ev.Members {
			if s.channelID() == ev.ChannelID {
				s.addUser(m.UID, m.Account)
			}
		}
		return nil
	case signaling.EventRoomClose:
		return reduceRoomClose(s, ev)
	default:
		return nil
	}
}

func reduceInvite(s *Session, ev signaling.ChannelEvent) []command {
	if s.Status != StatusIdle {
		// Occupied: auto-reject with the busy marker so the inviter can
		// tell this apart from a decline. Local state is untouched.
		return []command{cmdRejectBusy{
			ChannelID: ev.ChannelID,
			Account:   ev.From,
			RequestID: ev.RequestID,
		}}
	}
	s.Status = StatusCalled
	s.CallType = ev.CallType
	s.GroupCall = ev.GroupCall
	s.GroupID = ev.GroupID
	s.Inviter = &InviterInfo{
		Account:     ev.From,
		ChannelID:   ev.ChannelID,
		ChannelName: ev.ChannelName,
		RequestID:   ev.RequestID,
		CallType:    ev.CallType,
		GroupCall:   ev.GroupCall,
	}
	return []command{
		cmdArmCalleeTimer{RequestID: ev.RequestID},
		cmdEmit{Event{
			Kind:      EventInvited,
			Account:   ev.From,
			ChannelID: ev.ChannelID,
			RequestID: ev.RequestID,
			CallType:  ev.CallType,
			GroupCall: ev.GroupCall,
			Accounts:  ev.CallUserList,
		}},
	}
}

func reduceCancel(s *Session, ev signaling.ChannelEvent) []command {
	if s.Status != StatusCalled || s.Inviter == nil {
		return nil
	}
	if s.Inviter.RequestID != ev.RequestID || s.Inviter.Account != ev.From {
		return nil
	}
	s.reset()
	return []command{cmdEmit{Event{
		Kind:      EventUserCancelled,
		Account:   ev.From,
		ChannelID: ev.ChannelID,
		RequestID: ev.RequestID,
	}}}
}

func reduceReject(s *Session, self string, ev signaling.ChannelEvent) []command {
	if !s.awaitingResponses() {
		return nil
	}
	// Responses must match both the live round and the addressed identity.
	if ev.RequestID != s.RequestID || ev.To != self {
		return nil
	}
	if _, ok := s.Pending[ev.From]; !ok {
		return nil
	}
	delete(s.Pending, ev.From)

	kind := EventUserRejected
	if ev.Busy {
		kind = EventUserBusy
	}
	emit := cmdEmit{Event{
		Kind:      kind,
		Account:   ev.From,
		ChannelID: ev.ChannelID,
		RequestID: ev.RequestID,
		Busy:      ev.Busy,
	}}

	if !s.GroupCall {
		reason := calls.EndRejected
		if ev.Busy {
			reason = calls.EndBusy
		}
		td := cmdTeardown{
			ChannelID:    s.channelID(),
			Type:         s.CallType,
			CloseChannel: true,
			SummaryTo:    ev.From,
			Reason:       reason,
			Parties:      append([]calls.PartyDuration(nil), s.Durations...),
		}
		s.reset()
		return []command{emit, td}
	}

	if len(s.Pending) == 0 && s.Status == StatusCalling {
		// Every callee declined before anyone accepted.
		td := cmdTeardown{
			ChannelID:    s.channelID(),
			Type:         s.CallType,
			LeaveMedia:   true,
			CloseChannel: true,
		}
		s.reset()
		return []command{emit, td, cmdEmit{Event{Kind: EventCallEnded}}}
	}
	return []command{emit}
}

func reduceAccept(s *Session, self string, ev signaling.ChannelEvent) []command {
	if !s.awaitingResponses() {
		return nil
	}
	if ev.RequestID != s.RequestID || ev.To != self {
		return nil
	}
	if _, ok := s.Pending[ev.From]; !ok {
		return nil
	}
	delete(s.Pending, ev.From)
	s.Status = StatusInCall

	emit := cmdEmit{Event{
		Kind:      EventUserAccepted,
		Account:   ev.From,
		ChannelID: ev.ChannelID,
		RequestID: ev.RequestID,
	}}
	if s.GroupCall {
		// Group callers are already in media.
		return []command{emit}
	}
	// Two-phase join, caller side: join media now, then tell the callee
	// the round has completed so it may join too.
	s.Durations = append(s.Durations, calls.PartyDuration{Account: ev.From})
	return []command{
		emit,
		cmdJoinMedia{ChannelName: s.Channel.ChannelName, Type: s.CallType},
		cmdSendControl{ChannelID: s.channelID(), To: ev.From, Op: signaling.ControlMediaReady},
	}
}

func reduceControl(s *Session, ev signaling.ChannelEvent) []command {
	if s.channelID() == "" || s.channelID() != ev.ChannelID {
		return nil
	}
	switch ev.Control {
	case signaling.ControlMediaReady:
		// Callee side of the two-phase join.
		if s.GroupCall || s.Status != StatusInCall {
			return nil
		}
		return []command{cmdJoinMedia{ChannelName: s.Channel.ChannelName, Type: s.CallType}}
	case signaling.ControlSwitchType:
		// Only downgrades are allowed: video calls may drop to audio.
		if s.CallType != calls.CallTypeVideo || ev.CallType != calls.CallTypeAudio {
			return nil
		}
		s.CallType = calls.CallTypeAudio
		return []command{
			cmdDisableVideo{},
			cmdEmit{Event{Kind: EventCallTypeChanged, Account: ev.From, CallType: calls.CallTypeAudio}},
		}
	default:
		return nil
	}
}

func reduceRoomClose(s *Session, ev signaling.ChannelEvent) []command {
	if s.channelID() == "" || s.channelID() != ev.ChannelID {
		return nil
	}
	td := cmdTeardown{
		ChannelID:  s.channelID(),
		Type:       s.CallType,
		LeaveMedia: s.Status == StatusInCall || s.GroupCall,
	}
	s.reset()
	return []command{td, cmdEmit{Event{Kind: EventCallEnded, ChannelID: ev.ChannelID}}}
}

// reduceSync applies a multi-device sync notification: the same account
// answered an invite on another device, so this device stands down without
// touching signaling.
func reduceSync(s *Session, ev signaling.ChannelEvent) []command {
	if s.Status == StatusIdle {
		return nil
	}
	var kind EventKind
	switch ev.Type {
	case signaling.EventAccept:
		kind = EventOtherDeviceAccepted
	case signaling.EventReject:
		kind = EventOtherDeviceRejected
	default:
		return nil
	}
	// Cross-round noise is dropped only when this device can still tell the
	// rounds apart. A device that already answered locally has cleared its
	// inviter and must stand down regardless.
	if known := s.syncChannel(); known != "" && ev.ChannelID != "" && known != ev.ChannelID {
		return nil
	}
	s.reset()
	return []command{cmdEmit{Event{Kind: kind, ChannelID: ev.ChannelID}}}
}

// pickReplayInvite applies the offline replay policy to a queued batch:
// only the newest invite per batch is acted on, and only when no queued
// reject shares its correlator. Events whose channel no longer exists are
// dropped outright.
func pickReplayInvite(events []signaling.ChannelEvent) (signaling.ChannelEvent, bool) {
	rejected := make(map[string]struct{})
	for _, ev := range events {
		if ev.Type == signaling.EventReject || ev.Type == signaling.EventCancelInvite {
			rejected[ev.RequestID] = struct{}{}
		}
	}
	var best signaling.ChannelEvent
	found := false
	for _, ev := range events {
		if ev.Type != signaling.EventInvite || ev.ChannelInvalid {
			continue
		}
		if _, ok := rejected[ev.RequestID]; ok {
			continue
		}
		if !found || ev.ChannelCreatedAt.After(best.ChannelCreatedAt) {
			best = ev
			found = true
		}
	}
	return best, found
}
