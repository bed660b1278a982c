package calling

import (
	"context"

	"callkit/internal/calls"
	"callkit/internal/rtc"
)

// The orchestrator is also the EventSink for its media engine. Media
// events carry uids; they are remapped to accounts through the session's
// member map before surfacing.

var _ rtc.EventSink = (*Orchestrator)(nil)

func (o *Orchestrator) HandlePeerOnline(ev rtc.PeerEvent) {
	o.mu.Lock()
	defer o.unlockAndFlush()
	if o.sess.Channel == nil {
		return
	}
	account := o.accountForLocked(ev.UID)
	o.sess.markStarted(account, o.clock())
	o.emitLocked(Event{Kind: EventUserEntered, Account: account})
}

func (o *Orchestrator) HandlePeerLeave(ev rtc.PeerEvent) {
	o.mu.Lock()
	defer o.unlockAndFlush()
	if o.sess.Channel == nil {
		return
	}
	kind := EventUserLeft
	if ev.Reason == rtc.LeaveDropped {
		kind = EventUserDisconnected
	}
	o.emitLocked(Event{Kind: kind, Account: o.accountForLocked(ev.UID)})
}

// HandleStreamAdded subscribes to every remote stream as it appears.
func (o *Orchestrator) HandleStreamAdded(ev rtc.StreamEvent) {
	cfg := rtc.StreamConfig{Audio: ev.Stream.HasAudio(), Video: ev.Stream.HasVideo()}
	if err := o.eng.Subscribe(context.Background(), ev.Stream, cfg); err != nil {
		o.log.Warn("subscribe failed", "uid", ev.Stream.UID(), "error", err)
	}
}

func (o *Orchestrator) HandleStreamRemoved(ev rtc.StreamEvent) {
	ev.Stream.Stop()
	o.mu.Lock()
	defer o.unlockAndFlush()
	account := o.accountForLocked(ev.Stream.UID())
	// Camera availability only means something on a video call.
	if o.sess.CallType == calls.CallTypeVideo {
		o.emitLocked(Event{Kind: EventCameraAvailable, Account: account, Available: false})
	}
	if ev.Stream.HasAudio() {
		o.emitLocked(Event{Kind: EventAudioAvailable, Account: account, Available: false})
	}
}

func (o *Orchestrator) HandleStreamSubscribed(ev rtc.StreamEvent) {
	o.mu.Lock()
	defer o.unlockAndFlush()
	account := o.accountForLocked(ev.Stream.UID())
	if o.sess.CallType == calls.CallTypeVideo {
		o.emitLocked(Event{Kind: EventCameraAvailable, Account: account, Available: true})
	}
	if ev.Stream.HasAudio() {
		o.emitLocked(Event{Kind: EventAudioAvailable, Account: account, Available: true})
	}
}

func (o *Orchestrator) HandleNetworkQuality(stats []rtc.NetworkStats) {
	o.mu.Lock()
	defer o.unlockAndFlush()
	mapped := make([]rtc.NetworkStats, len(stats))
	for i, st := range stats {
		st.UID = o.accountForLocked(st.UID)
		mapped[i] = st
	}
	o.emitLocked(Event{Kind: EventNetworkQuality, Stats: mapped})
}

// HandleConnectionChange tears the session down when media drops for
// good. The signaling channel cannot carry a call without media.
func (o *Orchestrator) HandleConnectionChange(state rtc.ConnectionState) {
	if state != rtc.ConnectionDisconnected {
		return
	}
	o.mu.Lock()
	defer o.unlockAndFlush()
	if o.sess.Status == StatusIdle {
		return
	}
	channelID := o.sess.channelID()
	o.sess.reset()
	o.execLocked(context.Background(), []command{
		cmdTeardown{ChannelID: channelID},
	})
	o.emitLocked(Event{Kind: EventDisconnected, ChannelID: channelID})
}

// accountForLocked maps a media uid to its signaling account, falling
// back to the raw uid for members that never announced themselves.
func (o *Orchestrator) accountForLocked(uid string) string {
	if a := o.sess.accountOf(uid); a != "" {
		return a
	}
	return uid
}
