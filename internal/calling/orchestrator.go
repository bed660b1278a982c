package calling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"callkit/internal/calls"
	"callkit/internal/rtc"
	"callkit/internal/signaling"
	"callkit/pkg/logger"
)

// TokenSource mints a media room token for uid on channel.
type TokenSource func(uid, channel string) (string, error)

// Recorder persists end-of-call accounting records.
type Recorder interface {
	Record(ctx context.Context, rec calls.CallRecord) error
}

// Config carries the identity and timing knobs for one orchestrator.
type Config struct {
	// Account is the local signaling identity.
	Account string
	// UID is the local media identity. Defaults to a random id.
	UID string
	// CallTimeout arms the caller auto-cancel and callee auto-reject.
	// Zero disables both.
	CallTimeout time.Duration
}

// Orchestrator owns the single live call session. It serializes local
// operations and inbound notifications against one mutex, runs reducer
// commands, and emits domain events after the lock is released.
type Orchestrator struct {
	gw      signaling.Gateway
	eng     rtc.Engine
	emitter *Emitter
	rec     Recorder
	tokens  TokenSource
	log     *slog.Logger

	self        string
	uid         string
	callTimeout time.Duration

	clock func() time.Time
	after func(d time.Duration, f func())

	mu      sync.Mutex
	sess    *Session
	pending []Event
}

func New(cfg Config, gw signaling.Gateway, eng rtc.Engine, em *Emitter, rec Recorder, tokens TokenSource, log *slog.Logger) *Orchestrator {
	if cfg.UID == "" {
		cfg.UID = uuid.NewString()
	}
	if em == nil {
		em = NewEmitter()
	}
	return &Orchestrator{
		gw:          gw,
		eng:         eng,
		emitter:     em,
		rec:         rec,
		tokens:      tokens,
		log:         log,
		self:        cfg.Account,
		uid:         cfg.UID,
		callTimeout: cfg.CallTimeout,
		clock:       time.Now,
		sess:        newSession(),
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Events exposes the subscription surface.
func (o *Orchestrator) Events() *Emitter { return o.emitter }

// Session returns a detached snapshot of the live session.
func (o *Orchestrator) Session() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.snapshot()
}

// SetCallTimeout configures the caller/callee timeout for future rounds.
func (o *Orchestrator) SetCallTimeout(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callTimeout = d
}

// Call invites one remote account into a fresh 1:1 call.
func (o *Orchestrator) Call(ctx context.Context, callee string, typ calls.CallType) error {
	if !typ.Valid() {
		return ErrInvalidCallType
	}
	if callee == "" || callee == o.self {
		return ErrNoCallees
	}

	o.mu.Lock()
	defer o.unlockAndFlush()

	if o.sess.Status != StatusIdle {
		return ErrBusy
	}
	if err := o.openChannelLocked(ctx, typ); err != nil {
		return err
	}

	s := o.sess
	s.Status = StatusCalling
	s.CallType = typ
	s.GroupCall = false
	s.RequestID = uuid.NewString()
	s.Pending[callee] = struct{}{}
	s.Durations = []calls.PartyDuration{{Account: o.self}}

	err := o.gw.Invite(ctx, signaling.InviteRequest{
		ChannelID: s.channelID(),
		Account:   callee,
		RequestID: s.RequestID,
		Push:      pushFor(o.self, typ),
	})
	if err != nil && !signaling.IsOffline(err) {
		o.execLocked(ctx, []command{cmdTeardown{ChannelID: s.channelID(), CloseChannel: true}})
		o.sess.reset()
		return fmt.Errorf("invite %s: %w", callee, err)
	}

	o.armCallerTimerLocked(s.RequestID)
	return nil
}

// GroupCall invites several accounts concurrently. Offline delivery
// failures count as pending; if every target fails with a real error the
// round is aborted, and a partial failure prunes the failed targets while
// the call proceeds.
func (o *Orchestrator) GroupCall(ctx context.Context, callees []string, typ calls.CallType, groupID string) error {
	if !typ.Valid() {
		return ErrInvalidCallType
	}
	targets := dedupe(callees, o.self)
	if len(targets) == 0 {
		return ErrNoCallees
	}

	o.mu.Lock()
	defer o.unlockAndFlush()

	if o.sess.Status != StatusIdle {
		return ErrBusy
	}
	if err := o.openChannelLocked(ctx, typ); err != nil {
		return err
	}

	s := o.sess
	s.Status = StatusCalling
	s.CallType = typ
	s.GroupCall = true
	s.GroupID = groupID
	s.RequestID = uuid.NewString()
	for _, a := range targets {
		s.Pending[a] = struct{}{}
	}

	// Group calls join media eagerly; only 1:1 rounds defer the join.
	if err := o.joinMediaLocked(ctx, s.Channel.ChannelName, typ); err != nil {
		o.execLocked(ctx, []command{cmdTeardown{ChannelID: s.channelID(), CloseChannel: true}})
		s.reset()
		return err
	}
	s.markStarted(o.self, o.clock())

	failed := o.fanOutInvitesLocked(ctx, s, targets)
	if len(failed) == len(targets) {
		o.execLocked(ctx, []command{cmdTeardown{ChannelID: s.channelID(), LeaveMedia: true, CloseChannel: true}})
		s.reset()
		return ErrAllInvitesFailed
	}
	if len(failed) > 0 {
		for _, a := range failed {
			delete(s.Pending, a)
		}
		perr := &PartialFailureError{Op: "invite", Accounts: failed}
		o.emitLocked(Event{Kind: EventError, ErrKind: ErrKindInvitePartial, Detail: perr.Error(), Accounts: perr.Accounts})
	}

	o.armCallerTimerLocked(s.RequestID)
	return nil
}

func (o *Orchestrator) fanOutInvitesLocked(ctx context.Context, s *Session, targets []string) []string {
	type result struct {
		account string
		err     error
	}
	results := make(chan result, len(targets))
	var wg sync.WaitGroup
	for _, a := range targets {
		wg.Add(1)
		go func(account string) {
			defer wg.Done()
			err := o.gw.Invite(ctx, signaling.InviteRequest{
				ChannelID:    s.channelID(),
				Account:      account,
				RequestID:    s.RequestID,
				Push:         pushFor(o.self, s.CallType),
				GroupCall:    true,
				CallUserList: targets,
				GroupID:      s.GroupID,
			})
			results <- result{account, err}
		}(a)
	}
	wg.Wait()
	close(results)

	log := logger.WithCall(o.log, s.channelID(), s.RequestID)
	var failed []string
	for r := range results {
		if r.err != nil && !signaling.IsOffline(r.err) {
			log.Warn("invite failed", "account", r.account, "error", r.err)
			failed = append(failed, r.account)
		}
	}
	return failed
}

// Cancel withdraws the outstanding invites of the current round.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	defer o.unlockAndFlush()

	s := o.sess
	if s.Status != StatusCalling || s.Channel == nil {
		return ErrNoActiveCall
	}

	if !s.GroupCall {
		var callee string
		for a := range s.Pending {
			callee = a
		}
		if callee != "" {
			if err := o.gw.CancelInvite(ctx, signaling.CancelRequest{
				ChannelID: s.channelID(),
				Account:   callee,
				RequestID: s.RequestID,
			}); err != nil && !signaling.IsOffline(err) {
				// Cancel always completes locally; a recipient that never
				// hears it is surfaced, not blocked on.
				o.log.Warn("cancel failed", "account", callee, "error", err)
				perr := &PartialFailureError{Op: "cancel", Accounts: []string{callee}}
				o.emitLocked(Event{Kind: EventError, ErrKind: ErrKindCancelPartial, Detail: perr.Error(), Accounts: perr.Accounts})
			}
		}
		cmds := []command{cmdTeardown{
			ChannelID:    s.channelID(),
			Type:         s.CallType,
			CloseChannel: true,
			SummaryTo:    callee,
			Reason:       calls.EndCanceled,
			Parties:      append([]calls.PartyDuration(nil), s.Durations...),
		}}
		s.reset()
		o.execLocked(ctx, cmds)
		return nil
	}

	// Group cancel is best-effort per target and never blocks completion;
	// the channel stays open for members already in the call.
	var failed []string
	for _, a := range s.pendingList() {
		if err := o.gw.CancelInvite(ctx, signaling.CancelRequest{
			ChannelID: s.channelID(),
			Account:   a,
			RequestID: s.RequestID,
		}); err != nil && !signaling.IsOffline(err) {
			failed = append(failed, a)
		}
		delete(s.Pending, a)
	}
	if len(failed) > 0 {
		perr := &PartialFailureError{Op: "cancel", Accounts: failed}
		o.emitLocked(Event{Kind: EventError, ErrKind: ErrKindCancelPartial, Detail: perr.Error(), Accounts: perr.Accounts})
	}
	return nil
}

// Accept answers the stored inbound invite. For 1:1 rounds the media join
// waits for the inviter's readiness control; group rounds join at once.
func (o *Orchestrator) Accept(ctx context.Context) error {
	o.mu.Lock()
	defer o.unlockAndFlush()

	s := o.sess
	if s.Status != StatusCalled || s.Inviter == nil {
		return ErrNoPendingInvite
	}
	inv := *s.Inviter
	s.Inviter = nil

	res, err := o.gw.Accept(ctx, signaling.AcceptRequest{
		ChannelID: inv.ChannelID,
		Account:   inv.Account,
		RequestID: inv.RequestID,
	})
	if err != nil {
		s.reset()
		return fmt.Errorf("accept: %w", err)
	}

	ch := res.Channel
	s.Channel = &ch
	s.CallType = inv.CallType
	s.GroupCall = inv.GroupCall
	s.Status = StatusInCall
	for _, m := range res.Members {
		s.addUser(m.UID, m.Account)
	}
	s.Durations = []calls.PartyDuration{{Account: o.self}, {Account: inv.Account}}

	if inv.GroupCall {
		if err := o.joinMediaLocked(ctx, ch.ChannelName, s.CallType); err != nil {
			o.execLocked(ctx, []command{cmdTeardown{ChannelID: s.channelID(), LeaveMedia: false}})
			s.reset()
			return err
		}
		s.markStarted(o.self, o.clock())
	}
	return nil
}

// Reject declines the stored inbound invite. The inviter info is cleared
// whether or not signaling succeeds, so a failed reject cannot replay.
func (o *Orchestrator) Reject(ctx context.Context) error {
	o.mu.Lock()
	defer o.unlockAndFlush()

	s := o.sess
	if s.Inviter == nil {
		return ErrNoPendingInvite
	}
	inv := *s.Inviter
	s.reset()

	if err := o.gw.Reject(ctx, signaling.RejectRequest{
		ChannelID: inv.ChannelID,
		Account:   inv.Account,
		RequestID: inv.RequestID,
	}); err != nil {
		return fmt.Errorf("reject: %w", err)
	}
	return nil
}

// Leave exits the call without disturbing the other members.
func (o *Orchestrator) Leave(ctx context.Context) error {
	o.mu.Lock()
	defer o.unlockAndFlush()

	s := o.sess
	if s.Channel == nil {
		return ErrNoActiveCall
	}
	cmds := []command{cmdTeardown{
		ChannelID:  s.channelID(),
		LeaveMedia: true,
	}}
	s.reset()
	o.execLocked(ctx, cmds)
	return nil
}

// Hangup ends the call for everyone: outstanding invites are withdrawn,
// the summary is delivered for 1:1 rounds, and the channel is closed.
func (o *Orchestrator) Hangup(ctx context.Context) error {
	o.mu.Lock()
	defer o.unlockAndFlush()

	s := o.sess
	if s.Channel == nil {
		return ErrNoActiveCall
	}

	for _, a := range s.pendingList() {
		if err := o.gw.CancelInvite(ctx, signaling.CancelRequest{
			ChannelID: s.channelID(),
			Account:   a,
			RequestID: s.RequestID,
		}); err != nil && !signaling.IsOffline(err) {
			o.log.Warn("cancel on hangup failed", "account", a, "error", err)
		}
	}

	td := cmdTeardown{
		ChannelID:    s.channelID(),
		Type:         s.CallType,
		LeaveMedia:   true,
		CloseChannel: true,
	}
	if !s.GroupCall && s.Status == StatusInCall {
		td.SummaryTo = o.peerLocked()
		td.Reason = calls.EndComplete
		td.Parties = append([]calls.PartyDuration(nil), s.Durations...)
	}
	s.reset()
	o.execLocked(ctx, []command{td})
	return nil
}

// SwitchCallType downgrades a live video call to audio. Upgrades are not
// part of the protocol.
func (o *Orchestrator) SwitchCallType(ctx context.Context, typ calls.CallType) error {
	o.mu.Lock()
	defer o.unlockAndFlush()

	s := o.sess
	if s.Channel == nil {
		return ErrNoActiveCall
	}
	if s.CallType != calls.CallTypeVideo || typ != calls.CallTypeAudio {
		return ErrSwitchUnsupported
	}
	if err := o.gw.Control(ctx, signaling.ControlRequest{
		ChannelID: s.channelID(),
		Op:        signaling.ControlSwitchType,
		CallType:  typ,
	}); err != nil {
		return err
	}
	s.CallType = typ
	if err := o.eng.EnableLocalVideo(ctx, false); err != nil {
		o.log.Warn("disable video failed", "error", err)
	}
	o.emitLocked(Event{Kind: EventCallTypeChanged, Account: o.self, CallType: typ})
	return nil
}

// Device and media passthroughs. The orchestrator adds nothing here; it
// only forwards so the application has one surface.

func (o *Orchestrator) Devices(ctx context.Context) (rtc.Devices, error) {
	return o.eng.GetDevices(ctx)
}

func (o *Orchestrator) SwitchDevice(ctx context.Context, typ rtc.DeviceType, deviceID string) error {
	return o.eng.SwitchDevice(ctx, typ, deviceID)
}

func (o *Orchestrator) SelectSpeakers(ctx context.Context, deviceID string) error {
	return o.eng.SelectSpeakers(ctx, deviceID)
}

func (o *Orchestrator) MuteLocalAudio(ctx context.Context, mute bool) error {
	return o.eng.MuteLocalAudio(ctx, mute)
}

func (o *Orchestrator) EnableLocalVideo(ctx context.Context, enabled bool) error {
	return o.eng.EnableLocalVideo(ctx, enabled)
}

func (o *Orchestrator) SetAudioMute(ctx context.Context, mute bool, account string) error {
	o.mu.Lock()
	uid := o.sess.Accounts[account]
	o.mu.Unlock()
	if uid == "" {
		uid = account
	}
	return o.eng.SetAudioMute(ctx, mute, uid)
}

// --- internals ---

func (o *Orchestrator) openChannelLocked(ctx context.Context, typ calls.CallType) error {
	s := o.sess
	if s.Channel == nil {
		ch, err := o.gw.Create(ctx, typ)
		if err != nil {
			return fmt.Errorf("create channel: %w", err)
		}
		s.Channel = &ch
	}
	res, err := o.gw.Join(ctx, s.channelID())
	if err != nil {
		s.reset()
		return fmt.Errorf("join channel: %w", err)
	}
	for _, m := range res.Members {
		s.addUser(m.UID, m.Account)
	}
	s.addUser(o.uid, o.self)
	return nil
}

func (o *Orchestrator) joinMediaLocked(ctx context.Context, channelName string, typ calls.CallType) error {
	var token string
	if o.tokens != nil {
		t, err := o.tokens(o.uid, channelName)
		if err != nil {
			return fmt.Errorf("room token: %w", err)
		}
		token = t
	}
	if err := o.eng.JoinChannel(ctx, rtc.JoinParams{
		ChannelName: channelName,
		Type:        typ,
		UID:         o.uid,
		Token:       token,
	}); err != nil {
		return fmt.Errorf("join media: %w", err)
	}
	return nil
}

// armCallerTimerLocked starts the auto-cancel countdown. The guard is
// checked at fire time, never by cancelling the timer: firing after the
// round moved on is a no-op.
func (o *Orchestrator) armCallerTimerLocked(requestID string) {
	if o.callTimeout <= 0 {
		return
	}
	o.after(o.callTimeout, func() {
		o.fireCallerTimeout(requestID)
	})
}

func (o *Orchestrator) fireCallerTimeout(requestID string) {
	ctx := context.Background()
	o.mu.Lock()
	defer o.unlockAndFlush()

	s := o.sess
	if s.Status != StatusCalling || s.RequestID != requestID {
		return
	}

	log := logger.WithCall(o.log, s.channelID(), s.RequestID)
	var summaryTo string
	for _, a := range s.pendingList() {
		if err := o.gw.CancelInvite(ctx, signaling.CancelRequest{
			ChannelID: s.channelID(),
			Account:   a,
			RequestID: s.RequestID,
		}); err != nil && !signaling.IsOffline(err) {
			log.Warn("cancel on timeout failed", "account", a, "error", err)
		}
		summaryTo = a
	}

	td := cmdTeardown{
		ChannelID:    s.channelID(),
		Type:         s.CallType,
		LeaveMedia:   s.GroupCall,
		CloseChannel: true,
	}
	if !s.GroupCall {
		td.SummaryTo = summaryTo
		td.Reason = calls.EndTimeout
		td.Parties = append([]calls.PartyDuration(nil), s.Durations...)
	}
	s.reset()
	o.execLocked(ctx, []command{td})
	o.emitLocked(Event{Kind: EventCallingTimeout})
}

func (o *Orchestrator) armCalleeTimer(requestID string) {
	if o.callTimeout <= 0 {
		return
	}
	o.after(o.callTimeout, func() {
		o.fireCalleeTimeout(requestID)
	})
}

func (o *Orchestrator) fireCalleeTimeout(requestID string) {
	ctx := context.Background()
	o.mu.Lock()
	defer o.unlockAndFlush()

	s := o.sess
	if s.Status != StatusCalled || s.Inviter == nil || s.Inviter.RequestID != requestID {
		return
	}
	inv := *s.Inviter
	s.reset()

	if err := o.gw.Reject(ctx, signaling.RejectRequest{
		ChannelID: inv.ChannelID,
		Account:   inv.Account,
		RequestID: inv.RequestID,
	}); err != nil {
		o.log.Warn("auto-reject on timeout failed", "error", err)
	}
	o.emitLocked(Event{Kind: EventCallingTimeout, Account: inv.Account})
}

// peerLocked returns the remote account of a 1:1 round.
func (o *Orchestrator) peerLocked() string {
	for _, d := range o.sess.Durations {
		if d.Account != o.self {
			return d.Account
		}
	}
	for a := range o.sess.Pending {
		return a
	}
	return ""
}

// execLocked runs reducer commands. Teardown-phase failures are swallowed
// into error events: reset must always complete.
func (o *Orchestrator) execLocked(ctx context.Context, cmds []command) {
	for _, c := range cmds {
		switch cmd := c.(type) {
		case cmdEmit:
			o.emitLocked(cmd.Event)
		case cmdJoinMedia:
			if err := o.joinMediaLocked(ctx, cmd.ChannelName, cmd.Type); err != nil {
				o.log.Error("media join failed", "channel", cmd.ChannelName, "error", err)
				o.emitLocked(Event{Kind: EventError, ErrKind: ErrKindTeardown, Detail: err.Error()})
				break
			}
			o.sess.markStarted(o.self, o.clock())
		case cmdSendControl:
			if err := o.gw.Control(ctx, signaling.ControlRequest{
				ChannelID: cmd.ChannelID,
				Account:   cmd.To,
				Op:        cmd.Op,
				CallType:  cmd.Type,
			}); err != nil {
				o.log.Warn("control send failed", "op", string(cmd.Op), "error", err)
			}
		case cmdRejectBusy:
			if err := o.gw.Reject(ctx, signaling.RejectRequest{
				ChannelID: cmd.ChannelID,
				Account:   cmd.Account,
				RequestID: cmd.RequestID,
				Busy:      true,
			}); err != nil {
				o.log.Warn("busy reject failed", "account", cmd.Account, "error", err)
			}
		case cmdArmCalleeTimer:
			o.armCalleeTimer(cmd.RequestID)
		case cmdTeardown:
			o.teardown(ctx, cmd)
		case cmdDisableVideo:
			if err := o.eng.EnableLocalVideo(ctx, false); err != nil {
				o.log.Warn("disable video failed", "error", err)
			}
		}
	}
}

func (o *Orchestrator) teardown(ctx context.Context, cmd cmdTeardown) {
	if cmd.SummaryTo != "" {
		o.sendSummary(ctx, cmd)
	}
	if cmd.LeaveMedia {
		if err := o.eng.LeaveChannel(ctx); err != nil {
			o.emitLocked(Event{Kind: EventError, ErrKind: ErrKindTeardown, Detail: err.Error()})
		}
	}
	if cmd.ChannelID != "" {
		var err error
		if cmd.CloseChannel {
			err = o.gw.Close(ctx, cmd.ChannelID)
		} else {
			err = o.gw.Leave(ctx, cmd.ChannelID)
		}
		if err != nil {
			o.emitLocked(Event{Kind: EventError, ErrKind: ErrKindTeardown, Detail: err.Error()})
		}
	}
}

// sendSummary delivers the end-of-call accounting record, best effort.
func (o *Orchestrator) sendSummary(ctx context.Context, cmd cmdTeardown) {
	if len(cmd.Parties) == 0 {
		o.emitLocked(Event{Kind: EventError, ErrKind: ErrKindSummary, Detail: ErrNoDurations.Error()})
		return
	}
	now := o.clock()
	parties := make([]calls.PartyDuration, len(cmd.Parties))
	copy(parties, cmd.Parties)
	for i := range parties {
		if !parties[i].StartedAt.IsZero() {
			parties[i].ElapsedSeconds = int(now.Sub(parties[i].StartedAt) / time.Second)
		}
	}
	rec := calls.CallRecord{
		ChannelID: cmd.ChannelID,
		Type:      cmd.Type,
		Reason:    cmd.Reason,
		Caller:    o.self,
		Callee:    cmd.SummaryTo,
		Parties:   parties,
	}
	if o.rec != nil {
		if err := o.rec.Record(ctx, rec); err != nil {
			o.log.Warn("record call failed", "channel", cmd.ChannelID, "error", err)
		}
	}
	if err := o.gw.SendSummary(ctx, cmd.SummaryTo, rec); err != nil {
		o.emitLocked(Event{Kind: EventError, ErrKind: ErrKindSummary, Detail: err.Error()})
		return
	}
	o.emitLocked(Event{Kind: EventSummarySent, Account: cmd.SummaryTo, ChannelID: cmd.ChannelID, Record: &rec})
}

func (o *Orchestrator) emitLocked(ev Event) {
	o.pending = append(o.pending, ev)
}

// unlockAndFlush releases the session lock, then delivers the events
// collected during the critical section. Handlers never run under the
// lock.
func (o *Orchestrator) unlockAndFlush() {
	evs := o.pending
	o.pending = nil
	o.mu.Unlock()
	for _, ev := range evs {
		o.emitter.emit(ev)
	}
}

func pushFor(caller string, typ calls.CallType) signaling.PushInfo {
	what := "audio"
	if typ == calls.CallTypeVideo {
		what = "video"
	}
	return signaling.PushInfo{
		Title:   "Incoming call",
		Content: fmt.Sprintf("%s invites you to a %s call", caller, what),
		Badge:   true,
	}
}

func dedupe(accounts []string, drop string) []string {
	seen := make(map[string]struct{}, len(accounts))
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if a == "" || a == drop {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
