package calling

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"callkit/internal/calls"
	"callkit/internal/rtc"
	"callkit/internal/signaling"
)

// stubGateway records every signaling call and fails where scripted.
type stubGateway struct {
	mu sync.Mutex

	inviteErr map[string]error
	cancelErr map[string]error
	acceptErr error

	invites   []signaling.InviteRequest
	cancels   []signaling.CancelRequest
	accepts   []signaling.AcceptRequest
	rejects   []signaling.RejectRequest
	controls  []signaling.ControlRequest
	leaves    []string
	closes    []string
	read      []string
	summaries []calls.CallRecord
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		inviteErr: make(map[string]error),
		cancelErr: make(map[string]error),
	}
}

func (g *stubGateway) Create(ctx context.Context, typ calls.CallType) (signaling.ChannelInfo, error) {
	return signaling.ChannelInfo{
		ChannelID:   "ch-1",
		ChannelName: "room-1",
		Type:        typ,
		CreatedAt:   time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	}, nil
}

func (g *stubGateway) Join(ctx context.Context, channelID string) (signaling.JoinResult, error) {
	return signaling.JoinResult{
		Channel: signaling.ChannelInfo{ChannelID: channelID, ChannelName: "room-1"},
	}, nil
}

func (g *stubGateway) Invite(ctx context.Context, req signaling.InviteRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invites = append(g.invites, req)
	return g.inviteErr[req.Account]
}

func (g *stubGateway) CancelInvite(ctx context.Context, req signaling.CancelRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, req)
	return g.cancelErr[req.Account]
}

func (g *stubGateway) Accept(ctx context.Context, req signaling.AcceptRequest) (signaling.JoinResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accepts = append(g.accepts, req)
	if g.acceptErr != nil {
		return signaling.JoinResult{}, g.acceptErr
	}
	return signaling.JoinResult{
		Channel: signaling.ChannelInfo{ChannelID: req.ChannelID, ChannelName: "room-1"},
	}, nil
}

func (g *stubGateway) Reject(ctx context.Context, req signaling.RejectRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejects = append(g.rejects, req)
	return nil
}

func (g *stubGateway) Leave(ctx context.Context, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaves = append(g.leaves, channelID)
	return nil
}

func (g *stubGateway) Close(ctx context.Context, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes = append(g.closes, channelID)
	return nil
}

func (g *stubGateway) Control(ctx context.Context, req signaling.ControlRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.controls = append(g.controls, req)
	return nil
}

func (g *stubGateway) MarkRead(ctx context.Context, msgIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.read = append(g.read, msgIDs...)
	return nil
}

func (g *stubGateway) SendSummary(ctx context.Context, to string, rec calls.CallRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.summaries = append(g.summaries, rec)
	return nil
}

type stubRecorder struct {
	mu   sync.Mutex
	recs []calls.CallRecord
}

func (r *stubRecorder) Record(ctx context.Context, rec calls.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

// eventLog captures emitted domain events in order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, ev := range l.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) last(kind EventKind) (Event, bool) {
	var out Event
	found := false
	for _, ev := range l.all() {
		if ev.Kind == kind {
			out = ev
			found = true
		}
	}
	return out, found
}

type fixture struct {
	orch   *Orchestrator
	gw     *stubGateway
	eng    *rtc.MemoryEngine
	rec    *stubRecorder
	events *eventLog
	timers *[]func()
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := newStubGateway()
	eng := rtc.NewMemoryEngine()
	rec := &stubRecorder{}
	log := &eventLog{}
	timers := &[]func(){}

	o := New(Config{Account: "alice", UID: "uid-alice", CallTimeout: 5 * time.Second},
		gw, eng, nil, rec, nil, slog.Default())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	o.clock = func() time.Time { return now }
	o.after = func(d time.Duration, f func()) { *timers = append(*timers, f) }
	o.Events().OnAny(log.record)
	eng.Bind(o)

	return &fixture{orch: o, gw: gw, eng: eng, rec: rec, events: log, timers: timers, now: now}
}

// lastInvite returns the requestID of the most recent outbound invite.
func (f *fixture) requestID(t *testing.T) string {
	t.Helper()
	f.gw.mu.Lock()
	defer f.gw.mu.Unlock()
	if len(f.gw.invites) == 0 {
		t.Fatalf("no invites sent")
	}
	return f.gw.invites[len(f.gw.invites)-1].RequestID
}

func (f *fixture) fireTimers() {
	fns := *f.timers
	*f.timers = nil
	for _, fn := range fns {
		fn()
	}
}

func inviteEvent(from, requestID string, typ calls.CallType) signaling.ChannelEvent {
	return signaling.ChannelEvent{
		Type:        signaling.EventInvite,
		ChannelID:   "ch-remote",
		ChannelName: "room-remote",
		From:        from,
		To:          "alice",
		RequestID:   requestID,
		CallType:    typ,
	}
}
