package calling

import (
	"context"

	"callkit/internal/signaling"
)

// The orchestrator is the NotificationSink for its signaling gateway.
// Handlers are dispatched one at a time by the gateway; each one takes
// the session lock, reduces, runs commands, and flushes events.

var _ signaling.NotificationSink = (*Orchestrator)(nil)

func (o *Orchestrator) HandleNotify(ctx context.Context, ev signaling.ChannelEvent) {
	o.markRead(ctx, ev.MsgID)

	o.mu.Lock()
	defer o.unlockAndFlush()
	cmds := reduceNotify(o.sess, o.self, ev)
	o.execLocked(ctx, cmds)
}

func (o *Orchestrator) HandleSyncNotify(ctx context.Context, ev signaling.ChannelEvent) {
	o.markRead(ctx, ev.MsgID)

	o.mu.Lock()
	defer o.unlockAndFlush()
	cmds := reduceSync(o.sess, ev)
	o.execLocked(ctx, cmds)
}

// HandleOfflineEvents replays the queued backlog. Everything is marked
// read first, then the replay policy picks at most one invite to act on;
// superseded or answered invites are discarded without side effects.
func (o *Orchestrator) HandleOfflineEvents(ctx context.Context, events []signaling.ChannelEvent) {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.MsgID != "" {
			ids = append(ids, ev.MsgID)
		}
	}
	if len(ids) > 0 {
		if err := o.gw.MarkRead(ctx, ids); err != nil {
			o.log.Warn("mark read failed", "count", len(ids), "error", err)
		}
	}

	ev, ok := pickReplayInvite(events)
	if !ok {
		return
	}
	o.mu.Lock()
	defer o.unlockAndFlush()
	cmds := reduceNotify(o.sess, o.self, ev)
	o.execLocked(ctx, cmds)
}

func (o *Orchestrator) markRead(ctx context.Context, msgID string) {
	if msgID == "" {
		return
	}
	if err := o.gw.MarkRead(ctx, []string{msgID}); err != nil {
		o.log.Warn("mark read failed", "msg_id", msgID, "error", err)
	}
}
