package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"callkit/internal/calls"
)

// Hub is an in-process signaling service: every Peer bound to it acts as a
// Gateway for one account on one device. It implements the same delivery
// contract the production transport provides - online notifications to
// connected devices, multi-device sync to the actor's other devices, and a
// capped offline queue replayed on connect.
//
// Intended for tests and for running the daemon without a signaling backend.

const (
	offlineQueueCap = 32
	channelTTL      = 2 * time.Hour
	peerQueueCap    = 256
)

type Hub struct {
	mu        sync.Mutex
	clock     func() time.Time
	channels  map[string]*hubChannel
	peers     map[string][]*Peer
	offline   map[string][]ChannelEvent
	read      map[string]bool
	summaries map[string][]calls.CallRecord
}

type hubChannel struct {
	info    ChannelInfo
	members []Member
	closed  bool
}

func (c *hubChannel) uidOf(account string) string {
	for _, m := range c.members {
		if m.Account == account {
			return m.UID
		}
	}
	return ""
}

func NewHub() *Hub {
	return &Hub{
		clock:     time.Now,
		channels:  make(map[string]*hubChannel),
		peers:     make(map[string][]*Peer),
		offline:   make(map[string][]ChannelEvent),
		read:      make(map[string]bool),
		summaries: make(map[string][]calls.CallRecord),
	}
}

// Peer binds a new device for account to the hub. The returned Peer is a
// Gateway; call Connect to start receiving notifications.
func (h *Hub) Peer(account string) *Peer {
	return &Peer{
		hub:      h,
		account:  account,
		deviceID: uuid.NewString(),
		queue:    make(chan delivery, peerQueueCap),
	}
}

// WasRead reports whether MarkRead was called for the message id.
func (h *Hub) WasRead(msgID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.read[msgID]
}

// Summaries returns the accounting summaries delivered to account.
func (h *Hub) Summaries(account string) []calls.CallRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]calls.CallRecord, len(h.summaries[account]))
	copy(out, h.summaries[account])
	return out
}

// OfflineBacklog returns the queued events for a disconnected account.
func (h *Hub) OfflineBacklog(account string) []ChannelEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ChannelEvent, len(h.offline[account]))
	copy(out, h.offline[account])
	return out
}

// post delivers ev to every connected device of account; when none is
// connected the event is queued for offline replay and delivered=false.
// Callers must hold h.mu.
func (h *Hub) post(account string, ev ChannelEvent) (delivered bool) {
	peers := h.peers[account]
	if len(peers) == 0 {
		q := append(h.offline[account], ev)
		if len(q) > offlineQueueCap {
			q = q[len(q)-offlineQueueCap:]
		}
		h.offline[account] = q
		return false
	}
	for _, p := range peers {
		p.push(delivery{ev: ev})
	}
	return true
}

// postSync notifies the actor's other devices. Callers must hold h.mu.
func (h *Hub) postSync(account, actorDevice string, ev ChannelEvent) {
	for _, p := range h.peers[account] {
		if p.deviceID == actorDevice {
			continue
		}
		p.push(delivery{sync: true, ev: ev})
	}
}

func (h *Hub) channel(id string) (*hubChannel, error) {
	ch, ok := h.channels[id]
	if !ok {
		return nil, ErrChannelNotFound
	}
	if ch.closed {
		return nil, ErrChannelClosed
	}
	return ch, nil
}

// event stamps a new notification for a channel. Callers must hold h.mu.
func (h *Hub) event(ch *hubChannel, typ EventType, from string) ChannelEvent {
	return ChannelEvent{
		Type:             typ,
		ChannelID:        ch.info.ChannelID,
		ChannelName:      ch.info.ChannelName,
		ChannelCreatedAt: ch.info.CreatedAt,
		Creator:          ch.info.Creator,
		CallType:         ch.info.Type,
		From:             from,
		MsgID:            uuid.NewString(),
		Time:             h.clock(),
	}
}

type delivery struct {
	sync  bool
	batch []ChannelEvent
	ev    ChannelEvent
}

// Peer is one device of one account, bound to a Hub.
type Peer struct {
	hub      *Hub
	account  string
	deviceID string

	mu     sync.Mutex
	sink   NotificationSink
	queue  chan delivery
	closed bool
}

// Connect registers the device online and starts the delivery pump. Any
// offline backlog is replayed first, as one batch.
func (p *Peer) Connect(sink NotificationSink) {
	h := p.hub
	h.mu.Lock()
	p.sink = sink
	h.peers[p.account] = append(h.peers[p.account], p)
	backlog := h.offline[p.account]
	delete(h.offline, p.account)
	for i := range backlog {
		if _, ok := h.channels[backlog[i].ChannelID]; !ok {
			backlog[i].ChannelInvalid = true
		}
	}
	h.mu.Unlock()

	if len(backlog) > 0 {
		p.push(delivery{batch: backlog})
	}
	go p.pump()
}

// Disconnect takes the device offline; subsequent notifications queue.
func (p *Peer) Disconnect() {
	h := p.hub
	h.mu.Lock()
	list := h.peers[p.account]
	for i, other := range list {
		if other == p {
			h.peers[p.account] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(h.peers[p.account]) == 0 {
		delete(h.peers, p.account)
	}
	h.mu.Unlock()

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
}

func (p *Peer) push(d delivery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- d:
	default:
		// Queue full: drop rather than deadlock the hub.
	}
}

func (p *Peer) pump() {
	ctx := context.Background()
	for d := range p.queue {
		switch {
		case d.batch != nil:
			p.sink.HandleOfflineEvents(ctx, d.batch)
		case d.sync:
			p.sink.HandleSyncNotify(ctx, d.ev)
		default:
			p.sink.HandleNotify(ctx, d.ev)
		}
	}
}

/* ===================== Gateway ===================== */

func (p *Peer) Create(ctx context.Context, callType calls.CallType) (ChannelInfo, error) {
	if !callType.Valid() {
		return ChannelInfo{}, fmt.Errorf("signaling: invalid call type %d", callType)
	}
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock()
	id := uuid.NewString()
	info := ChannelInfo{
		ChannelID:   id,
		ChannelName: id,
		Type:        callType,
		Creator:     p.account,
		CreatedAt:   now,
		ExpiresAt:   now.Add(channelTTL),
	}
	h.channels[id] = &hubChannel{info: info}
	return info, nil
}

func (p *Peer) Join(ctx context.Context, channelID string) (JoinResult, error) {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, err := h.channel(channelID)
	if err != nil {
		return JoinResult{}, err
	}
	return h.join(ch, p.account), nil
}

// join adds account as a member (idempotent) and notifies the others.
// Callers must hold h.mu.
func (h *Hub) join(ch *hubChannel, account string) JoinResult {
	uid := ch.uidOf(account)
	if uid == "" {
		uid = uuid.NewString()
		member := Member{UID: uid, Account: account}
		ch.members = append(ch.members, member)
		ev := h.event(ch, EventRoomJoin, account)
		ev.Members = []Member{member}
		for _, m := range ch.members {
			if m.Account != account {
				h.post(m.Account, ev)
			}
		}
	}
	members := make([]Member, len(ch.members))
	copy(members, ch.members)
	return JoinResult{Channel: ch.info, Members: members}
}

func (p *Peer) Invite(ctx context.Context, req InviteRequest) error {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, err := h.channel(req.ChannelID)
	if err != nil {
		return err
	}
	ev := h.event(ch, EventInvite, p.account)
	ev.To = req.Account
	ev.RequestID = req.RequestID
	ev.GroupCall = req.GroupCall
	ev.CallUserList = append([]string(nil), req.CallUserList...)
	ev.GroupID = req.GroupID
	if !h.post(req.Account, ev) {
		return fmt.Errorf("invite %s: %w", req.Account, ErrPeerOffline)
	}
	return nil
}

func (p *Peer) CancelInvite(ctx context.Context, req CancelRequest) error {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, err := h.channel(req.ChannelID)
	if err != nil {
		return err
	}
	ev := h.event(ch, EventCancelInvite, p.account)
	ev.To = req.Account
	ev.RequestID = req.RequestID
	h.post(req.Account, ev)
	return nil
}

func (p *Peer) Accept(ctx context.Context, req AcceptRequest) (JoinResult, error) {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, err := h.channel(req.ChannelID)
	if err != nil {
		return JoinResult{}, err
	}
	res := h.join(ch, p.account)

	ev := h.event(ch, EventAccept, p.account)
	ev.To = req.Account
	ev.RequestID = req.RequestID
	h.post(req.Account, ev)
	h.postSync(p.account, p.deviceID, ev)
	return res, nil
}

func (p *Peer) Reject(ctx context.Context, req RejectRequest) error {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, err := h.channel(req.ChannelID)
	if err != nil {
		return err
	}
	ev := h.event(ch, EventReject, p.account)
	ev.To = req.Account
	ev.RequestID = req.RequestID
	ev.Busy = req.Busy
	h.post(req.Account, ev)
	// A busy auto-reject is not a decision made on this device; it must not
	// tear down the account's other devices.
	if !req.Busy {
		h.postSync(p.account, p.deviceID, ev)
	}
	return nil
}

func (p *Peer) Leave(ctx context.Context, channelID string) error {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, err := h.channel(channelID)
	if err != nil {
		return err
	}
	for i, m := range ch.members {
		if m.Account == p.account {
			ch.members = append(ch.members[:i:i], ch.members[i+1:]...)
			break
		}
	}
	return nil
}

func (p *Peer) Close(ctx context.Context, channelID string) error {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, err := h.channel(channelID)
	if err != nil {
		return err
	}
	ch.closed = true
	ev := h.event(ch, EventRoomClose, p.account)
	for _, m := range ch.members {
		if m.Account != p.account {
			h.post(m.Account, ev)
		}
	}
	delete(h.channels, channelID)
	return nil
}

func (p *Peer) Control(ctx context.Context, req ControlRequest) error {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, err := h.channel(req.ChannelID)
	if err != nil {
		return err
	}
	ev := h.event(ch, EventControl, p.account)
	ev.Control = req.Op
	if req.CallType != 0 {
		ev.CallType = req.CallType
	}
	if req.Account != "" {
		ev.To = req.Account
		h.post(req.Account, ev)
		return nil
	}
	for _, m := range ch.members {
		if m.Account != p.account {
			h.post(m.Account, ev)
		}
	}
	return nil
}

func (p *Peer) MarkRead(ctx context.Context, msgIDs []string) error {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range msgIDs {
		h.read[id] = true
	}
	return nil
}

func (p *Peer) SendSummary(ctx context.Context, to string, rec calls.CallRecord) error {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	h.summaries[to] = append(h.summaries[to], rec)
	return nil
}
