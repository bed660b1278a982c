package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"callkit/internal/calls"
	"callkit/pkg/utils"
)

// RedisGateway implements Gateway on top of Redis:
//
// - online delivery: PUBLISH on a per-account channel; a receiver count of
//   zero classifies the peer as offline,
// - offline replay: capped per-account list, drained atomically on Listen,
// - unread tracking: per-account hash cleared by MarkRead,
// - channel metadata: hash + member hash with a TTL so dead channels expire.
//
// One RedisGateway is one device of one account; the device id filters out
// the multi-device sync notifications this device published itself.

const redisKeyPrefix = "callkit:"

func notifyKey(account string) string  { return redisKeyPrefix + "notify:" + account }
func offlineKey(account string) string { return redisKeyPrefix + "offline:" + account }
func unreadKey(account string) string  { return redisKeyPrefix + "unread:" + account }
func summaryKey(account string) string { return redisKeyPrefix + "summary:" + account }
func channelKey(id string) string      { return redisKeyPrefix + "channel:" + id }
func membersKey(id string) string      { return redisKeyPrefix + "channel:" + id + ":members" }

type envelope struct {
	// Kind is "notify", "sync" or "summary".
	Kind     string            `json:"kind"`
	DeviceID string            `json:"device_id,omitempty"`
	Event    *ChannelEvent     `json:"event,omitempty"`
	Summary  *calls.CallRecord `json:"summary,omitempty"`
}

const (
	envNotify  = "notify"
	envSync    = "sync"
	envSummary = "summary"
)

type RedisGateway struct {
	rdb      *redis.Client
	account  string
	deviceID string
	log      *slog.Logger
	clock    func() time.Time
}

func NewRedisGateway(rdb *redis.Client, account string, log *slog.Logger) *RedisGateway {
	if log == nil {
		log = slog.Default()
	}
	return &RedisGateway{
		rdb:      rdb,
		account:  account,
		deviceID: uuid.NewString(),
		log:      log.With("component", "signaling", "account", account),
		clock:    time.Now,
	}
}

/* ===================== listen loop ===================== */

// Listen drains the offline backlog, then pumps online notifications into
// sink until ctx is cancelled. Notifications are dispatched one at a time.
func (g *RedisGateway) Listen(ctx context.Context, sink NotificationSink) error {
	backlog, err := g.drainOffline(ctx)
	if err != nil {
		return fmt.Errorf("drain offline backlog: %w", err)
	}
	if len(backlog) > 0 {
		sink.HandleOfflineEvents(ctx, backlog)
	}

	sub := g.rdb.Subscribe(ctx, notifyKey(g.account))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				g.log.Warn("bad notification payload", "err", err)
				continue
			}
			switch env.Kind {
			case envSync:
				if env.DeviceID == g.deviceID || env.Event == nil {
					continue
				}
				sink.HandleSyncNotify(ctx, *env.Event)
			case envSummary:
				if env.Summary != nil {
					g.log.Debug("summary received", "channel_id", env.Summary.ChannelID, "reason", env.Summary.Reason)
				}
			default:
				if env.Event == nil {
					continue
				}
				sink.HandleNotify(ctx, *env.Event)
			}
		}
	}
}

func (g *RedisGateway) drainOffline(ctx context.Context) ([]ChannelEvent, error) {
	items, err := utils.DrainList(ctx, g.rdb, offlineKey(g.account))
	if err != nil {
		return nil, err
	}
	events := make([]ChannelEvent, 0, len(items))
	for _, item := range items {
		var env envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil || env.Event == nil {
			g.log.Warn("dropping bad offline payload", "err", err)
			continue
		}
		ev := *env.Event
		exists, err := g.rdb.Exists(ctx, channelKey(ev.ChannelID)).Result()
		if err == nil && exists == 0 {
			ev.ChannelInvalid = true
		}
		events = append(events, ev)
	}
	return events, nil
}

/* ===================== delivery ===================== */

// publish sends env to account; if no device is subscribed the envelope is
// queued for offline replay and delivered=false.
func (g *RedisGateway) publish(ctx context.Context, account string, env envelope) (delivered bool, err error) {
	data, err := json.Marshal(env)
	if err != nil {
		return false, err
	}
	n, err := g.rdb.Publish(ctx, notifyKey(account), data).Result()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if env.Event == nil {
		// Summaries have their own durable list; nothing to replay.
		return false, nil
	}
	if err := utils.EnqueueOffline(ctx, g.rdb, offlineKey(account), string(data), offlineQueueCap, channelTTL); err != nil {
		return false, err
	}
	if env.Event.MsgID != "" {
		if err := g.rdb.HSet(ctx, unreadKey(account), env.Event.MsgID, 1).Err(); err != nil {
			g.log.Warn("unread tracking failed", "err", err)
		}
	}
	return false, nil
}

func (g *RedisGateway) notify(ctx context.Context, account string, ev ChannelEvent) (bool, error) {
	return g.publish(ctx, account, envelope{Kind: envNotify, DeviceID: g.deviceID, Event: &ev})
}

// syncOthers mirrors an action taken on this device to the account's other
// devices.
func (g *RedisGateway) syncOthers(ctx context.Context, ev ChannelEvent) {
	if _, err := g.publish(ctx, g.account, envelope{Kind: envSync, DeviceID: g.deviceID, Event: &ev}); err != nil {
		g.log.Warn("sync publish failed", "err", err)
	}
}

func (g *RedisGateway) event(typ EventType, ch ChannelInfo, from string) ChannelEvent {
	return ChannelEvent{
		Type:             typ,
		ChannelID:        ch.ChannelID,
		ChannelName:      ch.ChannelName,
		ChannelCreatedAt: ch.CreatedAt,
		Creator:          ch.Creator,
		CallType:         ch.Type,
		From:             from,
		MsgID:            uuid.NewString(),
		Time:             g.clock(),
	}
}

/* ===================== channel metadata ===================== */

func (g *RedisGateway) getChannel(ctx context.Context, id string) (ChannelInfo, error) {
	fields, err := g.rdb.HGetAll(ctx, channelKey(id)).Result()
	if err != nil {
		return ChannelInfo{}, err
	}
	if len(fields) == 0 {
		return ChannelInfo{}, ErrChannelNotFound
	}
	typ, _ := strconv.Atoi(fields["type"])
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	expires, _ := strconv.ParseInt(fields["expires_at"], 10, 64)
	return ChannelInfo{
		ChannelID:   id,
		ChannelName: fields["name"],
		Type:        calls.CallType(typ),
		Creator:     fields["creator"],
		CreatedAt:   time.UnixMilli(created),
		ExpiresAt:   time.UnixMilli(expires),
	}, nil
}

func (g *RedisGateway) members(ctx context.Context, id string) ([]Member, error) {
	fields, err := g.rdb.HGetAll(ctx, membersKey(id)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(fields))
	for account, uid := range fields {
		out = append(out, Member{UID: uid, Account: account})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

// addMember registers account in the channel, keeping an existing uid.
func (g *RedisGateway) addMember(ctx context.Context, channelID, account string) (string, error) {
	key := membersKey(channelID)
	uid := uuid.NewString()
	set, err := g.rdb.HSetNX(ctx, key, account, uid).Result()
	if err != nil {
		return "", err
	}
	if !set {
		return g.rdb.HGet(ctx, key, account).Result()
	}
	g.rdb.PExpire(ctx, key, channelTTL)
	return uid, nil
}

/* ===================== Gateway ===================== */

func (g *RedisGateway) Create(ctx context.Context, callType calls.CallType) (ChannelInfo, error) {
	if !callType.Valid() {
		return ChannelInfo{}, fmt.Errorf("signaling: invalid call type %d", callType)
	}
	now := g.clock()
	id := uuid.NewString()
	info := ChannelInfo{
		ChannelID:   id,
		ChannelName: id,
		Type:        callType,
		Creator:     g.account,
		CreatedAt:   now,
		ExpiresAt:   now.Add(channelTTL),
	}
	pipe := g.rdb.TxPipeline()
	pipe.HSet(ctx, channelKey(id), map[string]interface{}{
		"name":       info.ChannelName,
		"type":       int(info.Type),
		"creator":    info.Creator,
		"created_at": now.UnixMilli(),
		"expires_at": info.ExpiresAt.UnixMilli(),
	})
	pipe.PExpire(ctx, channelKey(id), channelTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return ChannelInfo{}, err
	}
	return info, nil
}

func (g *RedisGateway) Join(ctx context.Context, channelID string) (JoinResult, error) {
	info, err := g.getChannel(ctx, channelID)
	if err != nil {
		return JoinResult{}, err
	}
	uid, err := g.addMember(ctx, channelID, g.account)
	if err != nil {
		return JoinResult{}, err
	}
	members, err := g.members(ctx, channelID)
	if err != nil {
		return JoinResult{}, err
	}
	ev := g.event(EventRoomJoin, info, g.account)
	ev.Members = []Member{{UID: uid, Account: g.account}}
	for _, m := range members {
		if m.Account != g.account {
			if _, err := g.notify(ctx, m.Account, ev); err != nil {
				g.log.Warn("room_join notify failed", "to", m.Account, "err", err)
			}
		}
	}
	return JoinResult{Channel: info, Members: members}, nil
}

func (g *RedisGateway) Invite(ctx context.Context, req InviteRequest) error {
	info, err := g.getChannel(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	ev := g.event(EventInvite, info, g.account)
	ev.To = req.Account
	ev.RequestID = req.RequestID
	ev.GroupCall = req.GroupCall
	ev.CallUserList = req.CallUserList
	ev.GroupID = req.GroupID
	delivered, err := g.notify(ctx, req.Account, ev)
	if err != nil {
		return err
	}
	if !delivered {
		return fmt.Errorf("invite %s: %w", req.Account, ErrPeerOffline)
	}
	return nil
}

func (g *RedisGateway) CancelInvite(ctx context.Context, req CancelRequest) error {
	info, err := g.getChannel(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	ev := g.event(EventCancelInvite, info, g.account)
	ev.To = req.Account
	ev.RequestID = req.RequestID
	_, err = g.notify(ctx, req.Account, ev)
	return err
}

func (g *RedisGateway) Accept(ctx context.Context, req AcceptRequest) (JoinResult, error) {
	info, err := g.getChannel(ctx, req.ChannelID)
	if err != nil {
		return JoinResult{}, err
	}
	if _, err := g.addMember(ctx, req.ChannelID, g.account); err != nil {
		return JoinResult{}, err
	}
	members, err := g.members(ctx, req.ChannelID)
	if err != nil {
		return JoinResult{}, err
	}
	ev := g.event(EventAccept, info, g.account)
	ev.To = req.Account
	ev.RequestID = req.RequestID
	if _, err := g.notify(ctx, req.Account, ev); err != nil {
		return JoinResult{}, err
	}
	g.syncOthers(ctx, ev)
	return JoinResult{Channel: info, Members: members}, nil
}

func (g *RedisGateway) Reject(ctx context.Context, req RejectRequest) error {
	info, err := g.getChannel(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	ev := g.event(EventReject, info, g.account)
	ev.To = req.Account
	ev.RequestID = req.RequestID
	ev.Busy = req.Busy
	if _, err := g.notify(ctx, req.Account, ev); err != nil {
		return err
	}
	// Busy auto-rejects are not a user decision; other devices keep ringing.
	if !req.Busy {
		g.syncOthers(ctx, ev)
	}
	return nil
}

func (g *RedisGateway) Leave(ctx context.Context, channelID string) error {
	if _, err := g.getChannel(ctx, channelID); err != nil {
		return err
	}
	return g.rdb.HDel(ctx, membersKey(channelID), g.account).Err()
}

func (g *RedisGateway) Close(ctx context.Context, channelID string) error {
	info, err := g.getChannel(ctx, channelID)
	if err != nil {
		return err
	}
	members, err := g.members(ctx, channelID)
	if err != nil {
		return err
	}
	if err := g.rdb.Del(ctx, channelKey(channelID), membersKey(channelID)).Err(); err != nil {
		return err
	}
	ev := g.event(EventRoomClose, info, g.account)
	for _, m := range members {
		if m.Account != g.account {
			if _, err := g.notify(ctx, m.Account, ev); err != nil {
				g.log.Warn("room_close notify failed", "to", m.Account, "err", err)
			}
		}
	}
	return nil
}

func (g *RedisGateway) Control(ctx context.Context, req ControlRequest) error {
	info, err := g.getChannel(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	ev := g.event(EventControl, info, g.account)
	ev.Control = req.Op
	if req.CallType != 0 {
		ev.CallType = req.CallType
	}
	if req.Account != "" {
		ev.To = req.Account
		_, err = g.notify(ctx, req.Account, ev)
		return err
	}
	members, err := g.members(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.Account != g.account {
			if _, err := g.notify(ctx, m.Account, ev); err != nil {
				g.log.Warn("control notify failed", "to", m.Account, "err", err)
			}
		}
	}
	return nil
}

func (g *RedisGateway) MarkRead(ctx context.Context, msgIDs []string) error {
	if len(msgIDs) == 0 {
		return nil
	}
	fields := make([]string, len(msgIDs))
	copy(fields, msgIDs)
	return g.rdb.HDel(ctx, unreadKey(g.account), fields...).Err()
}

func (g *RedisGateway) SendSummary(ctx context.Context, to string, rec calls.CallRecord) error {
	env := envelope{Kind: envSummary, DeviceID: g.deviceID, Summary: &rec}
	if _, err := g.publish(ctx, to, env); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// Durable copy for the recipient's message history.
	return utils.EnqueueOffline(ctx, g.rdb, summaryKey(to), string(data), offlineQueueCap, channelTTL)
}
