package signaling

import (
	"context"
	"errors"
	"time"

	"callkit/internal/calls"
)

// Gateway is the transport-agnostic signaling contract consumed by the call
// orchestrator.
//
// Rules:
// - No transport SDK calls outside signaling adapters.
// - Every operation is channel-scoped except MarkRead and SendSummary.
// - Invite/CancelInvite/Accept/Reject must carry the round's RequestID; the
//   gateway echoes it back verbatim on the resulting notifications.
// - Delivery to an offline peer is queued, and reported as ErrPeerOffline so
//   the caller can classify it (queued-offline is not a failure for invite
//   fan-out purposes).
type Gateway interface {
	Create(ctx context.Context, callType calls.CallType) (ChannelInfo, error)
	Join(ctx context.Context, channelID string) (JoinResult, error)

	Invite(ctx context.Context, req InviteRequest) error
	CancelInvite(ctx context.Context, req CancelRequest) error
	Accept(ctx context.Context, req AcceptRequest) (JoinResult, error)
	Reject(ctx context.Context, req RejectRequest) error

	Leave(ctx context.Context, channelID string) error
	Close(ctx context.Context, channelID string) error
	Control(ctx context.Context, req ControlRequest) error

	MarkRead(ctx context.Context, msgIDs []string) error
	SendSummary(ctx context.Context, to string, rec calls.CallRecord) error
}

// NotificationSink receives the three inbound notification streams.
// Implementations must tolerate events for channels they no longer track.
type NotificationSink interface {
	// HandleNotify delivers one online notification.
	HandleNotify(ctx context.Context, ev ChannelEvent)
	// HandleSyncNotify delivers a multi-device sync notification: the same
	// account acted on another device.
	HandleSyncNotify(ctx context.Context, ev ChannelEvent)
	// HandleOfflineEvents delivers the queued backlog in arrival order.
	HandleOfflineEvents(ctx context.Context, events []ChannelEvent)
}

var (
	// ErrPeerOffline reports that the target was not reachable and the
	// notification was queued for offline replay.
	ErrPeerOffline = errors.New("signaling: peer offline")

	ErrChannelNotFound = errors.New("signaling: channel not found")
	ErrChannelClosed   = errors.New("signaling: channel closed")
)

// IsOffline classifies an error from a fan-out target as queued-offline.
func IsOffline(err error) bool { return errors.Is(err, ErrPeerOffline) }

type EventType string

const (
	EventRoomJoin     EventType = "room_join"
	EventRoomClose    EventType = "room_close"
	EventInvite       EventType = "invite"
	EventCancelInvite EventType = "cancel_invite"
	EventReject       EventType = "reject"
	EventAccept       EventType = "accept"
	EventControl      EventType = "control"
)

// ControlOp is the in-channel control verb.
type ControlOp string

const (
	// ControlMediaReady tells the callee both sides have round-tripped the
	// acceptance and it may join the media channel (two-phase join).
	ControlMediaReady ControlOp = "media_ready"
	// ControlSwitchType asks the peer to change the call type.
	ControlSwitchType ControlOp = "switch_type"
)

// Member is one channel participant.
type Member struct {
	UID     string `json:"uid"`
	Account string `json:"account"`
}

// ChannelInfo identifies one signaling channel.
type ChannelInfo struct {
	ChannelID   string         `json:"channel_id"`
	ChannelName string         `json:"channel_name"`
	Type        calls.CallType `json:"type"`
	Creator     string         `json:"creator"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// ChannelEvent is one inbound signaling notification. Only the fields
// relevant for the event's Type are populated.
type ChannelEvent struct {
	Type EventType `json:"type"`

	ChannelID        string    `json:"channel_id"`
	ChannelName      string    `json:"channel_name,omitempty"`
	ChannelCreatedAt time.Time `json:"channel_created_at,omitempty"`
	// ChannelInvalid marks replayed events whose channel no longer exists.
	ChannelInvalid bool   `json:"channel_invalid,omitempty"`
	Creator        string `json:"creator,omitempty"`

	From      string         `json:"from"`
	To        string         `json:"to,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	CallType  calls.CallType `json:"call_type,omitempty"`

	// Invite extension.
	GroupCall    bool     `json:"group_call,omitempty"`
	CallUserList []string `json:"call_user_list,omitempty"`
	GroupID      string   `json:"group_id,omitempty"`

	// Reject extension: distinguished busy marker.
	Busy bool `json:"busy,omitempty"`

	// Control extension.
	Control ControlOp `json:"control,omitempty"`

	Members []Member  `json:"members,omitempty"`
	MsgID   string    `json:"msg_id,omitempty"`
	Time    time.Time `json:"time,omitempty"`
}

type JoinResult struct {
	Channel ChannelInfo `json:"channel"`
	Members []Member    `json:"members"`
}

// PushInfo rides along invites for platforms that need a wake-up push.
type PushInfo struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Badge   bool   `json:"badge"`
}

type InviteRequest struct {
	ChannelID string
	Account   string
	RequestID string
	Push      PushInfo

	GroupCall    bool
	CallUserList []string
	GroupID      string
}

type CancelRequest struct {
	ChannelID string
	Account   string
	RequestID string
}

type AcceptRequest struct {
	ChannelID string
	// Account is the inviter the acceptance is addressed to.
	Account   string
	RequestID string
}

type RejectRequest struct {
	ChannelID string
	// Account is the inviter the rejection is addressed to.
	Account   string
	RequestID string
	// Busy marks an auto-reject caused by an occupied local state, which the
	// inviter surfaces differently from a genuine decline.
	Busy bool
}

type ControlRequest struct {
	ChannelID string
	// Account is the target; empty broadcasts to every other member.
	Account  string
	Op       ControlOp
	CallType calls.CallType
}
