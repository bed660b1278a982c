package calling

import (
	"sync"

	"callkit/internal/calls"
	"callkit/internal/rtc"
)

// EventKind enumerates every domain event the orchestrator can emit.
// The set is closed: handlers subscribe to kinds, not arbitrary names.
type EventKind string

const (
	EventInvited             EventKind = "invited"
	EventUserEntered         EventKind = "user_entered"
	EventUserAccepted        EventKind = "user_accepted"
	EventUserRejected        EventKind = "user_rejected"
	EventUserCancelled       EventKind = "user_cancelled"
	EventUserBusy            EventKind = "user_busy"
	EventUserLeft            EventKind = "user_left"
	EventUserDisconnected    EventKind = "user_disconnected"
	EventCallingTimeout      EventKind = "calling_timeout"
	EventCameraAvailable     EventKind = "camera_availability"
	EventAudioAvailable      EventKind = "audio_availability"
	EventNetworkQuality      EventKind = "network_quality"
	EventCallTypeChanged     EventKind = "call_type_changed"
	EventCallEnded           EventKind = "call_ended"
	EventDisconnected        EventKind = "disconnected"
	EventOtherDeviceAccepted EventKind = "other_device_accepted"
	EventOtherDeviceRejected EventKind = "other_device_rejected"
	EventSummarySent         EventKind = "summary_sent"
	EventError               EventKind = "error"
)

// Event is one domain event. Only the fields relevant for Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`

	Account   string         `json:"account,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	CallType  calls.CallType `json:"call_type,omitempty"`
	GroupCall bool           `json:"group_call,omitempty"`

	// Busy distinguishes an occupied-state auto-reject from a decline.
	Busy bool `json:"busy,omitempty"`

	// Available reports camera or audio availability for Account.
	Available bool `json:"available,omitempty"`

	Stats []rtc.NetworkStats `json:"stats,omitempty"`

	Record *calls.CallRecord `json:"record,omitempty"`

	// ErrKind and Detail are set for EventError only.
	ErrKind  string   `json:"err_kind,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
}

// Error event kinds.
const (
	ErrKindInvitePartial = "invite_partial_failure"
	ErrKindCancelPartial = "cancel_partial_failure"
	ErrKindTeardown      = "teardown"
	ErrKindSummary       = "summary"
)

// Handler receives events for the kinds it subscribed to. Handlers run on
// the emitting goroutine and must not call back into the orchestrator.
type Handler func(Event)

// Emitter is a typed publish/subscribe surface over the closed event set.
type Emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventKind]map[int]Handler
	all      map[int]Handler
}

func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[EventKind]map[int]Handler),
		all:      make(map[int]Handler),
	}
}

// On subscribes h to one event kind and returns its unsubscribe func.
func (e *Emitter) On(kind EventKind, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	if e.handlers[kind] == nil {
		e.handlers[kind] = make(map[int]Handler)
	}
	e.handlers[kind][id] = h
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers[kind], id)
	}
}

// OnAny subscribes h to every event kind.
func (e *Emitter) OnAny(h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.all[id] = h
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.all, id)
	}
}

func (e *Emitter) emit(ev Event) {
	e.mu.RLock()
	hs := make([]Handler, 0, len(e.handlers[ev.Kind])+len(e.all))
	for _, h := range e.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	for _, h := range e.all {
		hs = append(hs, h)
	}
	e.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}
