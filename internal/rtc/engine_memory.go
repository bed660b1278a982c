package rtc

import (
	"context"
	"sync"
)

// MemoryEngine is an in-memory Engine for tests and for running the daemon
// without a media backend. Tests drive peer-lifecycle events through the
// Fire* methods.

type MemoryEngine struct {
	mu         sync.Mutex
	sink       EventSink
	joined     bool
	joins      []JoinParams
	leaves     int
	subscribed map[string]StreamConfig
	videoOn    bool
	audioMuted bool
	remoteMute map[string]bool
	devices    Devices

	// JoinErr / LeaveErr force the next call to fail, for teardown tests.
	JoinErr  error
	LeaveErr error
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		subscribed: make(map[string]StreamConfig),
		remoteMute: make(map[string]bool),
		devices: Devices{
			AudioIn:  []Device{{ID: "mic-default", Label: "Default Microphone", Active: true}},
			AudioOut: []Device{{ID: "spk-default", Label: "Default Speaker", Active: true}},
			Video:    []Device{{ID: "cam-default", Label: "Default Camera", Active: true}},
		},
	}
}

// Bind attaches the event sink; events fired before Bind are dropped.
func (e *MemoryEngine) Bind(sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

func (e *MemoryEngine) JoinChannel(ctx context.Context, params JoinParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.JoinErr != nil {
		err := e.JoinErr
		e.JoinErr = nil
		return err
	}
	e.joined = true
	e.joins = append(e.joins, params)
	return nil
}

func (e *MemoryEngine) LeaveChannel(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.LeaveErr != nil {
		err := e.LeaveErr
		e.LeaveErr = nil
		return err
	}
	e.joined = false
	e.leaves++
	e.subscribed = make(map[string]StreamConfig)
	return nil
}

func (e *MemoryEngine) Subscribe(ctx context.Context, stream Stream, cfg StreamConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.joined {
		return ErrNotJoined
	}
	e.subscribed[stream.UID()] = cfg
	return nil
}

func (e *MemoryEngine) Unsubscribe(ctx context.Context, stream Stream, cfg StreamConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscribed, stream.UID())
	return nil
}

func (e *MemoryEngine) EnableLocalVideo(ctx context.Context, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoOn = enabled
	return nil
}

func (e *MemoryEngine) MuteLocalAudio(ctx context.Context, mute bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioMuted = mute
	return nil
}

func (e *MemoryEngine) SetAudioMute(ctx context.Context, mute bool, uid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subscribed[uid]; !ok {
		return ErrStreamNotFound
	}
	e.remoteMute[uid] = mute
	return nil
}

func (e *MemoryEngine) GetDevices(ctx context.Context) (Devices, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.devices, nil
}

func (e *MemoryEngine) SwitchDevice(ctx context.Context, typ DeviceType, deviceID string) error {
	if deviceID == "" {
		return ErrDeviceIDEmpty
	}
	return nil
}

func (e *MemoryEngine) SelectSpeakers(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return ErrDeviceIDEmpty
	}
	return nil
}

/* ===================== test drivers ===================== */

func (e *MemoryEngine) sinkRef() EventSink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

func (e *MemoryEngine) FirePeerOnline(uid string) {
	if s := e.sinkRef(); s != nil {
		s.HandlePeerOnline(PeerEvent{UID: uid})
	}
}

func (e *MemoryEngine) FirePeerLeave(uid string, reason LeaveReason) {
	if s := e.sinkRef(); s != nil {
		s.HandlePeerLeave(PeerEvent{UID: uid, Reason: reason})
	}
}

func (e *MemoryEngine) FireStreamAdded(stream Stream) {
	if s := e.sinkRef(); s != nil {
		s.HandleStreamAdded(StreamEvent{Stream: stream})
	}
}

func (e *MemoryEngine) FireStreamRemoved(stream Stream) {
	if s := e.sinkRef(); s != nil {
		s.HandleStreamRemoved(StreamEvent{Stream: stream})
	}
}

func (e *MemoryEngine) FireStreamSubscribed(stream Stream) {
	if s := e.sinkRef(); s != nil {
		s.HandleStreamSubscribed(StreamEvent{Stream: stream})
	}
}

func (e *MemoryEngine) FireNetworkQuality(stats []NetworkStats) {
	if s := e.sinkRef(); s != nil {
		s.HandleNetworkQuality(stats)
	}
}

func (e *MemoryEngine) FireConnectionChange(state ConnectionState) {
	if s := e.sinkRef(); s != nil {
		s.HandleConnectionChange(state)
	}
}

/* ===================== inspection ===================== */

func (e *MemoryEngine) Joined() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.joined
}

func (e *MemoryEngine) Joins() []JoinParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]JoinParams, len(e.joins))
	copy(out, e.joins)
	return out
}

func (e *MemoryEngine) Leaves() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaves
}

func (e *MemoryEngine) SubscribedTo(uid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.subscribed[uid]
	return ok
}

func (e *MemoryEngine) VideoEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.videoOn
}

// FakeStream is a Stream stub for tests.
type FakeStream struct {
	ID    string
	Audio bool
	Video bool

	mu      sync.Mutex
	stopped bool
}

func (s *FakeStream) UID() string    { return s.ID }
func (s *FakeStream) HasAudio() bool { return s.Audio }
func (s *FakeStream) HasVideo() bool { return s.Video }

func (s *FakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *FakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
