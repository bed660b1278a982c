package rtc

import (
	"context"
	"errors"

	"callkit/internal/calls"
)

// Engine is the media-engine contract consumed by the call orchestrator.
// The engine owns capture, playback and transport; the orchestrator only
// sequences joins, subscriptions and device control around call-state
// transitions.
//
// Rules:
// - No media SDK calls outside rtc adapters.
// - All operations are for the single channel the engine is joined to.
// - Remote parties are addressed by media uid; the orchestrator owns the
//   uid<->account mapping.
type Engine interface {
	JoinChannel(ctx context.Context, params JoinParams) error
	LeaveChannel(ctx context.Context) error

	Subscribe(ctx context.Context, stream Stream, cfg StreamConfig) error
	Unsubscribe(ctx context.Context, stream Stream, cfg StreamConfig) error

	EnableLocalVideo(ctx context.Context, enabled bool) error
	MuteLocalAudio(ctx context.Context, mute bool) error
	SetAudioMute(ctx context.Context, mute bool, uid string) error

	GetDevices(ctx context.Context) (Devices, error)
	SwitchDevice(ctx context.Context, typ DeviceType, deviceID string) error
	SelectSpeakers(ctx context.Context, deviceID string) error
}

// EventSink receives peer-lifecycle events from the engine.
type EventSink interface {
	HandlePeerOnline(ev PeerEvent)
	HandlePeerLeave(ev PeerEvent)
	HandleStreamAdded(ev StreamEvent)
	HandleStreamRemoved(ev StreamEvent)
	HandleStreamSubscribed(ev StreamEvent)
	HandleNetworkQuality(stats []NetworkStats)
	HandleConnectionChange(state ConnectionState)
}

var (
	ErrNotJoined      = errors.New("rtc: not joined to a channel")
	ErrStreamNotFound = errors.New("rtc: stream not found")
	ErrDeviceIDEmpty  = errors.New("rtc: device id is empty")
)

type JoinParams struct {
	ChannelName string
	Type        calls.CallType
	UID         string
	// Token authorizes the join; empty when no token service is configured.
	Token string
}

// Stream is a remote media stream handle.
type Stream interface {
	UID() string
	HasAudio() bool
	HasVideo() bool
	// Stop halts local playback of the stream.
	Stop()
}

type StreamConfig struct {
	Audio bool
	Video bool
}

// LeaveReason distinguishes an orderly leave from a dropped connection.
type LeaveReason int

const (
	LeaveNormal LeaveReason = iota
	LeaveDropped
)

type PeerEvent struct {
	UID    string
	Reason LeaveReason
}

type StreamEvent struct {
	Stream Stream
}

type NetworkStats struct {
	UID             string `json:"uid"`
	UplinkQuality   int    `json:"uplink_quality"`
	DownlinkQuality int    `json:"downlink_quality"`
}

type ConnectionState string

const (
	ConnectionConnecting    ConnectionState = "CONNECTING"
	ConnectionConnected     ConnectionState = "CONNECTED"
	ConnectionDisconnecting ConnectionState = "DISCONNECTING"
	ConnectionDisconnected  ConnectionState = "DISCONNECTED"
)

type DeviceType string

const (
	DeviceMicrophone DeviceType = "microphone"
	DeviceCamera     DeviceType = "camera"
	DeviceSpeaker    DeviceType = "speaker"
)

type Device struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

type Devices struct {
	AudioIn  []Device `json:"audio_in"`
	AudioOut []Device `json:"audio_out"`
	Video    []Device `json:"video"`
}
