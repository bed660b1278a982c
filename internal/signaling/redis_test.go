package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"callkit/internal/calls"
)

func TestRedisKeyLayout(t *testing.T) {
	cases := map[string]string{
		notifyKey("alice"):   "callkit:notify:alice",
		offlineKey("alice"):  "callkit:offline:alice",
		unreadKey("alice"):   "callkit:unread:alice",
		summaryKey("alice"):  "callkit:summary:alice",
		channelKey("ch-1"):   "callkit:channel:ch-1",
		membersKey("ch-1"):   "callkit:channel:ch-1:members",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected key %q, got %q", want, got)
		}
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ev := ChannelEvent{
		Type:             EventInvite,
		ChannelID:        "ch-1",
		ChannelName:      "ch-1",
		ChannelCreatedAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
		From:             "alice",
		To:               "bob",
		RequestID:        "r1",
		CallType:         calls.CallTypeVideo,
		GroupCall:        true,
		CallUserList:     []string{"bob", "carol"},
		MsgID:            "m1",
	}
	data, err := json.Marshal(envelope{Kind: envNotify, DeviceID: "d1", Event: &ev})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	var out envelope
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Kind != envNotify || out.DeviceID != "d1" || out.Event == nil {
		t.Fatalf("unexpected envelope: %+v", out)
	}
	got := *out.Event
	if got.Type != ev.Type || got.RequestID != ev.RequestID || !got.GroupCall {
		t.Fatalf("event fields lost in transit: %+v", got)
	}
	if len(got.CallUserList) != 2 || got.CallUserList[1] != "carol" {
		t.Fatalf("call user list lost in transit: %+v", got.CallUserList)
	}
	if !got.ChannelCreatedAt.Equal(ev.ChannelCreatedAt) {
		t.Fatalf("channel create time lost in transit: %v", got.ChannelCreatedAt)
	}
}

func TestIsOfflineClassification(t *testing.T) {
	wrapped := fmt.Errorf("invite bob: %w", ErrPeerOffline)
	if !IsOffline(wrapped) {
		t.Fatalf("expected wrapped offline error to classify as offline")
	}
	if IsOffline(errors.New("invite bob: connection refused")) {
		t.Fatalf("expected transport error to not classify as offline")
	}
	if IsOffline(nil) {
		t.Fatalf("nil is not offline")
	}
}
