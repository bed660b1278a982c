package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func validRecord() CallRecord {
	return CallRecord{
		ChannelID: "ch-1",
		Type:      CallTypeVideo,
		Reason:    EndComplete,
		Caller:    "alice",
		Callee:    "bob",
		Parties: []PartyDuration{
			{Account: "alice", ElapsedSeconds: 12},
			{Account: "bob", ElapsedSeconds: 11},
		},
	}
}

func TestServiceRecordFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	s := NewService(repo)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return fixed }

	if err := s.Record(context.Background(), validRecord()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	recs := repo.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if !recs[0].CreatedAt.Equal(fixed) {
		t.Fatalf("expected clock timestamp, got %v", recs[0].CreatedAt)
	}
}

func TestServiceRecordValidates(t *testing.T) {
	s := NewService(NewMemoryRepo())

	rec := validRecord()
	rec.ChannelID = ""
	if err := s.Record(context.Background(), rec); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord for missing channel, got %v", err)
	}

	rec = validRecord()
	rec.Reason = "hung_up"
	if err := s.Record(context.Background(), rec); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord for bad reason, got %v", err)
	}

	rec = validRecord()
	rec.Parties = nil
	if err := s.Record(context.Background(), rec); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord for empty parties, got %v", err)
	}
}

func TestEndReasonCodes(t *testing.T) {
	cases := map[EndReason]int{
		EndComplete: 1,
		EndCanceled: 2,
		EndRejected: 3,
		EndTimeout:  4,
		EndBusy:     5,
	}
	for reason, want := range cases {
		if got := reason.Code(); got != want {
			t.Fatalf("expected code %d for %q, got %d", want, reason, got)
		}
	}
	if EndReason("nope").Valid() {
		t.Fatalf("expected unknown reason to be invalid")
	}
}
