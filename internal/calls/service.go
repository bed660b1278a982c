package calls

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call records.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, rec CallRecord) error
}

// Service records finished call rounds.
//
// Callers should treat recording as best-effort: a failed append must never
// block call teardown.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidRecord = errors.New("calls: invalid record")

func (s *Service) Record(ctx context.Context, rec CallRecord) error {
	if s.repo == nil {
		return errors.New("calls: repository not configured")
	}
	if rec.ChannelID == "" {
		return ErrInvalidRecord
	}
	if !rec.Reason.Valid() {
		return ErrInvalidRecord
	}
	if len(rec.Parties) == 0 {
		return ErrInvalidRecord
	}

	now := s.clock().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	return s.repo.Append(ctx, rec)
}
