// Package operations holds every state-changing use case: result entry and its
// lifecycle, degree proposals, credential issuance and revocation, share
// links. Each operation runs in one store transaction; follow-up work for the
// mint coordinator is written to the outbox inside that same transaction.
package operations

import (
	"context"
	"time"

	"semaphore/credentials/internal/db"
	"semaphore/credentials/internal/grading"
	"semaphore/credentials/internal/model"
)

// Notifier is poked after a transaction that wrote outbox events commits. It
// must not block.
type Notifier interface {
	Notify()
}

// TokenReader is the read side of the credential contract.
type TokenReader interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	GetDocumentHash(ctx context.Context, tokenID string) ([32]byte, error)
}

type Options struct {
	Institution  string
	ShareLinkTTL time.Duration
	Scale        grading.Scale
	Notifier     Notifier
	Tokens       TokenReader
	Now          func() time.Time
}

type Service struct {
	store        db.Store
	institution  string
	shareLinkTTL time.Duration
	scale        grading.Scale
	notifier     Notifier
	tokens       TokenReader
	now          func() time.Time
}

func NewService(store db.Store, opts Options) *Service {
	s := &Service{
		store:        store,
		institution:  opts.Institution,
		shareLinkTTL: opts.ShareLinkTTL,
		scale:        opts.Scale,
		notifier:     opts.Notifier,
		tokens:       opts.Tokens,
		now:          opts.Now,
	}
	if s.shareLinkTTL <= 0 {
		s.shareLinkTTL = 30 * 24 * time.Hour
	}
	if len(s.scale) == 0 {
		s.scale = grading.DefaultScale
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// txEvents collects outbox events for the running transaction so the relay is
// only notified when at least one was committed.
type txEvents struct {
	count int
}

func (s *Service) emit(ctx context.Context, q db.Queries, events *txEvents, kind model.JobKind, payload model.JobPayload) error {
	if err := q.InsertOutboxEvent(ctx, model.NewOutboxEvent(kind, payload, s.now())); err != nil {
		return err
	}
	events.count++
	return nil
}

// withTx runs fn in a transaction and notifies the relay after commit.
func (s *Service) withTx(ctx context.Context, fn func(q db.Queries, events *txEvents) error) error {
	events := &txEvents{}
	if err := s.store.WithTx(ctx, func(q db.Queries) error {
		events.count = 0
		return fn(q, events)
	}); err != nil {
		return err
	}
	if events.count > 0 && s.notifier != nil {
		s.notifier.Notify()
	}
	return nil
}

func requireRole(actor model.Actor, roles ...model.Role) error {
	if !actor.HasRole(roles...) {
		return forbidden(ErrRoleNotAllowed)
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
