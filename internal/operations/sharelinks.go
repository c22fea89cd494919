package operations

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"semaphore/credentials/internal/db"
	"semaphore/credentials/internal/model"
)

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateShareLink grants time-bounded view access to an issued credential. A
// zero ttl uses the service default.
func (s *Service) CreateShareLink(ctx context.Context, actor model.Actor, credentialID uuid.UUID, ttl time.Duration) (model.ShareLink, error) {
	if err := requireRole(actor, model.RoleStudent, model.RoleAcademic, model.RoleAdmin); err != nil {
		return model.ShareLink{}, err
	}
	if ttl <= 0 {
		ttl = s.shareLinkTTL
	}
	var out model.ShareLink
	err := s.withTx(ctx, func(q db.Queries, _ *txEvents) error {
		c, err := q.LockCredential(ctx, credentialID)
		if err != nil {
			return lookup(err, ErrCredentialNotFound)
		}
		if c.Status != model.CredentialIssued {
			return badRequest(ErrCredentialNotIssued)
		}
		token, err := randomToken()
		if err != nil {
			return fmt.Errorf("share link token: %w", err)
		}
		now := s.now()
		link := model.ShareLink{
			ID:           uuid.New(),
			CredentialID: c.ID,
			Token:        token,
			ExpiresAt:    now.Add(ttl),
			IsActive:     true,
			CreatedBy:    actor.ID,
			CreatedAt:    now,
		}
		if err := q.CreateShareLink(ctx, link); err != nil {
			return err
		}
		out = link
		return nil
	})
	return out, err
}

// ResolveShareLink opens a share link: it counts the view and returns the
// verification of the credential behind it.
func (s *Service) ResolveShareLink(ctx context.Context, token string) (Verification, error) {
	var c model.Credential
	err := s.withTx(ctx, func(q db.Queries, _ *txEvents) error {
		link, err := q.GetShareLinkByToken(ctx, token)
		if err != nil {
			return lookup(err, ErrShareLinkNotFound)
		}
		if !link.Usable(s.now()) {
			return forbidden(ErrShareLinkInactive)
		}
		if c, err = q.GetCredential(ctx, link.CredentialID); err != nil {
			return lookup(err, ErrCredentialNotFound)
		}
		if c.Status != model.CredentialIssued {
			return forbidden(ErrShareLinkInactive)
		}
		return q.IncrementShareLinkViews(ctx, link.ID)
	})
	if err != nil {
		return Verification{}, err
	}
	return s.verify(ctx, c)
}

func (s *Service) DeactivateShareLink(ctx context.Context, actor model.Actor, id uuid.UUID) (model.ShareLink, error) {
	if err := requireRole(actor, model.RoleStudent, model.RoleAcademic, model.RoleAdmin); err != nil {
		return model.ShareLink{}, err
	}
	var out model.ShareLink
	err := s.withTx(ctx, func(q db.Queries, _ *txEvents) error {
		if err := q.DeactivateShareLink(ctx, id, s.now()); err != nil {
			return lookup(err, ErrShareLinkNotFound)
		}
		link, err := q.GetShareLink(ctx, id)
		out = link
		return lookup(err, ErrShareLinkNotFound)
	})
	return out, err
}

func (s *Service) ListShareLinks(ctx context.Context, credentialID uuid.UUID) ([]model.ShareLink, error) {
	q := s.store.Queries()
	if _, err := q.GetCredential(ctx, credentialID); err != nil {
		return nil, lookup(err, ErrCredentialNotFound)
	}
	return q.ListShareLinks(ctx, credentialID)
}
