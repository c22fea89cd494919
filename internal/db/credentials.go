package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"semaphore/credentials/internal/model"
)

const credentialColumns = `id, student_id, type, semester_result_id, degree_proposal_id, certificate_kind, title, status,
    metadata, document_hash, metadata_uri, token_id, contract_address, tx_hash, block_number, chain_id,
    issued_at, revoked_at, revoked_by, revocation_reason, created_at, updated_at`

func (q *PgQueries) CreateCredential(ctx context.Context, c model.Credential) error {
	semesterResultID, degreeProposalID := model.ReferenceIDs(c.Reference)
	_, err := q.db.Exec(ctx, `
    INSERT INTO credentials (id, student_id, type, semester_result_id, degree_proposal_id, certificate_kind, title,
      status, metadata, document_hash, metadata_uri, issued_at, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
  `, c.ID, c.StudentID, c.Type, semesterResultID, degreeProposalID, c.CertificateKind, c.Title,
		c.Status, c.Metadata, c.DocumentHash, c.MetadataURI, c.IssuedAt, c.CreatedAt, c.UpdatedAt)
	return err
}

func (q *PgQueries) GetCredential(ctx context.Context, id uuid.UUID) (model.Credential, error) {
	return scanCredential(q.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id))
}

func (q *PgQueries) LockCredential(ctx context.Context, id uuid.UUID) (model.Credential, error) {
	return scanCredential(q.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1 FOR UPDATE`, id))
}

func (q *PgQueries) GetCredentialByReference(ctx context.Context, ref model.Reference) (model.Credential, error) {
	switch r := ref.(type) {
	case model.SemesterRef:
		return scanCredential(q.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE semester_result_id = $1`, r.SemesterResultID))
	case model.DegreeRef:
		return scanCredential(q.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE degree_proposal_id = $1`, r.DegreeProposalID))
	}
	return model.Credential{}, fmt.Errorf("credential lookup needs a semester or degree reference, got %T", ref)
}

func (q *PgQueries) GetCertificateCredential(ctx context.Context, studentID uuid.UUID, kind string) (model.Credential, error) {
	return scanCredential(q.db.QueryRow(ctx, `
    SELECT `+credentialColumns+`
    FROM credentials
    WHERE student_id = $1 AND certificate_kind = $2
  `, studentID, kind))
}

func (q *PgQueries) ListCredentials(ctx context.Context, studentID uuid.UUID) ([]model.Credential, error) {
	rows, err := q.db.Query(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE student_id = $1 ORDER BY created_at`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var credentials []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, c)
	}
	return credentials, rows.Err()
}

func (q *PgQueries) UpdateCredentialStatus(ctx context.Context, c model.Credential) error {
	return rowsAffected(q.db.Exec(ctx, `
    UPDATE credentials
    SET status = $1, issued_at = $2, revoked_at = $3, revoked_by = $4, revocation_reason = $5, updated_at = $6
    WHERE id = $7
  `, c.Status, c.IssuedAt, c.RevokedAt, c.RevokedBy, c.RevocationReason, c.UpdatedAt, c.ID))
}

// RecordCredentialMint stores every chain field in one statement and moves a
// pending credential to issued. It reports false if a token was already
// recorded, leaving the row untouched.
func (q *PgQueries) RecordCredentialMint(ctx context.Context, id uuid.UUID, record model.ChainRecord, issuedAt time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
    UPDATE credentials
    SET token_id = $1, contract_address = $2, tx_hash = $3, block_number = $4, chain_id = $5,
      status = CASE WHEN status = 'PENDING' THEN 'ISSUED' ELSE status END,
      issued_at = COALESCE(issued_at, $6),
      updated_at = $6
    WHERE id = $7 AND token_id IS NULL
  `, record.TokenID, record.ContractAddress, record.TxHash, int64(record.BlockNumber), record.ChainID, issuedAt, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanCredential(row pgx.Row) (model.Credential, error) {
	var c model.Credential
	var semesterResultID, degreeProposalID *uuid.UUID
	var tokenID, contract, txHash *string
	var block, chainID *int64
	err := row.Scan(
		&c.ID,
		&c.StudentID,
		&c.Type,
		&semesterResultID,
		&degreeProposalID,
		&c.CertificateKind,
		&c.Title,
		&c.Status,
		&c.Metadata,
		&c.DocumentHash,
		&c.MetadataURI,
		&tokenID,
		&contract,
		&txHash,
		&block,
		&chainID,
		&c.IssuedAt,
		&c.RevokedAt,
		&c.RevokedBy,
		&c.RevocationReason,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.Reference = model.ReferenceFromIDs(semesterResultID, degreeProposalID)
	c.Chain = chainRecord(tokenID, contract, txHash, block, chainID)
	return c, nil
}

const shareLinkColumns = `id, credential_id, token, expires_at, is_active, revoked_at, view_count, created_by, created_at`

func (q *PgQueries) CreateShareLink(ctx context.Context, link model.ShareLink) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO share_links (id, credential_id, token, expires_at, is_active, view_count, created_by, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
  `, link.ID, link.CredentialID, link.Token, link.ExpiresAt, link.IsActive, link.ViewCount, link.CreatedBy, link.CreatedAt)
	return err
}

func (q *PgQueries) GetShareLink(ctx context.Context, id uuid.UUID) (model.ShareLink, error) {
	return scanShareLink(q.db.QueryRow(ctx, `SELECT `+shareLinkColumns+` FROM share_links WHERE id = $1`, id))
}

func (q *PgQueries) GetShareLinkByToken(ctx context.Context, token string) (model.ShareLink, error) {
	return scanShareLink(q.db.QueryRow(ctx, `SELECT `+shareLinkColumns+` FROM share_links WHERE token = $1`, token))
}

func (q *PgQueries) ListShareLinks(ctx context.Context, credentialID uuid.UUID) ([]model.ShareLink, error) {
	rows, err := q.db.Query(ctx, `SELECT `+shareLinkColumns+` FROM share_links WHERE credential_id = $1 ORDER BY created_at`, credentialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []model.ShareLink
	for rows.Next() {
		link, err := scanShareLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (q *PgQueries) DeactivateShareLink(ctx context.Context, id uuid.UUID, at time.Time) error {
	return rowsAffected(q.db.Exec(ctx, `
    UPDATE share_links
    SET is_active = false, revoked_at = COALESCE(revoked_at, $1)
    WHERE id = $2
  `, at, id))
}

func (q *PgQueries) DeactivateShareLinks(ctx context.Context, credentialID uuid.UUID, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
    UPDATE share_links
    SET is_active = false, revoked_at = $1
    WHERE credential_id = $2 AND is_active = true
  `, at, credentialID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *PgQueries) IncrementShareLinkViews(ctx context.Context, id uuid.UUID) error {
	return rowsAffected(q.db.Exec(ctx, `UPDATE share_links SET view_count = view_count + 1 WHERE id = $1`, id))
}

func scanShareLink(row pgx.Row) (model.ShareLink, error) {
	var link model.ShareLink
	err := row.Scan(&link.ID, &link.CredentialID, &link.Token, &link.ExpiresAt, &link.IsActive, &link.RevokedAt,
		&link.ViewCount, &link.CreatedBy, &link.CreatedAt)
	return link, err
}
