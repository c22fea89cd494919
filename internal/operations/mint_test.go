package operations

import (
	"testing"

	"semaphore/credentials/internal/model"
	"semaphore/credentials/internal/snapshot"
)

func TestEnsureSemesterCredentialIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, r := f.approvedResult(t, "EN001")
	first, err := f.svc.EnsureSemesterCredential(f.ctx, r.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := f.svc.EnsureSemesterCredential(f.ctx, r.ID)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.ID != second.ID || first.DocumentHash != second.DocumentHash {
		t.Fatalf("expected the same credential, got %s and %s", first.ID, second.ID)
	}
}

func TestRecordMintWritesOnceAndIssuesResult(t *testing.T) {
	f := newFixture(t)
	_, r := f.approvedResult(t, "EN001")
	c, err := f.svc.EnsureSemesterCredential(f.ctx, r.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	req, ok, err := f.svc.PrepareCredentialMint(f.ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("prepare: %v %v", ok, err)
	}
	if req.TokenURI != c.MetadataURI || req.Recipient == "" {
		t.Fatalf("unexpected request %+v", req)
	}

	record := model.ChainRecord{TokenID: "1", ContractAddress: "0xc0", TxHash: "0xaa", BlockNumber: 5, ChainID: 31337}
	stored, err := f.svc.RecordMint(f.ctx, c.ID, record)
	if err != nil || !stored {
		t.Fatalf("record mint: %v %v", stored, err)
	}
	again, err := f.svc.RecordMint(f.ctx, c.ID, model.ChainRecord{TokenID: "2", ContractAddress: "0xc0", TxHash: "0xbb", BlockNumber: 6, ChainID: 31337})
	if err != nil || again {
		t.Fatalf("expected second write-back to be a no-op: %v %v", again, err)
	}

	minted, _ := f.svc.GetCredential(f.ctx, c.ID)
	if minted.Status != model.CredentialIssued || minted.Chain == nil || *minted.Chain != record || minted.IssuedAt == nil {
		t.Fatalf("unexpected minted credential %+v", minted)
	}
	if minted.DocumentHash != c.DocumentHash {
		t.Fatalf("hash changed on mint")
	}
	result, _ := f.svc.GetSemesterResult(f.ctx, r.ID)
	if result.Status != model.ResultIssued {
		t.Fatalf("expected result to be ISSUED after mint, got %s", result.Status)
	}
	if _, ok, err := f.svc.PrepareCredentialMint(f.ctx, c.ID); err != nil || ok {
		t.Fatalf("expected nothing to mint for a minted credential: %v %v", ok, err)
	}
}

func TestMintRecordedAfterRevokeSchedulesTokenRevoke(t *testing.T) {
	f := newFixture(t)
	c := f.issuedCredential(t, "EN001")
	if _, err := f.svc.RevokeCredential(f.ctx, admin, c.ID, "withdrawn"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, ok, _ := f.svc.PrepareCredentialMint(f.ctx, c.ID); ok {
		t.Fatalf("revoked credential should not be minted")
	}
	stored, err := f.svc.RecordMint(f.ctx, c.ID, model.ChainRecord{TokenID: "3", ContractAddress: "0xc0", TxHash: "0xcc", BlockNumber: 7, ChainID: 31337})
	if err != nil || !stored {
		t.Fatalf("record mint: %v %v", stored, err)
	}
	after, _ := f.svc.GetCredential(f.ctx, c.ID)
	if after.Status != model.CredentialRevoked {
		t.Fatalf("expected credential to stay REVOKED, got %s", after.Status)
	}
	if countKind(f.pendingOutbox(t), model.JobRevokeCredentialMint) != 1 {
		t.Fatalf("expected the late token to be scheduled for revocation")
	}
}

func TestStudentMint(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	req, ok, err := f.svc.PrepareStudentMint(f.ctx, s.ID)
	if err != nil || !ok || req.Recipient != s.WalletAddress {
		t.Fatalf("prepare student mint: %v %v %+v", ok, err, req)
	}
	again, _, _ := f.svc.PrepareStudentMint(f.ctx, s.ID)
	if again != req {
		t.Fatalf("expected a deterministic student record")
	}
	record := model.ChainRecord{TokenID: "10", ContractAddress: "0xc0", TxHash: "0xdd", BlockNumber: 8, ChainID: 31337}
	if stored, err := f.svc.RecordStudentMint(f.ctx, s.ID, record); err != nil || !stored {
		t.Fatalf("record student mint: %v %v", stored, err)
	}
	if stored, _ := f.svc.RecordStudentMint(f.ctx, s.ID, record); stored {
		t.Fatalf("expected second student write-back to be a no-op")
	}
	if _, ok, err := f.svc.PrepareStudentMint(f.ctx, s.ID); err != nil || ok {
		t.Fatalf("expected no mint for a student with a token: %v %v", ok, err)
	}

	nowallet, err := f.svc.RegisterStudent(f.ctx, admin, StudentInput{ProgramID: f.program.ID, EnrollmentNumber: "EN002"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, _, err = f.svc.PrepareStudentMint(f.ctx, nowallet.ID)
	expectCode(t, err, KindBadRequest, ErrMissingWallet)
}

func TestEnsureIncompleteCertificate(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	c, err := f.svc.EnsureIncompleteCertificate(f.ctx, s.ID, 2, "relocation")
	if err != nil {
		t.Fatalf("ensure certificate: %v", err)
	}
	if c.Type != model.CredentialCertificate || c.CertificateKind == nil || *c.CertificateKind != IncompleteStudies {
		t.Fatalf("unexpected certificate %+v", c)
	}
	if _, ok := c.Reference.(model.NoRef); !ok {
		t.Fatalf("expected certificate without reference, got %T", c.Reference)
	}
	again, err := f.svc.EnsureIncompleteCertificate(f.ctx, s.ID, 2, "relocation")
	if err != nil || again.ID != c.ID {
		t.Fatalf("expected the same certificate: %v", err)
	}
	_, err = f.svc.EnsureIncompleteCertificate(f.ctx, s.ID, 0, "relocation")
	expectCode(t, err, KindBadRequest, ErrInvalidInput)
}

func TestResultWithCredentialCannotBeReopened(t *testing.T) {
	f := newFixture(t)
	_, r := f.approvedResult(t, "EN001")
	c, err := f.svc.EnsureSemesterCredential(f.ctx, r.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	_, err = f.svc.TransitionResult(f.ctx, academic, r.ID, model.ResultReviewed, "")
	expectCode(t, err, KindConflict, ErrResultHasCredential)
	after, _ := f.svc.GetSemesterResult(f.ctx, r.ID)
	if after.Status != model.ResultApproved {
		t.Fatalf("expected result to stay APPROVED, got %s", after.Status)
	}
	again, err := f.svc.EnsureSemesterCredential(f.ctx, r.ID)
	if err != nil || again.DocumentHash != c.DocumentHash {
		t.Fatalf("expected the original credential, got %+v %v", again, err)
	}
}

func TestCorrectedResultSnapshotsCorrectedGrades(t *testing.T) {
	f := newFixture(t)
	_, r := f.approvedResult(t, "EN001")

	// Reopened before the mint job ran: there is nothing to snapshot yet.
	if _, err := f.svc.TransitionResult(f.ctx, academic, r.ID, model.ResultReviewed, ""); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_, err := f.svc.EnsureSemesterCredential(f.ctx, r.ID)
	expectCode(t, err, KindBadRequest, ErrResultNotApproved)
	if _, err := f.svc.TransitionResult(f.ctx, faculty, r.ID, model.ResultDraft, ""); err != nil {
		t.Fatalf("back to draft: %v", err)
	}

	current, _ := f.svc.GetSemesterResult(f.ctx, r.ID)
	courseResultID := current.Courses[0].ID
	for _, cr := range current.Courses {
		if cr.CourseID == f.courses["CS101"].ID {
			courseResultID = cr.ID
		}
	}
	if _, err := f.svc.UpdateCourseResult(f.ctx, faculty, courseResultID, grade("F")); err != nil {
		t.Fatalf("regrade: %v", err)
	}
	f.advance(t, r.ID, model.ResultApproved)

	c, err := f.svc.EnsureSemesterCredential(f.ctx, r.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	doc, err := snapshot.Decode(c.Metadata)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	live, _ := f.svc.GetSemesterResult(f.ctx, r.ID)
	if doc.Semester == nil || doc.Semester.SGPA != live.SGPA || doc.Semester.EarnedCredits != live.EarnedCredits {
		t.Fatalf("snapshot %+v does not match live result sgpa=%v earned=%d", doc.Semester, live.SGPA, live.EarnedCredits)
	}
	if live.SGPA != 3.33 || live.EarnedCredits != 2 {
		t.Fatalf("expected corrected sgpa 3.33 earned 2, got %v %d", live.SGPA, live.EarnedCredits)
	}
}
