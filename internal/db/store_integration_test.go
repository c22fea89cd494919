package db_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"semaphore/credentials/internal/db"
	"semaphore/credentials/internal/model"
	"semaphore/credentials/internal/operations"
)

var (
	admin    = model.Actor{ID: uuid.MustParse("22222222-2222-2222-2222-222222222221"), Role: model.RoleAdmin}
	academic = model.Actor{ID: uuid.MustParse("22222222-2222-2222-2222-222222222222"), Role: model.RoleAcademic}
	faculty  = model.Actor{ID: uuid.MustParse("22222222-2222-2222-2222-222222222224"), Role: model.RoleFaculty}
)

func openStore(t *testing.T) *db.PgStore {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TEST_DATABASE_URL to run")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, databaseURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.NewStore(pool)
}

// suffix keeps rows of repeated runs against the same database apart.
func suffix() string {
	return strings.ToUpper(uuid.NewString()[:8])
}

func seedStudent(t *testing.T, svc *operations.Service) model.Student {
	t.Helper()
	ctx := context.Background()
	tag := suffix()
	program, err := svc.CreateProgram(ctx, admin, operations.ProgramInput{
		Code:              "CSE-" + tag,
		Name:              "Computer Science",
		DegreeName:        "Bachelor of Computer Science",
		RequiredCredits:   4,
		RequiredSemesters: 1,
	})
	if err != nil {
		t.Fatalf("create program: %v", err)
	}
	if _, err := svc.CreateCourse(ctx, admin, operations.CourseInput{ProgramID: program.ID, Code: "CS101", Name: "Programming", Credits: 4}); err != nil {
		t.Fatalf("create course: %v", err)
	}
	student, err := svc.RegisterStudent(ctx, admin, operations.StudentInput{
		ProgramID:        program.ID,
		EnrollmentNumber: "EN-" + tag,
		FirstName:        "Grace",
		LastName:         "Hopper",
		Email:            "grace." + strings.ToLower(tag) + "@example.com",
		WalletAddress:    "0x00000000000000000000000000000000000000a1",
		AdmissionYear:    2024,
		CurrentSemester:  1,
	})
	if err != nil {
		t.Fatalf("register student: %v", err)
	}
	return student
}

func TestPostgresCredentialLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	svc := operations.NewService(store, operations.Options{Institution: "EFREI", ShareLinkTTL: time.Hour})
	student := seedStudent(t, svc)

	result, err := svc.CreateSemesterResult(ctx, faculty, operations.SemesterResultInput{
		StudentID:    student.ID,
		Semester:     1,
		AcademicYear: "2024-2025",
		Courses:      []operations.CourseEntry{{CourseCode: "CS101", Grade: "A"}},
	})
	if err != nil {
		t.Fatalf("create result: %v", err)
	}
	if _, err := svc.TransitionResult(ctx, faculty, result.ID, model.ResultReviewed, ""); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := svc.TransitionResult(ctx, academic, result.ID, model.ResultApproved, "ok"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	c, err := svc.EnsureSemesterCredential(ctx, result.ID)
	if err != nil {
		t.Fatalf("ensure credential: %v", err)
	}
	again, err := svc.EnsureSemesterCredential(ctx, result.ID)
	if err != nil || again.ID != c.ID {
		t.Fatalf("expected the same credential, got %s %v", again.ID, err)
	}
	_, err = svc.TransitionResult(ctx, academic, result.ID, model.ResultReviewed, "")
	if !operations.IsCode(err, operations.ErrResultHasCredential) {
		t.Fatalf("expected reopen to be refused, got %v", err)
	}

	record := model.ChainRecord{TokenID: "41", ContractAddress: "0xc0", TxHash: "0xaa", BlockNumber: 9, ChainID: 31337}
	stored, err := svc.RecordMint(ctx, c.ID, record)
	if err != nil || !stored {
		t.Fatalf("record mint: %v %v", stored, err)
	}
	stored, err = svc.RecordMint(ctx, c.ID, model.ChainRecord{TokenID: "42", ContractAddress: "0xc0", TxHash: "0xbb", BlockNumber: 10, ChainID: 31337})
	if err != nil || stored {
		t.Fatalf("expected second write-back to be refused: %v %v", stored, err)
	}
	minted, err := svc.GetCredential(ctx, c.ID)
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if minted.Status != model.CredentialIssued || minted.Chain == nil || *minted.Chain != record || minted.IssuedAt == nil {
		t.Fatalf("unexpected minted credential %+v", minted)
	}
	issued, _ := svc.GetSemesterResult(ctx, result.ID)
	if issued.Status != model.ResultIssued {
		t.Fatalf("expected result ISSUED, got %s", issued.Status)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.CreateShareLink(ctx, admin, c.ID, 0); err != nil {
			t.Fatalf("create share link: %v", err)
		}
	}
	revocation, err := svc.RevokeCredential(ctx, admin, c.ID, "academic misconduct")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revocation.LinksDeactivated != 2 {
		t.Fatalf("expected 2 links deactivated, got %d", revocation.LinksDeactivated)
	}
	links, err := svc.ListShareLinks(ctx, c.ID)
	if err != nil {
		t.Fatalf("list share links: %v", err)
	}
	for _, link := range links {
		if link.IsActive || link.RevokedAt == nil {
			t.Fatalf("expected link %s to be deactivated, got %+v", link.ID, link)
		}
	}

	events, err := store.Queries().ListPendingOutbox(ctx, 0)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	var revokes int
	for _, e := range events {
		if e.Kind == model.JobRevokeCredentialMint && e.Payload.CredentialID != nil && *e.Payload.CredentialID == c.ID {
			revokes++
		}
	}
	if revokes != 1 {
		t.Fatalf("expected one token revoke event, got %d", revokes)
	}
}

func TestPostgresUniqueConstraintNames(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	svc := operations.NewService(store, operations.Options{Institution: "EFREI"})
	student := seedStudent(t, svc)
	q := store.Queries()
	now := time.Now().UTC()

	expect := func(err error, constraint string) {
		t.Helper()
		if !db.IsUniqueViolation(err, constraint) {
			t.Fatalf("expected violation of %s, got %v", constraint, err)
		}
	}

	program, err := q.GetProgram(ctx, student.ProgramID)
	if err != nil {
		t.Fatalf("get program: %v", err)
	}
	dupProgram := program
	dupProgram.ID = uuid.New()
	expect(q.CreateProgram(ctx, dupProgram), db.ConstraintProgramCode)

	dupStudent := student
	dupStudent.ID = uuid.New()
	expect(q.CreateStudent(ctx, dupStudent), db.ConstraintEnrollmentNumber)

	result := model.SemesterResult{
		ID:           uuid.New(),
		StudentID:    student.ID,
		Semester:     2,
		AcademicYear: "2025-2026",
		Status:       model.ResultApproved,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := q.CreateSemesterResult(ctx, result); err != nil {
		t.Fatalf("create result: %v", err)
	}
	dupResult := result
	dupResult.ID = uuid.New()
	expect(q.CreateSemesterResult(ctx, dupResult), db.ConstraintSemesterResult)

	credential := func(ref model.Reference, kind *string) model.Credential {
		return model.Credential{
			ID:              uuid.New(),
			StudentID:       student.ID,
			Type:            model.CredentialSemester,
			Reference:       ref,
			CertificateKind: kind,
			Title:           "Grade Card",
			Status:          model.CredentialPending,
			Metadata:        []byte(`{}`),
			DocumentHash:    strings.Repeat("ab", 32),
			MetadataURI:     "ipfs://test",
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}
	ref := model.SemesterRef{SemesterResultID: result.ID}
	if err := q.CreateCredential(ctx, credential(ref, nil)); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	expect(q.CreateCredential(ctx, credential(ref, nil)), db.ConstraintSemesterCredential)

	kind := operations.IncompleteStudies
	certificate := credential(model.NoRef{}, &kind)
	certificate.Type = model.CredentialCertificate
	if err := q.CreateCredential(ctx, certificate); err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	dupCertificate := credential(model.NoRef{}, &kind)
	dupCertificate.Type = model.CredentialCertificate
	expect(q.CreateCredential(ctx, dupCertificate), db.ConstraintCertificateKind)

	link := model.ShareLink{
		ID:           uuid.New(),
		CredentialID: certificate.ID,
		Token:        "token-" + suffix(),
		ExpiresAt:    now.Add(time.Hour),
		IsActive:     true,
		CreatedBy:    admin.ID,
		CreatedAt:    now,
	}
	if err := q.CreateShareLink(ctx, link); err != nil {
		t.Fatalf("create share link: %v", err)
	}
	dupLink := link
	dupLink.ID = uuid.New()
	expect(q.CreateShareLink(ctx, dupLink), db.ConstraintShareLinkToken)

	proposal := model.DegreeProposal{
		ID:                     uuid.New(),
		StudentID:              student.ID,
		ValidationErrors:       []string{},
		ExpectedGraduationYear: 2027,
		Status:                 model.ProposalPendingAcademic,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := q.CreateDegreeProposal(ctx, proposal); err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	dupProposal := proposal
	dupProposal.ID = uuid.New()
	expect(q.CreateDegreeProposal(ctx, dupProposal), db.ConstraintActiveProposal)
}

func TestPostgresTxRollsBack(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	program := model.Program{ID: uuid.New(), Code: "RB-" + suffix(), Name: "Rollback", DegreeName: "None", CreatedAt: time.Now().UTC()}
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(q db.Queries) error {
		if err := q.CreateProgram(ctx, program); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := store.Queries().GetProgram(ctx, program.ID); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected rolled back program to be missing, got %v", err)
	}
}

func TestPostgresOutboxDispatch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	q := store.Queries()
	studentID := uuid.New()
	event := model.NewOutboxEvent(model.JobSyncStudent, model.JobPayload{StudentID: &studentID}, time.Now().UTC())
	if err := q.InsertOutboxEvent(ctx, event); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	pending := func() (found bool) {
		t.Helper()
		events, err := q.ListPendingOutbox(ctx, 0)
		if err != nil {
			t.Fatalf("list outbox: %v", err)
		}
		for _, e := range events {
			if e.ID == event.ID {
				if e.Payload.StudentID == nil || *e.Payload.StudentID != studentID {
					t.Fatalf("payload did not round trip: %+v", e.Payload)
				}
				found = true
			}
		}
		return found
	}
	if !pending() {
		t.Fatalf("expected event to be pending")
	}
	if err := q.MarkOutboxDispatched(ctx, []uuid.UUID{event.ID}, time.Now().UTC()); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	if pending() {
		t.Fatalf("expected event to be dispatched")
	}
}
