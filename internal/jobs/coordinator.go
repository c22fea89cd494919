package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"semaphore/credentials/internal/chain"
	"semaphore/credentials/internal/model"
	"semaphore/credentials/internal/operations"
)

// Issuer is the storage side of minting. Every method re-reads current state,
// so handlers stay idempotent under redelivery.
type Issuer interface {
	PrepareStudentMint(ctx context.Context, studentID uuid.UUID) (operations.MintRequest, bool, error)
	RecordStudentMint(ctx context.Context, studentID uuid.UUID, record model.ChainRecord) (bool, error)
	EnsureSemesterCredential(ctx context.Context, semesterResultID uuid.UUID) (model.Credential, error)
	EnsureDegreeCredential(ctx context.Context, degreeProposalID uuid.UUID) (model.Credential, error)
	EnsureIncompleteCertificate(ctx context.Context, studentID uuid.UUID, yearsCompleted int, reason string) (model.Credential, error)
	PrepareCredentialMint(ctx context.Context, credentialID uuid.UUID) (operations.MintRequest, bool, error)
	RecordMint(ctx context.Context, credentialID uuid.UUID, record model.ChainRecord) (bool, error)
	RevocationTarget(ctx context.Context, credentialID uuid.UUID) (string, string, bool, error)
}

var errMissingID = errors.New("job payload is missing a required id")

type CoordinatorOptions struct {
	Workers     int
	MintTimeout time.Duration
	PollTimeout time.Duration
}

// Coordinator runs a pool of workers that mint credentials on chain and write
// the result back. Work on one credential or student is serialized through
// locks; a failed job is dead-lettered with its correlating ids.
type Coordinator struct {
	queue       Queue
	issuer      Issuer
	contract    chain.Contract
	locks       Locker
	workers     int
	mintTimeout time.Duration
	pollTimeout time.Duration
}

func NewCoordinator(queue Queue, issuer Issuer, contract chain.Contract, locks Locker, opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		queue:       queue,
		issuer:      issuer,
		contract:    contract,
		locks:       locks,
		workers:     opts.Workers,
		mintTimeout: opts.MintTimeout,
		pollTimeout: opts.PollTimeout,
	}
	if c.workers <= 0 {
		c.workers = 4
	}
	if c.mintTimeout <= 0 {
		c.mintTimeout = 2 * time.Minute
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = 5 * time.Second
	}
	if c.locks == nil {
		c.locks = NewKeyedMutex()
	}
	return c
}

// Run blocks until ctx is cancelled and every worker has returned. Workers
// log and retry their own failures, so they only stop with ctx.
func (c *Coordinator) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			c.work(ctx)
			return nil
		})
	}
	log.Printf("mint coordinator started with %d workers", c.workers)
	return g.Wait()
}

func (c *Coordinator) work(ctx context.Context) {
	for ctx.Err() == nil {
		d, err := c.queue.Dequeue(ctx, c.pollTimeout)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("mint coordinator dequeue error: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		c.Process(ctx, d)
	}
}

// Process handles one delivery and settles it: ack on success or no-op,
// dead letter on failure.
func (c *Coordinator) Process(ctx context.Context, d Delivery) {
	start := time.Now()
	outcome, err := c.Handle(ctx, d.Job)
	jobDuration.WithLabelValues(string(d.Job.Kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		outcome = outcomeFailed
	}
	jobsTotal.WithLabelValues(string(d.Job.Kind), outcome).Inc()

	// Settling must survive shutdown, or a finished job would be redelivered.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err != nil {
		log.Printf("mint job failed: %s attempt=%d: %v", describe(d.Job), d.Job.Attempt, err)
		if dlErr := c.queue.DeadLetter(settleCtx, d, err); dlErr != nil {
			log.Printf("mint job dead letter error: %s: %v", describe(d.Job), dlErr)
		}
		return
	}
	if ackErr := c.queue.Ack(settleCtx, d); ackErr != nil {
		log.Printf("mint job ack error: %s: %v", describe(d.Job), ackErr)
	}
}

// Handle runs one job and reports its outcome.
func (c *Coordinator) Handle(ctx context.Context, job Job) (string, error) {
	p := job.Payload
	switch job.Kind {
	case model.JobSyncStudent:
		if p.StudentID == nil {
			return "", errMissingID
		}
		return c.mintStudent(ctx, *p.StudentID)
	case model.JobSyncSemesterResult:
		if p.SemesterResultID == nil {
			return "", errMissingID
		}
		cred, err := c.issuer.EnsureSemesterCredential(ctx, *p.SemesterResultID)
		if operations.IsCode(err, operations.ErrResultNotApproved) {
			// Reopened before the job ran; approving again schedules a new one.
			return outcomeNoop, nil
		}
		if err != nil {
			return "", err
		}
		return c.mintCredential(ctx, cred.ID)
	case model.JobFinalizeDegree:
		if p.DegreeProposalID == nil {
			return "", errMissingID
		}
		cred, err := c.issuer.EnsureDegreeCredential(ctx, *p.DegreeProposalID)
		if err != nil {
			return "", err
		}
		return c.mintCredential(ctx, cred.ID)
	case model.JobIncompleteStudies:
		if p.StudentID == nil {
			return "", errMissingID
		}
		if p.YearsCompleted < 1 {
			return outcomeNoop, nil
		}
		cred, err := c.issuer.EnsureIncompleteCertificate(ctx, *p.StudentID, p.YearsCompleted, p.Reason)
		if err != nil {
			return "", err
		}
		return c.mintCredential(ctx, cred.ID)
	case model.JobRevokeCredentialMint:
		if p.CredentialID == nil {
			return "", errMissingID
		}
		return c.revokeToken(ctx, *p.CredentialID)
	}
	return "", fmt.Errorf("unknown job kind %q", job.Kind)
}

func (c *Coordinator) mintStudent(ctx context.Context, studentID uuid.UUID) (string, error) {
	unlock, err := c.locks.Lock(ctx, "student:"+studentID.String())
	if err != nil {
		return "", err
	}
	defer unlock()
	req, ok, err := c.issuer.PrepareStudentMint(ctx, studentID)
	if err != nil || !ok {
		return outcomeNoop, err
	}
	record, err := c.mint(ctx, req)
	if err != nil {
		return "", err
	}
	if _, err := c.issuer.RecordStudentMint(ctx, studentID, record); err != nil {
		return "", fmt.Errorf("record student token %s tx %s: %w", record.TokenID, record.TxHash, err)
	}
	return outcomeMinted, nil
}

// mintCredential re-reads the credential under its lock, so a duplicate job
// for an already minted credential finds nothing to do.
func (c *Coordinator) mintCredential(ctx context.Context, credentialID uuid.UUID) (string, error) {
	unlock, err := c.locks.Lock(ctx, "credential:"+credentialID.String())
	if err != nil {
		return "", err
	}
	defer unlock()
	req, ok, err := c.issuer.PrepareCredentialMint(ctx, credentialID)
	if err != nil || !ok {
		return outcomeNoop, err
	}
	record, err := c.mint(ctx, req)
	if err != nil {
		return "", fmt.Errorf("credential %s: %w", credentialID, err)
	}
	stored, err := c.issuer.RecordMint(ctx, credentialID, record)
	if err != nil {
		return "", fmt.Errorf("record credential %s token %s tx %s: %w", credentialID, record.TokenID, record.TxHash, err)
	}
	if !stored {
		log.Printf("mint coordinator: credential %s already had a token, minted token %s tx %s is orphaned", credentialID, record.TokenID, record.TxHash)
		return outcomeNoop, nil
	}
	return outcomeMinted, nil
}

// mint bounds the chain call. On timeout nothing has been written yet, so a
// later delivery retries from the same state.
func (c *Coordinator) mint(ctx context.Context, req operations.MintRequest) (model.ChainRecord, error) {
	mintCtx, cancel := context.WithTimeout(ctx, c.mintTimeout)
	defer cancel()
	return c.contract.Mint(mintCtx, req.Recipient, req.TokenURI, req.DocumentHash)
}

func (c *Coordinator) revokeToken(ctx context.Context, credentialID uuid.UUID) (string, error) {
	unlock, err := c.locks.Lock(ctx, "credential:"+credentialID.String())
	if err != nil {
		return "", err
	}
	defer unlock()
	tokenID, reason, ok, err := c.issuer.RevocationTarget(ctx, credentialID)
	if err != nil || !ok {
		return outcomeNoop, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.mintTimeout)
	defer cancel()
	revoked, err := c.contract.IsRevoked(callCtx, tokenID)
	if err != nil {
		return "", err
	}
	if revoked {
		return outcomeNoop, nil
	}
	if _, err := c.contract.Revoke(callCtx, tokenID, reason); err != nil {
		return "", err
	}
	return outcomeRevoked, nil
}

func describe(job Job) string {
	parts := []string{"job=" + job.ID.String(), "kind=" + string(job.Kind)}
	p := job.Payload
	for _, id := range []struct {
		name string
		val  *uuid.UUID
	}{
		{"student", p.StudentID},
		{"semester_result", p.SemesterResultID},
		{"degree_proposal", p.DegreeProposalID},
		{"credential", p.CredentialID},
	} {
		if id.val != nil {
			parts = append(parts, id.name+"="+id.val.String())
		}
	}
	return strings.Join(parts, " ")
}
