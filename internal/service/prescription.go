package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
	"github.com/mansoorceksport/wellness/internal/infrastructure/prescriber"
)

// Prescription trigger reasons
const (
	PrescriptionReasonPurchase = "purchase"
	PrescriptionReasonRenewal  = "renewal"
	PrescriptionReasonGift     = "gift"
)

// PrescriptionGenerator starts prescription generation for a user
type PrescriptionGenerator interface {
	Generate(ctx context.Context, userID string, pkgType domain.PackageType, reason string) error
}

// PrescriberAdapter adapts prescriber.Client to PrescriptionGenerator
type PrescriberAdapter struct {
	client *prescriber.Client
}

func NewPrescriberAdapter(client *prescriber.Client) *PrescriberAdapter {
	return &PrescriberAdapter{client: client}
}

func (a *PrescriberAdapter) Generate(ctx context.Context, userID string, pkgType domain.PackageType, reason string) error {
	_, err := a.client.Generate(ctx, prescriber.GenerateRequest{
		UserID:      userID,
		PackageType: string(pkgType),
		Reason:      reason,
	})
	return err
}

// LogPrescriptionGenerator logs instead of calling the service
type LogPrescriptionGenerator struct{}

func (LogPrescriptionGenerator) Generate(ctx context.Context, userID string, pkgType domain.PackageType, reason string) error {
	log.Printf("[Prescription] (log only) generate for user %s (package: %s, reason: %s)", userID, pkgType, reason)
	return nil
}

// PrescriptionTrigger runs generation in the background. Work outlives the
// request that started it; Shutdown drains it.
type PrescriptionTrigger struct {
	generator      PrescriptionGenerator
	questionnaires domain.QuestionnaireRepository
	timeout        time.Duration

	mu     sync.Mutex // guards closed and every wg.Add
	closed bool
	wg     sync.WaitGroup
}

func NewPrescriptionTrigger(generator PrescriptionGenerator, questionnaires domain.QuestionnaireRepository, timeout time.Duration) *PrescriptionTrigger {
	if generator == nil {
		generator = LogPrescriptionGenerator{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &PrescriptionTrigger{
		generator:      generator,
		questionnaires: questionnaires,
		timeout:        timeout,
	}
}

// Dispatch starts generation and returns immediately. Errors are logged.
// After Shutdown it only logs the dropped request.
func (t *PrescriptionTrigger) Dispatch(userID string, pkgType domain.PackageType, reason string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		log.Printf("[Prescription] Shutting down, dropped generation for user %s (%s)", userID, reason)
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if err := t.generator.Generate(ctx, userID, pkgType, reason); err != nil {
			log.Printf("[Prescription] Generation failed for user %s (%s): %v", userID, reason, err)
			return
		}
		log.Printf("[Prescription] Generation started for user %s (%s)", userID, reason)
	}()
}

// DispatchIfQuestionnaireComplete dispatches only when the user finished the
// questionnaire. It reports whether generation was dispatched.
func (t *PrescriptionTrigger) DispatchIfQuestionnaireComplete(ctx context.Context, userID string, pkgType domain.PackageType, reason string) bool {
	q, err := t.questionnaires.GetLatestByUser(ctx, userID)
	if err != nil {
		log.Printf("[Prescription] Failed to read questionnaire for user %s: %v", userID, err)
		return false
	}
	if q == nil || !q.IsCompleted {
		return false
	}
	t.Dispatch(userID, pkgType, reason)
	return true
}

// Wait blocks until every dispatched generation finished. Dispatches may
// continue afterwards; use Shutdown when no more should start.
func (t *PrescriptionTrigger) Wait() {
	t.wg.Wait()
}

// Shutdown stops accepting dispatches and waits for the running ones
func (t *PrescriptionTrigger) Shutdown() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}
