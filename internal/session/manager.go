package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"datapack-backend/internal/ledger"
	"datapack-backend/internal/model"
	"datapack-backend/internal/provision"
	"datapack-backend/internal/store"
)

var (
	// ErrQuotaDenied means a plan policy gate rejected the download.
	ErrQuotaDenied = errors.New("session: download denied by plan policy")

	// ErrInvalidStateTransition means the requested operation is not
	// legal from the session's current lifecycle state.
	ErrInvalidStateTransition = errors.New("session: invalid state transition")

	// ErrSessionExhausted means the linked allowance has no remaining
	// capacity.
	ErrSessionExhausted = errors.New("session: allowance exhausted")

	// ErrUnknownOption means the catalog has no such download option.
	ErrUnknownOption = errors.New("session: unknown download option")
)

// freeTierCapMB is the monthly budget of zero-price downloads per owner.
const freeTierCapMB int64 = 5 * 1024

// Manager drives the session lifecycle:
//
//	PENDING → DOWNLOADING → TRANSFERRING → STORED → ACTIVE → {EXHAUSTED|EXPIRED}
//
// with FAILED reachable from any non-terminal state.
type Manager struct {
	store  store.Store
	ledger *ledger.Ledger
	prov   provision.Provisioner
	pacer  Pacer
}

// NewManager creates a lifecycle manager with injected collaborators.
func NewManager(s store.Store, l *ledger.Ledger, p provision.Provisioner, pacer Pacer) *Manager {
	return &Manager{store: s, ledger: l, prov: p, pacer: pacer}
}

// StartDownload validates plan policy, creates the session in
// DOWNLOADING and drives the simulated chunked transfer in the
// background. The returned session reflects the just-created record.
func (m *Manager) StartDownload(ctx context.Context, ownerID string, opt Option) (*model.Session, error) {
	if err := m.checkDownloadPolicy(ctx, ownerID, opt); err != nil {
		return nil, err
	}

	sess := &model.Session{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Name:         opt.Name,
		RequestedMB:  opt.DataMB,
		ValidityDays: opt.ValidityDays,
		PlanClass:    opt.PlanClass,
		PriceNGN:     opt.PriceNGN,
		State:        model.SessionPending,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if err := m.store.SetSessionState(ctx, sess.ID, model.SessionDownloading); err != nil {
		return nil, fmt.Errorf("starting download: %w", err)
	}
	sess.State = model.SessionDownloading

	// The transfer outlives the request that started it.
	go m.RunDownload(context.Background(), sess.ID)

	return sess, nil
}

// checkDownloadPolicy applies the plan gates before any record exists.
func (m *Manager) checkDownloadPolicy(ctx context.Context, ownerID string, opt Option) error {
	switch {
	case opt.Free():
		now := time.Now().UTC()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		used, err := m.store.FreeRequestedMBSince(ctx, ownerID, monthStart)
		if err != nil {
			return fmt.Errorf("checking free quota: %w", err)
		}
		if used+opt.DataMB > freeTierCapMB {
			return fmt.Errorf("%w: free monthly cap of %dMB reached (%dMB used)", ErrQuotaDenied, freeTierCapMB, used)
		}
	case opt.PlanClass == model.PlanUnlimitedRequired:
		ok, err := m.store.HasActiveSubscription(ctx, ownerID, "unlimited")
		if err != nil {
			return fmt.Errorf("checking unlimited subscription: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: sizes above 5GB require an active unlimited subscription", ErrQuotaDenied)
		}
	}
	return nil
}

// RunDownload performs the whole simulated transfer for one session:
// chunked progress updates, the TRANSFERRING handover at 35%, credential
// issue and allowance materialization at 100%. Any failure moves the
// session to FAILED with the captured reason; there is no retry.
func (m *Manager) RunDownload(ctx context.Context, sessionID string) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("download for session %s aborted: %v", sessionID, err)
		return
	}
	if sess.State != model.SessionDownloading {
		log.Printf("download for session %s skipped: state is %q", sessionID, sess.State)
		return
	}

	if err := m.transfer(ctx, sess); err != nil {
		log.Printf("download for session %s failed: %v", sessionID, err)
		if ferr := m.store.FailSession(ctx, sessionID, err.Error()); ferr != nil {
			log.Printf("failed to mark session %s failed: %v", sessionID, ferr)
		}
	}
}

func (m *Manager) transfer(ctx context.Context, sess *model.Session) error {
	requested := sess.RequestedMB
	chunk := chunkSize(requested)

	var transferred int64
	transferring := false
	for transferred < requested {
		if err := m.pacer.Wait(ctx, chunk); err != nil {
			return fmt.Errorf("transfer interrupted: %w", err)
		}

		transferred += chunk
		if transferred > requested {
			transferred = requested
		}
		percent := int(transferred * 100 / requested)
		if err := m.store.UpdateSessionProgress(ctx, sess.ID, percent); err != nil {
			return fmt.Errorf("updating progress: %w", err)
		}

		if !transferring && percent >= transferringAtPercent {
			if err := m.store.SetSessionState(ctx, sess.ID, model.SessionTransferring); err != nil {
				return fmt.Errorf("entering transfer phase: %w", err)
			}
			transferring = true
		}
	}

	credentialID, err := m.prov.IssueCredential(ctx, sess.ID, requested)
	if err != nil {
		return err
	}

	allowance := &model.Allowance{
		ID:         uuid.NewString(),
		OwnerID:    sess.OwnerID,
		Name:       sess.Name,
		CapacityMB: requested,
		Status:     model.AllowanceActive,
	}
	if sess.ValidityDays > 0 {
		expires := time.Now().UTC().AddDate(0, 0, sess.ValidityDays)
		allowance.ExpiresAt = &expires
	}
	if err := m.store.CreateAllowance(ctx, allowance); err != nil {
		return fmt.Errorf("materializing allowance: %w", err)
	}

	if err := m.store.StoreSession(ctx, sess.ID, allowance.ID, credentialID); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Activate moves a STORED session to ACTIVE: the credential is activated
// and usage tracking starts from zero.
func (m *Manager) Activate(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != model.SessionStored {
		return nil, fmt.Errorf("%w: cannot activate session in state %q", ErrInvalidStateTransition, sess.State)
	}
	if sess.LinkedAllowanceID == nil {
		return nil, fmt.Errorf("%w: stored session has no linked allowance", ErrInvalidStateTransition)
	}

	allowance, err := m.store.GetAllowance(ctx, *sess.LinkedAllowanceID)
	if err != nil {
		return nil, err
	}
	if allowance.Status != model.AllowanceActive || allowance.RemainingMB() <= 0 {
		return nil, ErrSessionExhausted
	}

	if err := m.prov.ActivateCredential(ctx, sess.CredentialID); err != nil {
		return nil, err
	}

	if err := m.store.ActivateSession(ctx, sessionID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("activating session: %w", err)
	}
	return m.store.GetSession(ctx, sessionID)
}

// UsageResult reports the outcome of one usage tracking call.
type UsageResult struct {
	TakenMB     int64 `json:"taken_mb"`
	RemainingMB int64 `json:"remaining_mb"`
	Exhausted   bool  `json:"exhausted"`
}

// TrackUsage appends the audit event, routes consumption through the
// ledger against the session's linked allowance and ends the session
// when that allowance runs out.
func (m *Manager) TrackUsage(ctx context.Context, sessionID string, amountMB int64) (*UsageResult, error) {
	if amountMB <= 0 {
		return nil, fmt.Errorf("session: usage amount must be positive, got %d", amountMB)
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != model.SessionActive {
		return nil, fmt.Errorf("%w: cannot track usage in state %q", ErrInvalidStateTransition, sess.State)
	}
	if sess.LinkedAllowanceID == nil {
		return nil, fmt.Errorf("%w: active session has no linked allowance", ErrInvalidStateTransition)
	}

	if err := m.store.AppendUsageEvent(ctx, &model.UsageEvent{
		SessionID: sessionID,
		AmountMB:  amountMB,
	}); err != nil {
		return nil, fmt.Errorf("appending usage event: %w", err)
	}

	taken, allowance, err := m.ledger.Consume(ctx, *sess.LinkedAllowanceID, amountMB)
	if err != nil {
		return nil, err
	}
	if taken > 0 {
		if err := m.store.AddSessionUsage(ctx, sessionID, taken); err != nil {
			return nil, fmt.Errorf("updating session usage: %w", err)
		}
	}

	result := &UsageResult{TakenMB: taken, RemainingMB: allowance.RemainingMB()}
	if allowance.Status == model.AllowanceActive {
		return result, nil
	}

	// The allowance ran out or expired underneath the session.
	result.Exhausted = true
	endState := model.SessionExhausted
	if allowance.Status == model.AllowanceExpired {
		endState = model.SessionExpired
	}
	if err := m.store.SetSessionState(ctx, sessionID, endState); err != nil {
		return nil, fmt.Errorf("ending session: %w", err)
	}
	if sess.CredentialID != "" {
		if err := m.prov.RevokeCredential(ctx, sess.CredentialID); err != nil {
			return nil, err
		}
	}
	return result, nil
}
