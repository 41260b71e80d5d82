package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"datapack-backend/config"
	"datapack-backend/internal/model"
	"datapack-backend/internal/notification"
	"datapack-backend/internal/provision"
	"datapack-backend/internal/session"
	"datapack-backend/internal/store"
)

// Scheduler runs the background reconciliation loops: usage/threshold
// checks, credential sync, expiry sweeps and provider sync. Each loop
// has its own interval and error boundary; one loop failing an
// iteration never stops the others.
type Scheduler struct {
	store    store.Store
	sessions *session.Manager
	notifier notification.Notifier
	prov     provision.Provisioner
	cfg      *config.MonitorConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler with injected collaborators. Nothing runs
// until Start is called.
func New(s store.Store, sessions *session.Manager, n notification.Notifier, p provision.Provisioner, cfg *config.MonitorConfig) *Scheduler {
	return &Scheduler{store: s, sessions: sessions, notifier: n, prov: p, cfg: cfg}
}

// Start launches the four loops. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.runLoop(ctx, "usage check", s.cfg.UsageCheckInterval, s.CheckUsageOnce)
	s.runLoop(ctx, "credential sync", s.cfg.CredentialSyncInterval, s.SyncCredentialsOnce)
	s.runLoop(ctx, "expiry sweep", s.cfg.ExpirySweepInterval, s.SweepExpiredOnce)
	s.runLoop(ctx, "provider sync", s.cfg.ProviderSyncInterval, s.SyncProviderOnce)

	log.Println("monitoring scheduler started")
}

// Stop signals every loop and waits for in-flight passes to finish. A
// pass already underway completes; the stop signal is only observed
// between iterations.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Println("monitoring scheduler stopped")
}

// runLoop runs fn immediately and then on every interval tick until the
// scheduler stops. The stop signal is only observed between iterations:
// a pass gets a context independent of it and always runs to completion.
func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("monitor loop %q running every %s", name, interval)

		passCtx := context.Background()
		fn(passCtx)

		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Printf("monitor loop %q shutting down", name)
				return
			case <-timer.C:
				fn(passCtx)
				timer.Reset(interval)
			}
		}
	}()
}

// CheckUsageOnce walks every active allowance looking for low balances
// and crossed usage thresholds. Threshold alerts fire exactly once via
// the persisted flags; the low-balance alert repeats by design.
func (s *Scheduler) CheckUsageOnce(ctx context.Context) {
	allowances, err := s.store.ActiveAllowances(ctx)
	if err != nil {
		log.Printf("usage check: fetching active allowances: %v", err)
		return
	}

	for i := range allowances {
		if err := s.checkAllowance(ctx, &allowances[i]); err != nil {
			log.Printf("usage check: allowance %s: %v", allowances[i].ID, err)
		}
	}
}

func (s *Scheduler) checkAllowance(ctx context.Context, a *model.Allowance) error {
	if a.RemainingMB() <= s.cfg.LowDataThresholdMB {
		s.notifier.Notify(a.OwnerID, notification.KindLowBalance, map[string]any{
			"allowance_id": a.ID,
			"remaining_mb": a.RemainingMB(),
			"capacity_mb":  a.CapacityMB,
		})
	}

	percent := a.UsagePercent()
	switch {
	case percent >= 90 && !a.Alert90Sent:
		if err := s.store.SetAllowanceAlert(ctx, a.ID, 90); err != nil {
			return err
		}
		s.notifier.Notify(a.OwnerID, notification.KindUsageThreshold, map[string]any{
			"allowance_id": a.ID,
			"threshold":    90,
		})
	case percent >= 75 && !a.Alert75Sent:
		if err := s.store.SetAllowanceAlert(ctx, a.ID, 75); err != nil {
			return err
		}
		s.notifier.Notify(a.OwnerID, notification.KindUsageThreshold, map[string]any{
			"allowance_id": a.ID,
			"threshold":    75,
		})
	}
	return nil
}

// SweepExpiredOnce expires overdue allowances. The conditional
// active→expired transition is the dedup key: only the pass that
// actually flipped the row notifies, so re-running is a no-op.
func (s *Scheduler) SweepExpiredOnce(ctx context.Context) {
	expired, err := s.store.ExpiredActiveAllowances(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("expiry sweep: fetching overdue allowances: %v", err)
		return
	}

	for i := range expired {
		a := &expired[i]
		transitioned, err := s.store.MarkAllowanceExpired(ctx, a.ID)
		if err != nil {
			log.Printf("expiry sweep: allowance %s: %v", a.ID, err)
			continue
		}
		if !transitioned {
			continue
		}
		log.Printf("expired allowance %s", a.ID)
		s.notifier.Notify(a.OwnerID, notification.KindAllowanceExpired, map[string]any{
			"allowance_id": a.ID,
		})
	}
}

// SyncCredentialsOnce reconciles externally-reported credential usage
// into usage tracking, session by session.
func (s *Scheduler) SyncCredentialsOnce(ctx context.Context) {
	active, err := s.store.ActiveSessions(ctx)
	if err != nil {
		log.Printf("credential sync: fetching active sessions: %v", err)
		return
	}

	for i := range active {
		sess := &active[i]
		if sess.CredentialID == "" {
			continue
		}
		usage, err := s.prov.CredentialUsage(ctx, sess.CredentialID)
		if err != nil {
			log.Printf("credential sync: session %s: %v", sess.ID, err)
			continue
		}
		s.replayUsage(ctx, sess, usage.UsedMB)
	}
}

// SyncProviderOnce pulls usage per owner with active credentials and
// replays it through usage tracking.
func (s *Scheduler) SyncProviderOnce(ctx context.Context) {
	active, err := s.store.ActiveSessions(ctx)
	if err != nil {
		log.Printf("provider sync: fetching active sessions: %v", err)
		return
	}

	byOwner := make(map[string][]*model.Session)
	for i := range active {
		sess := &active[i]
		byOwner[sess.OwnerID] = append(byOwner[sess.OwnerID], sess)
	}

	for ownerID, sessions := range byOwner {
		usages, err := s.prov.OwnerUsage(ctx, ownerID)
		if err != nil {
			log.Printf("provider sync: owner %s: %v", ownerID, err)
			continue
		}
		byCredential := make(map[string]provision.CredentialUsage, len(usages))
		for _, u := range usages {
			byCredential[u.CredentialID] = u
		}
		for _, sess := range sessions {
			if u, ok := byCredential[sess.CredentialID]; ok {
				s.replayUsage(ctx, sess, u.UsedMB)
			}
		}
	}
}

// replayUsage applies the delta between what the provider reports and
// what the session has already accounted for.
func (s *Scheduler) replayUsage(ctx context.Context, sess *model.Session, reportedUsedMB int64) {
	delta := reportedUsedMB - sess.ConsumedMB
	if delta <= 0 {
		return
	}
	result, err := s.sessions.TrackUsage(ctx, sess.ID, delta)
	if err != nil {
		log.Printf("usage replay: session %s: %v", sess.ID, err)
		return
	}
	if result.Exhausted {
		s.notifier.Notify(sess.OwnerID, notification.KindSessionExhausted, map[string]any{
			"session_id": sess.ID,
		})
	}
}
