package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"datapack-backend/internal/model"
)

var (
	// ErrConflict means a conditional update lost the race against a
	// concurrent writer. The single operation may be retried.
	ErrConflict = errors.New("store: conditional update conflict")

	// ErrSessionNotFound means no session exists with the given id.
	ErrSessionNotFound = errors.New("store: session not found")

	// ErrAllowanceNotFound means no allowance exists with the given id.
	ErrAllowanceNotFound = errors.New("store: allowance not found")
)

// Store defines the interface for all database operations.
type Store interface {
	// Allowances.
	CreateAllowance(ctx context.Context, a *model.Allowance) error
	GetAllowance(ctx context.Context, id string) (*model.Allowance, error)
	ActiveAllowancesByOwner(ctx context.Context, ownerID string) ([]model.Allowance, error)
	ActiveAllowances(ctx context.Context) ([]model.Allowance, error)
	ExpiredActiveAllowances(ctx context.Context, now time.Time) ([]model.Allowance, error)
	ApplyConsumption(ctx context.Context, id string, prevConsumedMB, newConsumedMB int64, newStatus model.AllowanceStatus) error
	MarkAllowanceExpired(ctx context.Context, id string) (bool, error)
	SetAllowanceAlert(ctx context.Context, id string, thresholdPercent int) error

	// Sessions.
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	SessionsByOwner(ctx context.Context, ownerID string) ([]model.Session, error)
	ActiveSessions(ctx context.Context) ([]model.Session, error)
	UpdateSessionProgress(ctx context.Context, id string, percent int) error
	SetSessionState(ctx context.Context, id string, state model.SessionState) error
	FailSession(ctx context.Context, id string, reason string) error
	StoreSession(ctx context.Context, id, allowanceID, credentialID string) error
	ActivateSession(ctx context.Context, id string, at time.Time) error
	AddSessionUsage(ctx context.Context, id string, amountMB int64) error
	FreeRequestedMBSince(ctx context.Context, ownerID string, since time.Time) (int64, error)

	// Usage audit trail.
	AppendUsageEvent(ctx context.Context, e *model.UsageEvent) error

	// Subscription oracle.
	HasActiveSubscription(ctx context.Context, ownerID, plan string) (bool, error)

	// Push subscriptions.
	UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error
	PushSubscriptionsByOwner(ctx context.Context, ownerID string) ([]model.PushSubscription, error)

	// DB exposes the underlying handle for handlers that aggregate ad hoc.
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}
