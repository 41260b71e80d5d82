package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"datapack-backend/internal/model"
)

func (s *gormStore) CreateSession(ctx context.Context, sess *model.Session) error {
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *gormStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *gormStore) SessionsByOwner(ctx context.Context, ownerID string) ([]model.Session, error) {
	var sessions []model.Session
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (s *gormStore) ActiveSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := s.db.WithContext(ctx).
		Where("state = ?", model.SessionActive).
		Find(&sessions).Error
	return sessions, err
}

// UpdateSessionProgress only ever moves progress forward; a stale writer
// racing a fresher one cannot roll the percentage back.
func (s *gormStore) UpdateSessionProgress(ctx context.Context, id string, percent int) error {
	return s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND progress_percent < ?", id, percent).
		Update("progress_percent", percent).Error
}

func (s *gormStore) SetSessionState(ctx context.Context, id string, state model.SessionState) error {
	return s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Update("state", state).Error
}

func (s *gormStore) FailSession(ctx context.Context, id string, reason string) error {
	return s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":          model.SessionFailed,
			"failure_reason": reason,
		}).Error
}

// StoreSession completes a download: links the materialized allowance
// and the issued credential, and moves the session to stored.
func (s *gormStore) StoreSession(ctx context.Context, id, allowanceID, credentialID string) error {
	return s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":               model.SessionStored,
			"progress_percent":    100,
			"linked_allowance_id": allowanceID,
			"credential_id":       credentialID,
		}).Error
}

func (s *gormStore) ActivateSession(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":        model.SessionActive,
			"consumed_mb":  0,
			"activated_at": at,
		}).Error
}

func (s *gormStore) AddSessionUsage(ctx context.Context, id string, amountMB int64) error {
	return s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Update("consumed_mb", gorm.Expr("consumed_mb + ?", amountMB)).Error
}

// FreeRequestedMBSince sums the requested size of the owner's zero-price
// sessions created since the given instant. Failed sessions still count:
// the free tier is a download budget, not a success budget.
func (s *gormStore) FreeRequestedMBSince(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("owner_id = ? AND price_ngn = 0 AND created_at >= ?", ownerID, since).
		Select("COALESCE(SUM(requested_mb), 0)").
		Scan(&total).Error
	return total, err
}

func (s *gormStore) AppendUsageEvent(ctx context.Context, e *model.UsageEvent) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *gormStore) HasActiveSubscription(ctx context.Context, ownerID, plan string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.PlanSubscription{}).
		Where("owner_id = ? AND plan = ? AND status = ?", ownerID, plan, "active").
		Count(&count).Error
	return count > 0, err
}

func (s *gormStore) UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

func (s *gormStore) PushSubscriptionsByOwner(ctx context.Context, ownerID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Find(&subs).Error
	return subs, err
}
