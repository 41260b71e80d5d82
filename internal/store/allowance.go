package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"datapack-backend/internal/model"
)

func (s *gormStore) CreateAllowance(ctx context.Context, a *model.Allowance) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *gormStore) GetAllowance(ctx context.Context, id string) (*model.Allowance, error) {
	var a model.Allowance
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAllowanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ActiveAllowancesByOwner returns the owner's active allowances ordered
// soonest-to-expire first, with never-expiring allowances last. The
// "expires_at IS NULL" sort key is portable across postgres and sqlite.
func (s *gormStore) ActiveAllowancesByOwner(ctx context.Context, ownerID string) ([]model.Allowance, error) {
	var allowances []model.Allowance
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, model.AllowanceActive).
		Order("expires_at IS NULL, expires_at").
		Find(&allowances).Error
	return allowances, err
}

func (s *gormStore) ActiveAllowances(ctx context.Context) ([]model.Allowance, error) {
	var allowances []model.Allowance
	err := s.db.WithContext(ctx).
		Where("status = ?", model.AllowanceActive).
		Find(&allowances).Error
	return allowances, err
}

func (s *gormStore) ExpiredActiveAllowances(ctx context.Context, now time.Time) ([]model.Allowance, error) {
	var allowances []model.Allowance
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", model.AllowanceActive, now).
		Find(&allowances).Error
	return allowances, err
}

// ApplyConsumption advances an allowance's consumed counter with a
// compare-and-swap on the previously read value. Two concurrent
// allocations that both read the same consumed_mb cannot both commit;
// the loser gets ErrConflict and must re-read before retrying.
func (s *gormStore) ApplyConsumption(ctx context.Context, id string, prevConsumedMB, newConsumedMB int64, newStatus model.AllowanceStatus) error {
	if newConsumedMB < prevConsumedMB {
		return fmt.Errorf("consumed_mb may not decrease (%d -> %d)", prevConsumedMB, newConsumedMB)
	}
	res := s.db.WithContext(ctx).Model(&model.Allowance{}).
		Where("id = ? AND consumed_mb = ? AND status = ?", id, prevConsumedMB, model.AllowanceActive).
		Updates(map[string]any{
			"consumed_mb": newConsumedMB,
			"status":      newStatus,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkAllowanceExpired transitions an allowance from active to expired.
// The affected-row count is the idempotency signal: a second sweep over
// an already-expired allowance reports false and changes nothing.
func (s *gormStore) MarkAllowanceExpired(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Allowance{}).
		Where("id = ? AND status = ?", id, model.AllowanceActive).
		Update("status", model.AllowanceExpired)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) SetAllowanceAlert(ctx context.Context, id string, thresholdPercent int) error {
	var column string
	switch thresholdPercent {
	case 75:
		column = "alert_75_sent"
	case 90:
		column = "alert_90_sent"
	default:
		return fmt.Errorf("unknown alert threshold %d", thresholdPercent)
	}
	return s.db.WithContext(ctx).Model(&model.Allowance{}).
		Where("id = ?", id).
		Update(column, true).Error
}
