package model

import "time"

// AllowanceStatus is the lifecycle status of a data allowance.
type AllowanceStatus string

const (
	AllowanceActive    AllowanceStatus = "active"
	AllowanceExhausted AllowanceStatus = "exhausted"
	AllowanceExpired   AllowanceStatus = "expired"
)

// Allowance is a finite quantity of consumable data owned by a user.
// CapacityMB is immutable after creation; ConsumedMB only ever grows.
// Allowances are never deleted, only status-transitioned.
type Allowance struct {
	ID          string          `gorm:"primaryKey;size:36"`
	OwnerID     string          `gorm:"index;size:36;not null"`
	Name        string          `gorm:"size:128;not null"`
	CapacityMB  int64           `gorm:"not null"`
	ConsumedMB  int64           `gorm:"not null"`
	Status      AllowanceStatus `gorm:"index;size:16;not null"`
	ExpiresAt   *time.Time      `gorm:"index"` // nil means no expiry, only exhaustion
	Alert75Sent bool            `gorm:"column:alert_75_sent;not null"`
	Alert90Sent bool            `gorm:"column:alert_90_sent;not null"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

// RemainingMB is always derived; it is never stored.
func (a *Allowance) RemainingMB() int64 {
	return a.CapacityMB - a.ConsumedMB
}

// UsagePercent returns the consumed share of capacity in percent.
func (a *Allowance) UsagePercent() int64 {
	if a.CapacityMB <= 0 {
		return 0
	}
	return a.ConsumedMB * 100 / a.CapacityMB
}
