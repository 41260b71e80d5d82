package model

import "time"

// UsageEvent is an append-only audit record of data consumed against a
// session. Events are never mutated or deleted.
type UsageEvent struct {
	ID        int64     `gorm:"autoIncrement;primaryKey"`
	SessionID string    `gorm:"index;size:36;not null"`
	AmountMB  int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"index;not null"`
}
