package model

import "time"

// PlanSubscription records a paid plan held by an owner. The session
// policy check for unlimited downloads looks for an active row here.
type PlanSubscription struct {
	ID        int64     `gorm:"autoIncrement;primaryKey"`
	OwnerID   string    `gorm:"index;size:36;not null"`
	Plan      string    `gorm:"size:32;not null"`
	Status    string    `gorm:"size:16;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
