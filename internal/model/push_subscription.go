package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// Alerts for an owner fan out to every subscription registered for them.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	OwnerID   string    `gorm:"index;size:36;not null"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
