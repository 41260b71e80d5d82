package model

import "time"

// SessionState is the lifecycle state of a download session.
type SessionState string

const (
	SessionPending      SessionState = "pending"
	SessionDownloading  SessionState = "downloading"
	SessionTransferring SessionState = "transferring"
	SessionStored       SessionState = "stored"
	SessionActive       SessionState = "active"
	SessionExhausted    SessionState = "exhausted"
	SessionExpired      SessionState = "expired"
	SessionFailed       SessionState = "failed"
)

// Terminal reports whether no further transitions are legal from s.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionExhausted, SessionExpired, SessionFailed:
		return true
	}
	return false
}

// PlanClass gates who may start a session download.
type PlanClass string

const (
	PlanFree              PlanClass = "free"
	PlanStandard          PlanClass = "standard"
	PlanUnlimitedRequired PlanClass = "unlimited_required"
)

// Session is a request to materialize a new Allowance via a simulated
// download. It exclusively owns at most one Allowance once stored.
type Session struct {
	ID                string       `gorm:"primaryKey;size:36"`
	OwnerID           string       `gorm:"index;size:36;not null"`
	Name              string       `gorm:"size:128;not null"`
	RequestedMB       int64        `gorm:"not null"`
	ValidityDays      int          `gorm:"not null"` // 0 means the allowance never expires
	PlanClass         PlanClass    `gorm:"size:32;not null"`
	PriceNGN          int64        `gorm:"not null"` // 0 marks free-tier sessions
	State             SessionState `gorm:"index;size:16;not null"`
	ProgressPercent   int          `gorm:"not null"`
	LinkedAllowanceID *string      `gorm:"size:36"` // nil until stored
	CredentialID      string       `gorm:"size:64"`
	ConsumedMB        int64        `gorm:"not null"`
	FailureReason     string       `gorm:"size:512"`
	CreatedAt         time.Time    `gorm:"index;not null"`
	ActivatedAt       *time.Time
	UpdatedAt         time.Time `gorm:"not null"`
}
