package provision

import "context"

// CredentialUsage is externally-reported consumption for one credential.
type CredentialUsage struct {
	CredentialID string `json:"credential_id"`
	OwnerID      string `json:"owner_id"`
	UsedMB       int64  `json:"used_mb"`
}

// Provisioner issues, activates and revokes the access credential tied
// to a session, and reports externally-measured usage. Failures are
// surfaced to the caller as *Error; nothing here retries.
type Provisioner interface {
	IssueCredential(ctx context.Context, sessionID string, sizeMB int64) (string, error)
	ActivateCredential(ctx context.Context, credentialID string) error
	RevokeCredential(ctx context.Context, credentialID string) error
	CredentialUsage(ctx context.Context, credentialID string) (*CredentialUsage, error)
	OwnerUsage(ctx context.Context, ownerID string) ([]CredentialUsage, error)
}

// Error wraps a provisioning failure with the operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "provision: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
