package store

import "time"

type IssuerModel struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"not null"`
	IssuerType string `gorm:"not null;default:'organization'"`
	Verified   bool   `gorm:"not null;default:false"`
	Domain     string
	PublicKey  string `gorm:"not null"`
	KeyID      string `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (IssuerModel) TableName() string { return "issuers" }

type CredentialModel struct {
	ID       string `gorm:"primaryKey"`
	IssuerID string `gorm:"not null;index"`
	AgentID  string `gorm:"not null;index:idx_issuer_agent"`
	// Payload is the exact signed JSON, persisted verbatim so verification
	// can be replayed byte-for-byte.
	Payload  string `gorm:"not null"`
	Status   string `gorm:"not null;default:'active';index"`
	KeyID    string `gorm:"not null"`
	PolicyID string `gorm:"index"`
	// Secret is the shared HMAC secret for request signing.
	Secret           string
	RevokedAt        *time.Time `gorm:"index"`
	RevocationReason string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (CredentialModel) TableName() string { return "credentials" }

type PolicyModel struct {
	ID          string `gorm:"primaryKey"`
	IssuerID    string `gorm:"not null;index:idx_issuer_name,unique"`
	Name        string `gorm:"not null;index:idx_issuer_name,unique"`
	Permissions string `gorm:"not null"`
	Version     int    `gorm:"not null;default:1"`
	IsActive    bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PolicyModel) TableName() string { return "policies" }

type PolicyVersionModel struct {
	ID           uint   `gorm:"primaryKey"`
	PolicyID     string `gorm:"not null;index:idx_policy_version,unique"`
	Version      int    `gorm:"not null;index:idx_policy_version,unique"`
	Permissions  string `gorm:"not null"`
	ChangeReason string
	CreatedAt    time.Time
}

func (PolicyVersionModel) TableName() string { return "policy_versions" }

type VerificationEventModel struct {
	ID           uint   `gorm:"primaryKey"`
	RequestID    string `gorm:"not null"`
	CredentialID string `gorm:"not null;index"`
	AgentID      string `gorm:"index"`
	Success      bool   `gorm:"not null"`
	FailureCode  string
	LatencyMS    int64
	CreatedAt    time.Time `gorm:"index"`
}

func (VerificationEventModel) TableName() string { return "verification_events" }

type ReputationModel struct {
	CredentialID      string `gorm:"primaryKey"`
	VerificationCount int64  `gorm:"not null;default:0"`
	SuccessCount      int64  `gorm:"not null;default:0"`
	FailureCount      int64  `gorm:"not null;default:0"`
	FirstSeenAt       time.Time
	LastSeenAt        time.Time
	LastSuccessAt     *time.Time
	UpdatedAt         time.Time
}

func (ReputationModel) TableName() string { return "reputation" }

type GrantModel struct {
	ID                    string `gorm:"primaryKey"`
	RequesterCredentialID string `gorm:"not null;index:idx_grant_triple,unique"`
	GrantorCredentialID   string `gorm:"not null;index:idx_grant_triple,unique"`
	Permission            string `gorm:"not null;index:idx_grant_triple,unique"`
	Constraints           string
	ValidUntil            time.Time
	CreatedAt             time.Time
}

func (GrantModel) TableName() string { return "grants" }

type WebhookSubscriptionModel struct {
	ID                  string `gorm:"primaryKey"`
	IssuerID            string `gorm:"not null;index"`
	URL                 string `gorm:"not null"`
	Secret              string `gorm:"not null"`
	Events              string `gorm:"not null;default:''"`
	Active              bool   `gorm:"not null;default:true"`
	ConsecutiveFailures int    `gorm:"not null;default:0"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (WebhookSubscriptionModel) TableName() string { return "webhook_subscriptions" }
