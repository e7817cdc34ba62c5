// Package store is the sqlite persistence layer. One Repository backs
// every core component's store interface.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"github.com/agentid/agentid-core/pkg/a2a"
	"github.com/agentid/agentid-core/pkg/broadcast"
	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/guard"
	"github.com/agentid/agentid-core/pkg/lifecycle"
	"github.com/agentid/agentid-core/pkg/policy"
	"github.com/agentid/agentid-core/pkg/reputation"
	"github.com/agentid/agentid-core/pkg/verifier"
	"github.com/agentid/agentid-core/pkg/webhook"
)

// Open opens (or creates) the sqlite database at path. WAL keeps readers
// off the writer's lock, and the busy timeout makes concurrent writers
// queue instead of failing with SQLITE_BUSY — background bookkeeping
// (verification events, reputation counters) must never fail a foreground
// request over lock contention.
func Open(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{})
}

// Repository implements the persistence contracts of the core packages.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Interface conformance.
var (
	_ verifier.Store         = (*Repository)(nil)
	_ verifier.EventRecorder = (*Repository)(nil)
	_ lifecycle.Store        = (*Repository)(nil)
	_ policy.Store           = (*Repository)(nil)
	_ reputation.Store       = (*Repository)(nil)
	_ a2a.Store              = (*Repository)(nil)
	_ webhook.Store          = (*Repository)(nil)
	_ guard.SecretResolver   = (*Repository)(nil)
)

// --- issuers ---

// CreateIssuer persists a new issuer.
func (r *Repository) CreateIssuer(ctx context.Context, issuer *credential.Issuer) error {
	m := IssuerModel{
		ID:         issuer.ID,
		Name:       issuer.Name,
		IssuerType: issuer.IssuerType,
		Verified:   issuer.Verified,
		Domain:     issuer.Domain,
		PublicKey:  issuer.PublicKey,
		KeyID:      issuer.KeyID,
		CreatedAt:  issuer.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert issuer: %w", err)
	}
	return nil
}

// GetIssuer fetches an issuer by id.
func (r *Repository) GetIssuer(ctx context.Context, id string) (*credential.Issuer, error) {
	var m IssuerModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credential.ErrIssuerNotFound
		}
		return nil, fmt.Errorf("fetch issuer: %w", err)
	}
	return &credential.Issuer{
		ID:         m.ID,
		Name:       m.Name,
		IssuerType: m.IssuerType,
		Verified:   m.Verified,
		Domain:     m.Domain,
		PublicKey:  m.PublicKey,
		KeyID:      m.KeyID,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// GetIssuerPublicKey resolves the issuer's current public key.
func (r *Repository) GetIssuerPublicKey(ctx context.Context, issuerID string) (string, error) {
	issuer, err := r.GetIssuer(ctx, issuerID)
	if err != nil {
		return "", err
	}
	return issuer.PublicKey, nil
}

// MarkIssuerVerified flips the verified flag after domain verification.
func (r *Repository) MarkIssuerVerified(ctx context.Context, issuerID string) error {
	result := r.db.WithContext(ctx).Model(&IssuerModel{}).
		Where("id = ?", issuerID).
		Update("verified", true)
	if result.Error != nil {
		return fmt.Errorf("mark issuer verified: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return credential.ErrIssuerNotFound
	}
	return nil
}

// --- credentials ---

func credentialToModel(rec *credential.Record) (*CredentialModel, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &CredentialModel{
		ID:               rec.Payload.CredentialID,
		IssuerID:         rec.Payload.Issuer.IssuerID,
		AgentID:          rec.Payload.AgentID,
		Payload:          string(payload),
		Status:           string(rec.Status),
		KeyID:            rec.KeyID,
		PolicyID:         rec.PolicyID,
		RevokedAt:        rec.RevokedAt,
		RevocationReason: rec.RevocationReason,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}, nil
}

func modelToCredential(m *CredentialModel) (*credential.Record, error) {
	var payload credential.Payload
	if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", m.ID, err)
	}
	return &credential.Record{
		Payload:          payload,
		Status:           credential.Status(m.Status),
		KeyID:            m.KeyID,
		PolicyID:         m.PolicyID,
		RevokedAt:        m.RevokedAt,
		RevocationReason: m.RevocationReason,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

// GetCredential fetches a stored credential by id.
func (r *Repository) GetCredential(ctx context.Context, id string) (*credential.Record, error) {
	var m CredentialModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("fetch credential: %w", err)
	}
	return modelToCredential(&m)
}

// HasActiveCredential reports whether an active credential exists for the
// (issuer, agent) pair.
func (r *Repository) HasActiveCredential(ctx context.Context, issuerID, agentID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("issuer_id = ? AND agent_id = ? AND status = ?", issuerID, agentID, string(credential.StatusActive)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count active credentials: %w", err)
	}
	return count > 0, nil
}

// CreateCredential persists a newly issued credential.
func (r *Repository) CreateCredential(ctx context.Context, rec *credential.Record) error {
	m, err := credentialToModel(rec)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return credential.NewError(credential.ErrCodeLifecycleViolation,
				"an active credential already exists for this agent")
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// UpdateCredential rewrites a credential's payload and status.
func (r *Repository) UpdateCredential(ctx context.Context, rec *credential.Record) error {
	m, err := credentialToModel(rec)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("id = ?", m.ID).
		Updates(map[string]any{
			"payload":    m.Payload,
			"status":     m.Status,
			"policy_id":  m.PolicyID,
			"updated_at": m.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update credential: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return credential.ErrNotFound
	}
	return nil
}

// RevokeCredential flips the status to revoked atomically. The guarded
// WHERE clause makes a concurrent double-revoke lose cleanly.
func (r *Repository) RevokeCredential(ctx context.Context, id, reason string, at time.Time) (*credential.Record, error) {
	var rec *credential.Record
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&CredentialModel{}).
			Where("id = ? AND status <> ?", id, string(credential.StatusRevoked)).
			Updates(map[string]any{
				"status":            string(credential.StatusRevoked),
				"revoked_at":        at,
				"revocation_reason": reason,
				"updated_at":        at,
			})
		if result.Error != nil {
			return fmt.Errorf("revoke credential: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&CredentialModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("revoke credential: %w", err)
			}
			if count == 0 {
				return credential.ErrNotFound
			}
			return credential.NewError(credential.ErrCodeLifecycleViolation,
				"credential is already revoked")
		}

		var m CredentialModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return fmt.Errorf("reload credential: %w", err)
		}
		var convErr error
		rec, convErr = modelToCredential(&m)
		return convErr
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListCredentials returns the issuer's credentials, newest first.
func (r *Repository) ListCredentials(ctx context.Context, issuerID string, limit int) ([]*credential.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []CredentialModel
	err := r.db.WithContext(ctx).
		Where("issuer_id = ?", issuerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	records := make([]*credential.Record, 0, len(models))
	for i := range models {
		rec, err := modelToCredential(&models[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// SetCredentialSecret stores the request-signing secret for a credential.
func (r *Repository) SetCredentialSecret(ctx context.Context, id, secret string) error {
	result := r.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("id = ?", id).
		Update("secret", secret)
	if result.Error != nil {
		return fmt.Errorf("set credential secret: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return credential.ErrNotFound
	}
	return nil
}

// Secret returns the request-signing secret for a credential.
func (r *Repository) Secret(ctx context.Context, credentialID string) (string, error) {
	var m CredentialModel
	if err := r.db.WithContext(ctx).Select("secret").First(&m, "id = ?", credentialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", credential.ErrNotFound
		}
		return "", fmt.Errorf("fetch credential secret: %w", err)
	}
	if m.Secret == "" {
		return "", credential.ErrNotFound
	}
	return m.Secret, nil
}

// ListRevocationsSince returns revocations at or after the given time,
// oldest first. A zero time returns all of them.
func (r *Repository) ListRevocationsSince(ctx context.Context, since time.Time) ([]broadcast.Revocation, error) {
	q := r.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("status = ?", string(credential.StatusRevoked))
	if !since.IsZero() {
		q = q.Where("revoked_at >= ?", since)
	}
	var models []CredentialModel
	if err := q.Order("revoked_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list revocations: %w", err)
	}
	revocations := make([]broadcast.Revocation, 0, len(models))
	for _, m := range models {
		rev := broadcast.Revocation{
			CredentialID: m.ID,
			AgentID:      m.AgentID,
			IssuerID:     m.IssuerID,
			Reason:       m.RevocationReason,
		}
		if m.RevokedAt != nil {
			rev.RevokedAt = *m.RevokedAt
		}
		revocations = append(revocations, rev)
	}
	return revocations, nil
}

// --- policies ---

func policyToModel(p *policy.Policy) (*PolicyModel, error) {
	permissions, err := json.Marshal(p.Permissions)
	if err != nil {
		return nil, fmt.Errorf("encode permissions: %w", err)
	}
	return &PolicyModel{
		ID:          p.ID,
		IssuerID:    p.IssuerID,
		Name:        p.Name,
		Permissions: string(permissions),
		Version:     p.Version,
		IsActive:    p.IsActive,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func modelToPolicy(m *PolicyModel) (*policy.Policy, error) {
	var permissions []credential.Permission
	if err := json.Unmarshal([]byte(m.Permissions), &permissions); err != nil {
		return nil, fmt.Errorf("decode permissions for %s: %w", m.ID, err)
	}
	return &policy.Policy{
		ID:          m.ID,
		IssuerID:    m.IssuerID,
		Name:        m.Name,
		Permissions: permissions,
		Version:     m.Version,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

// GetPolicy fetches a policy by id.
func (r *Repository) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	var m PolicyModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("fetch policy: %w", err)
	}
	return modelToPolicy(&m)
}

// FindPolicyByName resolves the (issuer, name) pair.
func (r *Repository) FindPolicyByName(ctx context.Context, issuerID, name string) (*policy.Policy, error) {
	var m PolicyModel
	err := r.db.WithContext(ctx).First(&m, "issuer_id = ? AND name = ?", issuerID, name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("find policy: %w", err)
	}
	return modelToPolicy(&m)
}

// CreatePolicy persists a new policy.
func (r *Repository) CreatePolicy(ctx context.Context, p *policy.Policy) error {
	m, err := policyToModel(p)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

// UpdatePolicy rewrites a policy's permissions and version.
func (r *Repository) UpdatePolicy(ctx context.Context, p *policy.Policy) error {
	m, err := policyToModel(p)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&PolicyModel{}).
		Where("id = ?", m.ID).
		Updates(map[string]any{
			"permissions": m.Permissions,
			"version":     m.Version,
			"is_active":   m.IsActive,
			"updated_at":  m.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update policy: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return credential.ErrNotFound
	}
	return nil
}

// AppendPolicyVersion records an immutable version snapshot.
func (r *Repository) AppendPolicyVersion(ctx context.Context, v *policy.Version) error {
	permissions, err := json.Marshal(v.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	m := PolicyVersionModel{
		PolicyID:     v.PolicyID,
		Version:      v.Version,
		Permissions:  string(permissions),
		ChangeReason: v.ChangeReason,
		CreatedAt:    v.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert policy version: %w", err)
	}
	return nil
}

// DeletePolicy removes a policy row. Version history is kept for audit.
func (r *Repository) DeletePolicy(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&PolicyModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	return nil
}

// AssignPolicy attaches the policy to the given credentials.
func (r *Repository) AssignPolicy(ctx context.Context, policyID string, credentialIDs []string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("id IN ?", credentialIDs).
		Update("policy_id", policyID)
	if result.Error != nil {
		return 0, fmt.Errorf("assign policy: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DetachPolicy clears the policy reference from every credential using it.
func (r *Repository) DetachPolicy(ctx context.Context, policyID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("policy_id = ?", policyID).
		Update("policy_id", "")
	if result.Error != nil {
		return 0, fmt.Errorf("detach policy: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DetachCredentials clears the policy reference from the given credentials
// where they actually carry it.
func (r *Repository) DetachCredentials(ctx context.Context, policyID string, credentialIDs []string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("policy_id = ? AND id IN ?", policyID, credentialIDs).
		Update("policy_id", "")
	if result.Error != nil {
		return 0, fmt.Errorf("detach credentials: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListPolicyVersions returns the policy's snapshots, oldest first.
func (r *Repository) ListPolicyVersions(ctx context.Context, policyID string) ([]policy.Version, error) {
	var models []PolicyVersionModel
	err := r.db.WithContext(ctx).
		Where("policy_id = ?", policyID).
		Order("version ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list policy versions: %w", err)
	}
	versions := make([]policy.Version, 0, len(models))
	for _, m := range models {
		var permissions []credential.Permission
		if err := json.Unmarshal([]byte(m.Permissions), &permissions); err != nil {
			return nil, fmt.Errorf("decode version permissions: %w", err)
		}
		versions = append(versions, policy.Version{
			PolicyID:     m.PolicyID,
			Version:      m.Version,
			Permissions:  permissions,
			ChangeReason: m.ChangeReason,
			CreatedAt:    m.CreatedAt,
		})
	}
	return versions, nil
}

// --- verification events and reputation ---

// RecordVerification appends the event to the audit log. Failures are
// logged and swallowed; the verification response never depends on this.
func (r *Repository) RecordVerification(ctx context.Context, event verifier.Event) {
	m := VerificationEventModel{
		RequestID:    event.RequestID,
		CredentialID: event.CredentialID,
		AgentID:      event.AgentID,
		Success:      event.Success,
		FailureCode:  event.FailureCode,
		LatencyMS:    event.LatencyMS,
		CreatedAt:    event.At,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		log.Printf("store: verification event insert failed: %v", err)
	}
}

// UpsertReputation folds one verification outcome into the counters.
func (r *Repository) UpsertReputation(ctx context.Context, credentialID string, success bool, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m ReputationModel
		err := tx.First(&m, "credential_id = ?", credentialID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			m = ReputationModel{CredentialID: credentialID}
		case err != nil:
			return fmt.Errorf("fetch reputation: %w", err)
		}

		stats := reputation.Stats{
			CredentialID:      m.CredentialID,
			VerificationCount: m.VerificationCount,
			SuccessCount:      m.SuccessCount,
			FailureCount:      m.FailureCount,
			FirstSeenAt:       m.FirstSeenAt,
			LastSeenAt:        m.LastSeenAt,
			LastSuccessAt:     m.LastSuccessAt,
		}
		reputation.Apply(&stats, success, at)

		m.VerificationCount = stats.VerificationCount
		m.SuccessCount = stats.SuccessCount
		m.FailureCount = stats.FailureCount
		m.FirstSeenAt = stats.FirstSeenAt
		m.LastSeenAt = stats.LastSeenAt
		m.LastSuccessAt = stats.LastSuccessAt
		m.UpdatedAt = at
		return tx.Save(&m).Error
	})
}

// GetReputation returns the counters for a credential.
func (r *Repository) GetReputation(ctx context.Context, credentialID string) (*reputation.Stats, error) {
	var m ReputationModel
	if err := r.db.WithContext(ctx).First(&m, "credential_id = ?", credentialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("fetch reputation: %w", err)
	}
	return &reputation.Stats{
		CredentialID:      m.CredentialID,
		VerificationCount: m.VerificationCount,
		SuccessCount:      m.SuccessCount,
		FailureCount:      m.FailureCount,
		FirstSeenAt:       m.FirstSeenAt,
		LastSeenAt:        m.LastSeenAt,
		LastSuccessAt:     m.LastSuccessAt,
	}, nil
}

// --- authorization grants ---

// CreateGrant persists an agent-to-agent authorization grant.
func (r *Repository) CreateGrant(ctx context.Context, grant *a2a.Grant) error {
	constraints := ""
	if grant.Constraints != nil {
		data, err := json.Marshal(grant.Constraints)
		if err != nil {
			return fmt.Errorf("encode grant constraints: %w", err)
		}
		constraints = string(data)
	}
	m := GrantModel{
		ID:                    grant.ID,
		RequesterCredentialID: grant.RequesterCredentialID,
		GrantorCredentialID:   grant.GrantorCredentialID,
		Permission:            grant.Permission,
		Constraints:           constraints,
		ValidUntil:            grant.ValidUntil,
		CreatedAt:             grant.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// FindGrant resolves the (requester, grantor, permission) triple.
func (r *Repository) FindGrant(ctx context.Context, requesterID, grantorID, permission string) (*a2a.Grant, error) {
	var m GrantModel
	err := r.db.WithContext(ctx).First(&m,
		"requester_credential_id = ? AND grantor_credential_id = ? AND permission = ?",
		requesterID, grantorID, permission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("find grant: %w", err)
	}

	grant := &a2a.Grant{
		ID:                    m.ID,
		RequesterCredentialID: m.RequesterCredentialID,
		GrantorCredentialID:   m.GrantorCredentialID,
		Permission:            m.Permission,
		ValidUntil:            m.ValidUntil,
		CreatedAt:             m.CreatedAt,
	}
	if m.Constraints != "" {
		var constraints credential.Conditions
		if err := json.Unmarshal([]byte(m.Constraints), &constraints); err != nil {
			return nil, fmt.Errorf("decode grant constraints: %w", err)
		}
		grant.Constraints = &constraints
	}
	return grant, nil
}

// --- webhook subscriptions ---

// CreateSubscription persists a webhook subscription.
func (r *Repository) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	m := WebhookSubscriptionModel{
		ID:        sub.ID,
		IssuerID:  sub.IssuerID,
		URL:       sub.URL,
		Secret:    sub.Secret,
		Events:    strings.Join(sub.Events, ","),
		Active:    sub.Active,
		CreatedAt: sub.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns the issuer's subscriptions.
func (r *Repository) ListSubscriptions(ctx context.Context, issuerID string) ([]webhook.Subscription, error) {
	var models []WebhookSubscriptionModel
	err := r.db.WithContext(ctx).Where("issuer_id = ?", issuerID).Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	subs := make([]webhook.Subscription, 0, len(models))
	for _, m := range models {
		var events []string
		if m.Events != "" {
			events = strings.Split(m.Events, ",")
		}
		subs = append(subs, webhook.Subscription{
			ID:                  m.ID,
			IssuerID:            m.IssuerID,
			URL:                 m.URL,
			Secret:              m.Secret,
			Events:              events,
			Active:              m.Active,
			ConsecutiveFailures: m.ConsecutiveFailures,
			CreatedAt:           m.CreatedAt,
		})
	}
	return subs, nil
}

// RecordDelivery updates a subscription's failure counter and active flag.
func (r *Repository) RecordDelivery(ctx context.Context, subscriptionID string, failures int, active bool) error {
	result := r.db.WithContext(ctx).Model(&WebhookSubscriptionModel{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]any{
			"consecutive_failures": failures,
			"active":               active,
		})
	if result.Error != nil {
		return fmt.Errorf("record delivery: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return credential.ErrNotFound
	}
	return nil
}
