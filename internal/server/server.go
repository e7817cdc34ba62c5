// Package server exposes the credential service over HTTP: verification,
// lifecycle, policies, authorization checks, reputation, and the revocation
// feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentid/agentid-core/internal/store"
	"github.com/agentid/agentid-core/pkg/a2a"
	"github.com/agentid/agentid-core/pkg/broadcast"
	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/domainverify"
	"github.com/agentid/agentid-core/pkg/guard"
	"github.com/agentid/agentid-core/pkg/lifecycle"
	"github.com/agentid/agentid-core/pkg/policy"
	"github.com/agentid/agentid-core/pkg/reputation"
	"github.com/agentid/agentid-core/pkg/signer"
	"github.com/agentid/agentid-core/pkg/verifier"
	"github.com/agentid/agentid-core/pkg/webhook"
)

// Handler carries the wired core components behind the HTTP surface.
type Handler struct {
	repo       *store.Repository
	signer     *signer.Signer
	verifier   *verifier.Verifier
	lifecycle  *lifecycle.Manager
	policies   *policy.Engine
	reputation *reputation.Aggregator
	authz      *a2a.Checker
	webhooks   *webhook.Dispatcher
	hub        *broadcast.Hub
	domains    *domainverify.Verifier
}

// Config collects the components the router serves.
type Config struct {
	Repo       *store.Repository
	Signer     *signer.Signer
	Verifier   *verifier.Verifier
	Lifecycle  *lifecycle.Manager
	Policies   *policy.Engine
	Reputation *reputation.Aggregator
	Authz      *a2a.Checker
	Webhooks   *webhook.Dispatcher
	Hub        *broadcast.Hub
	Domains    *domainverify.Verifier
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg Config) http.Handler {
	h := &Handler{
		repo:       cfg.Repo,
		signer:     cfg.Signer,
		verifier:   cfg.Verifier,
		lifecycle:  cfg.Lifecycle,
		policies:   cfg.Policies,
		reputation: cfg.Reputation,
		authz:      cfg.Authz,
		webhooks:   cfg.Webhooks,
		hub:        cfg.Hub,
		domains:    cfg.Domains,
	}
	r := chi.NewRouter()

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Post("/issuers", h.handleCreateIssuer)
		api.Get("/issuers/{id}", h.handleGetIssuer)
		api.Post("/issuers/{id}/domain-token", h.handleDomainToken)
		api.Post("/issuers/{id}/verify-domain", h.handleVerifyDomain)

		api.Post("/credentials", h.handleIssue)
		api.Get("/credentials/{id}", h.handleGetCredential)
		api.Get("/credentials/{id}/permissions", h.handleEffectivePermissions)
		api.Post("/credentials/{id}/renew", h.handleRenew)
		api.Post("/credentials/{id}/revoke", h.handleRevoke)
		api.Post("/credentials/{id}/suspend", h.handleSuspend)
		api.Post("/credentials/bulk/revoke", h.handleBulkRevoke)
		api.Post("/credentials/bulk/renew", h.handleBulkRenew)

		api.Post("/verify", h.handleVerify)

		api.Post("/policies", h.handleUpsertPolicy)
		api.Post("/policies/{id}/assign", h.handleAssignPolicy)
		api.Post("/policies/{id}/remove", h.handleRemovePolicy)
		api.Delete("/policies/{id}", h.handleDeletePolicy)
		api.Get("/policies/{id}/history", h.handlePolicyHistory)

		api.Post("/grants", h.handleCreateGrant)
		api.Post("/authorize", h.handleAuthorize)

		api.Get("/reputation/{id}", h.handleReputation)

		api.Get("/revocations", h.handleListRevocations)

		api.Post("/webhooks", h.handleCreateWebhook)
		api.Post("/webhooks/test", h.handleTestWebhook)
	})

	// Request-signed surface: callers prove possession of their credential's
	// shared secret on every request.
	secured := guard.New(h, h.repo)
	r.With(guard.Middleware(secured)).Get("/api/whoami", h.handleWhoAmI)

	r.Get("/ws/revocations", h.handleRevocationStream)

	return r
}

// CheckCredential verifies the credential end to end for the request guard.
func (h *Handler) CheckCredential(ctx context.Context, credentialID string) (*credential.Claims, error) {
	result, err := h.verifier.VerifyByID(ctx, credentialID, verifier.Options{})
	if err != nil {
		return nil, err
	}
	return result.Claims, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type createIssuerRequest struct {
	Name       string `json:"name"`
	IssuerType string `json:"issuer_type"`
	Domain     string `json:"domain"`
}

func (h *Handler) handleCreateIssuer(w http.ResponseWriter, r *http.Request) {
	var req createIssuerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}
	if req.IssuerType == "" {
		req.IssuerType = "organization"
	}

	id := uuid.NewString()
	publicKey, err := h.signer.PublicKeyBase64(id)
	if err != nil {
		writeError(w, err)
		return
	}
	keyID, err := h.signer.KeyID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	issuer := &credential.Issuer{
		ID:         id,
		Name:       req.Name,
		IssuerType: req.IssuerType,
		Domain:     req.Domain,
		PublicKey:  publicKey,
		KeyID:      keyID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.repo.CreateIssuer(r.Context(), issuer); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issuer)
}

func (h *Handler) handleGetIssuer(w http.ResponseWriter, r *http.Request) {
	issuer, err := h.repo.GetIssuer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issuer)
}

func (h *Handler) handleDomainToken(w http.ResponseWriter, r *http.Request) {
	issuer, err := h.repo.GetIssuer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if issuer.Domain == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "issuer has no domain on record"})
		return
	}
	token, err := domainverify.NewToken()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain": issuer.Domain,
		"token":  token,
		"record": domainverify.Record(token),
	})
}

type verifyDomainRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleVerifyDomain(w http.ResponseWriter, r *http.Request) {
	issuer, err := h.repo.GetIssuer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req verifyDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "token is required"})
		return
	}
	if err := h.domains.Verify(r.Context(), issuer.Domain, req.Token); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"verified": false, "error": err.Error()})
		return
	}
	if err := h.repo.MarkIssuerVerified(r.Context(), issuer.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	rec, err := h.lifecycle.Issue(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec.Payload)
}

func (h *Handler) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.GetCredential(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credential": rec.Payload,
		"status":     rec.Status,
		"policy_id":  rec.PolicyID,
	})
}

func (h *Handler) handleEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.GetCredential(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	permissions, version, err := h.policies.EffectivePermissions(r.Context(), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credential_id":  rec.Payload.CredentialID,
		"permissions":    permissions,
		"policy_version": version,
	})
}

type renewRequest struct {
	ExtendDays int `json:"extend_days"`
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	rec, err := h.lifecycle.Renew(r.Context(), chi.URLParam(r, "id"), req.ExtendDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Payload)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	rec, err := h.lifecycle.Revoke(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credential_id": rec.Payload.CredentialID,
		"status":        rec.Status,
		"revoked_at":    rec.RevokedAt,
	})
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	rec, err := h.lifecycle.Suspend(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credential_id": rec.Payload.CredentialID,
		"status":        rec.Status,
	})
}

type bulkRevokeRequest struct {
	CredentialIDs []string `json:"credential_ids"`
	Reason        string   `json:"reason"`
}

func (h *Handler) handleBulkRevoke(w http.ResponseWriter, r *http.Request) {
	var req bulkRevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	results, err := h.lifecycle.BulkRevoke(r.Context(), req.CredentialIDs, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type bulkRenewRequest struct {
	CredentialIDs []string `json:"credential_ids"`
	ExtendDays    int      `json:"extend_days"`
}

func (h *Handler) handleBulkRenew(w http.ResponseWriter, r *http.Request) {
	var req bulkRenewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	results, err := h.lifecycle.BulkRenew(r.Context(), req.CredentialIDs, req.ExtendDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type verifyRequest struct {
	CredentialID string              `json:"credential_id,omitempty"`
	Credential   *credential.Payload `json:"credential,omitempty"`
}

type verifyResponse struct {
	Valid              bool               `json:"valid"`
	Claims             *credential.Claims `json:"claims,omitempty"`
	Error              *credential.Error  `json:"error,omitempty"`
	RequestID          string             `json:"request_id"`
	VerificationTimeMS int64              `json:"verification_time_ms"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}

	var (
		result *verifier.Result
		err    error
	)
	switch {
	case req.CredentialID != "":
		result, err = h.verifier.VerifyByID(r.Context(), req.CredentialID, verifier.Options{})
	case req.Credential != nil:
		result, err = h.verifier.VerifyPayload(r.Context(), req.Credential, verifier.Options{})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "credential_id or credential is required"})
		return
	}
	if result == nil {
		writeError(w, err)
		return
	}

	// Verification failures are a negative result, not an HTTP error.
	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:              result.Valid,
		Claims:             result.Claims,
		Error:              result.Err,
		RequestID:          result.RequestID,
		VerificationTimeMS: result.VerificationTimeMS,
	})
}

func (h *Handler) handleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var req policy.UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	result, err := h.policies.Upsert(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

type assignPolicyRequest struct {
	CredentialIDs []string `json:"credential_ids"`
}

func (h *Handler) handleAssignPolicy(w http.ResponseWriter, r *http.Request) {
	var req assignPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	updated, err := h.policies.Assign(r.Context(), chi.URLParam(r, "id"), req.CredentialIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assigned": updated})
}

func (h *Handler) handleRemovePolicy(w http.ResponseWriter, r *http.Request) {
	var req assignPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	removed, err := h.policies.Remove(r.Context(), chi.URLParam(r, "id"), req.CredentialIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *Handler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	detached, err := h.policies.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "detached_credentials": detached})
}

func (h *Handler) handlePolicyHistory(w http.ResponseWriter, r *http.Request) {
	versions, err := h.policies.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

type createGrantRequest struct {
	RequesterCredentialID string                 `json:"requester_credential_id"`
	GrantorCredentialID   string                 `json:"grantor_credential_id"`
	Permission            string                 `json:"permission"`
	Constraints           *credential.Conditions `json:"constraints,omitempty"`
	ValidUntil            time.Time              `json:"valid_until"`
}

func (h *Handler) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	var req createGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if req.RequesterCredentialID == "" || req.GrantorCredentialID == "" || req.Permission == "" {
		writeJSON(w, http.StatusBadRequest,
			map[string]any{"error": "requester_credential_id, grantor_credential_id and permission are required"})
		return
	}
	grant := &a2a.Grant{
		ID:                    uuid.NewString(),
		RequesterCredentialID: req.RequesterCredentialID,
		GrantorCredentialID:   req.GrantorCredentialID,
		Permission:            req.Permission,
		Constraints:           req.Constraints,
		ValidUntil:            req.ValidUntil,
		CreatedAt:             time.Now().UTC(),
	}
	if err := h.repo.CreateGrant(r.Context(), grant); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

type authorizeRequest struct {
	RequesterCredentialID string `json:"requester_credential_id"`
	GrantorCredentialID   string `json:"grantor_credential_id"`
	Permission            string `json:"permission"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	decision, err := h.authz.CheckAuthorization(r.Context(),
		req.RequesterCredentialID, req.GrantorCredentialID, req.Permission)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) handleReputation(w http.ResponseWriter, r *http.Request) {
	report, err := h.reputation.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleListRevocations(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "since must be a unix timestamp"})
			return
		}
		since = time.Unix(unix, 0).UTC()
	}
	revocations, err := h.repo.ListRevocationsSince(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revocations": revocations})
}

type createWebhookRequest struct {
	IssuerID string   `json:"issuer_id"`
	URL      string   `json:"url"`
	Secret   string   `json:"secret"`
	Events   []string `json:"events,omitempty"`
}

func (h *Handler) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if req.IssuerID == "" || req.URL == "" || req.Secret == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "issuer_id, url and secret are required"})
		return
	}
	sub := &webhook.Subscription{
		ID:        uuid.NewString(),
		IssuerID:  req.IssuerID,
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.CreateSubscription(r.Context(), sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type testWebhookRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

func (h *Handler) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	var req testWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "url is required"})
		return
	}
	if err := h.webhooks.Test(r.Context(), req.URL, req.Secret); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"delivered": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": true})
}

func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	claims, ok := guard.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps credential error codes onto HTTP statuses. Unknown errors
// become a 500 without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	var credErr *credential.Error
	if !errors.As(err, &credErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	writeJSON(w, statusForCode(credErr.Code), map[string]any{
		"error": credErr.Message,
		"code":  credErr.Code,
	})
}

func statusForCode(code string) int {
	switch code {
	case credential.ErrCodeInvalidRequest, credential.ErrCodeMissingInput, credential.ErrCodeBatchLimitExceeded:
		return http.StatusBadRequest
	case credential.ErrCodeNotFound, credential.ErrCodeIssuerNotFound:
		return http.StatusNotFound
	case credential.ErrCodeRevoked, credential.ErrCodeExpired, credential.ErrCodeNotYetValid, credential.ErrCodeInvalidSignature:
		return http.StatusForbidden
	case credential.ErrCodeLifecycleViolation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
