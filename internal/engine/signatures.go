package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"conventions/internal/catalog"
	"conventions/internal/domain"
	"conventions/internal/engine/signing"
	"conventions/internal/events"
	"conventions/internal/repo"
)

// GetRequiredSequence returns the signing order for a convention.
func (e Engine) GetRequiredSequence(isMinor bool) []domain.SignerRole {
	return signing.RequiredSequence(isMinor)
}

type RecordSignatureInput struct {
	ConventionID string
	Role         domain.SignerRole
	SignerName   string
	SignerEmail  string
	Image        string
	SignedAt     time.Time
	IPAddress    string
	UserAgent    string
}

// RecordSignature appends one signature without checking order. The store's
// uniqueness on (convention, role) turns a concurrent second insert into
// signing.ErrDuplicateSignature.
func (e Engine) RecordSignature(ctx context.Context, in RecordSignatureInput) (domain.Signature, error) {
	signedAt := in.SignedAt
	if signedAt.IsZero() {
		signedAt = e.now()
	}
	ts := signedAt.UTC().Format(time.RFC3339)
	sig := domain.Signature{
		ID:            uuid.NewString(),
		ConventionID:  in.ConventionID,
		SignerRole:    in.Role,
		SignerName:    strings.TrimSpace(in.SignerName),
		SignerEmail:   strings.TrimSpace(in.SignerEmail),
		SignatureData: in.Image,
		SignedAt:      &ts,
		IPAddress:     in.IPAddress,
		UserAgent:     in.UserAgent,
	}
	if err := e.Store.InsertSignature(ctx, sig); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Signature{}, signing.ErrDuplicateSignature
		}
		return domain.Signature{}, storeErr("insert signature", err)
	}
	return sig, nil
}

// UpdateConventionStatus persists a status computed by the caller.
func (e Engine) UpdateConventionStatus(ctx context.Context, id string, status domain.Status) error {
	if !status.Valid() {
		return TransitionError{To: status}
	}
	return storeErr("update status", e.Store.UpdateConventionStatus(ctx, id, status, e.timestamp()))
}

type Eligibility struct {
	ConventionID string                       `json:"convention_id"`
	Status       domain.Status                `json:"status"`
	Sequence     []domain.SignerRole          `json:"sequence"`
	CanSign      map[domain.SignerRole]bool   `json:"can_sign"`
	Signed       map[domain.SignerRole]bool   `json:"signed"`
	Next         domain.SignerRole            `json:"next,omitempty"`
	Labels       map[domain.SignerRole]string `json:"labels"`
}

// GetSigningEligibility reports, for every required role, whether it may sign now.
// Nobody is eligible unless the convention is pending signatures.
func (e Engine) GetSigningEligibility(ctx context.Context, conventionID string) (Eligibility, error) {
	conv, err := e.getConvention(ctx, conventionID)
	if err != nil {
		return Eligibility{}, err
	}
	sigs, err := e.listSignatures(ctx, conventionID)
	if err != nil {
		return Eligibility{}, err
	}
	seq := signing.RequiredSequence(conv.IsMinor)
	out := Eligibility{
		ConventionID: conv.ID,
		Status:       conv.Status,
		Sequence:     seq,
		CanSign:      signing.Eligibility(sigs, seq),
		Signed:       map[domain.SignerRole]bool{},
		Labels:       map[domain.SignerRole]string{},
	}
	signed := signing.SignedRoles(sigs)
	for _, r := range seq {
		out.Signed[r] = signed[r]
		out.Labels[r] = r.Label()
		if conv.Status != domain.StatusPendingSignatures {
			out.CanSign[r] = false
		}
	}
	if next, ok := signing.NextSigner(sigs, seq); ok {
		out.Next = next
	}
	return out, nil
}

type SubmitSignatureRequest struct {
	ConventionID string
	Role         domain.SignerRole
	SignerName   string
	SignerEmail  string
	Image        string
	IPAddress    string
	UserAgent    string
	ActorID      string
}

type SubmitResult struct {
	Signature     domain.Signature   `json:"signature"`
	Status        domain.Status      `json:"status"`
	StatusChanged bool               `json:"status_changed"`
	Signatures    []domain.Signature `json:"signatures"`
}

// SubmitSignature runs the whole signing step: guard, insert, re-read, status.
func (e Engine) SubmitSignature(ctx context.Context, req SubmitSignatureRequest) (SubmitResult, error) {
	fields := map[string]string{}
	if !req.Role.Valid() {
		fields["signer_role"] = "Rôle de signataire inconnu"
	}
	if strings.TrimSpace(req.SignerName) == "" {
		fields["signer_name"] = "Nom du signataire requis"
	}
	if strings.TrimSpace(req.Image) == "" {
		fields["signature_data"] = "Signature requise"
	}
	if len(fields) > 0 {
		return SubmitResult{}, catalog.ValidationError{Fields: fields}
	}

	conv, err := e.getConvention(ctx, req.ConventionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if conv.Status == domain.StatusDraft {
		return SubmitResult{}, signing.ErrNotPending
	}
	seq := signing.RequiredSequence(conv.IsMinor)
	existing, err := e.listSignatures(ctx, conv.ID)
	if err != nil {
		return SubmitResult{}, err
	}
	// A role that already signed stays a duplicate once the convention is ready to print.
	if containsRole(existing, req.Role) {
		return SubmitResult{}, signing.ErrDuplicateSignature
	}
	if conv.Status != domain.StatusPendingSignatures {
		return SubmitResult{}, signing.ErrNotPending
	}
	if err := signing.CheckSign(req.Role, existing, seq); err != nil {
		return SubmitResult{}, err
	}

	sig, err := e.RecordSignature(ctx, RecordSignatureInput{
		ConventionID: conv.ID,
		Role:         req.Role,
		SignerName:   req.SignerName,
		SignerEmail:  req.SignerEmail,
		Image:        req.Image,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	e.emit(ctx, events.SignatureRecorded, "convention", conv.ID, req.ActorID, events.EventPayload{
		"signature_id": sig.ID,
		"signer_role":  sig.SignerRole,
		"signer_name":  sig.SignerName,
	})

	sigs, err := e.readBack(ctx, conv.ID, sig)
	if err != nil {
		return SubmitResult{Signature: sig, Status: conv.Status}, err
	}
	status := signing.DeriveStatus(seq, sigs)
	res := SubmitResult{Signature: sig, Status: status, Signatures: sigs}
	if status != conv.Status {
		if err := e.UpdateConventionStatus(ctx, conv.ID, status); err != nil {
			res.Status = conv.Status
			return res, err
		}
		res.StatusChanged = true
		e.emitStatusChange(ctx, conv.ID, conv.Status, status, req.ActorID)
	}
	return res, nil
}

// readBack lists signatures again until the one just inserted shows up. Stores
// with lagging reads get a bounded number of retries; past that the inserted
// record is merged in since the insert itself was acknowledged.
func (e Engine) readBack(ctx context.Context, conventionID string, inserted domain.Signature) ([]domain.Signature, error) {
	retries, backoff := 0, time.Duration(0)
	if e.Config != nil {
		retries = e.Config.Workflow.ReadAfterWriteRetries
		backoff = time.Duration(e.Config.Workflow.ReadAfterWriteBackoffMS) * time.Millisecond
	}
	var sigs []domain.Signature
	for attempt := 0; ; attempt++ {
		var err error
		sigs, err = e.listSignatures(ctx, conventionID)
		if err != nil {
			return nil, err
		}
		if containsRole(sigs, inserted.SignerRole) {
			return sigs, nil
		}
		if attempt >= retries {
			break
		}
		if err := e.sleep(ctx, backoff*time.Duration(attempt+1)); err != nil {
			return nil, err
		}
	}
	e.logger().Printf("signing: signature %s for convention %s not visible after %d re-reads", inserted.ID, conventionID, retries+1)
	return append(sigs, inserted), nil
}

func containsRole(sigs []domain.Signature, role domain.SignerRole) bool {
	for _, s := range sigs {
		if s.SignerRole == role {
			return true
		}
	}
	return false
}

func (e Engine) emitStatusChange(ctx context.Context, id string, from, to domain.Status, actorID string) {
	e.emit(ctx, events.ConventionStatusChanged, "convention", id, actorID, events.EventPayload{"from": from, "to": to})
	if to == domain.StatusReadyToPrint {
		e.emit(ctx, events.ConventionReadyToPrint, "convention", id, actorID, nil)
	}
}

// RefreshStatus recomputes the status from the stored signatures and persists
// it when it drifted, e.g. after a status write failed following an insert.
func (e Engine) RefreshStatus(ctx context.Context, conventionID, actorID string) (domain.Status, error) {
	conv, err := e.getConvention(ctx, conventionID)
	if err != nil {
		return "", err
	}
	if conv.Status == domain.StatusDraft {
		return conv.Status, nil
	}
	sigs, err := e.listSignatures(ctx, conventionID)
	if err != nil {
		return "", err
	}
	status := signing.DeriveStatus(signing.RequiredSequence(conv.IsMinor), sigs)
	if status == conv.Status || ensureConventionTransition(conv.Status, status) != nil {
		return conv.Status, nil
	}
	if err := e.UpdateConventionStatus(ctx, conv.ID, status); err != nil {
		return conv.Status, err
	}
	e.emitStatusChange(ctx, conv.ID, conv.Status, status, actorID)
	return status, nil
}

// IsReadyToPrint recomputes readiness from the signatures rather than trusting
// the stored status.
func (e Engine) IsReadyToPrint(ctx context.Context, conventionID string) (bool, error) {
	conv, err := e.getConvention(ctx, conventionID)
	if err != nil {
		return false, err
	}
	sigs, err := e.listSignatures(ctx, conventionID)
	if err != nil {
		return false, err
	}
	return signing.DeriveStatus(signing.RequiredSequence(conv.IsMinor), sigs) == domain.StatusReadyToPrint, nil
}

// HasDirectorSigned looks only at the head of school's signature.
func (e Engine) HasDirectorSigned(ctx context.Context, conventionID string) (bool, error) {
	sig, err := e.Store.GetDirectorSignature(ctx, conventionID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("get director signature", err)
	}
	return signing.HasDirectorSigned([]domain.Signature{sig}), nil
}

func (e Engine) ListSignatures(ctx context.Context, conventionID string) ([]domain.Signature, error) {
	if _, err := e.getConvention(ctx, conventionID); err != nil {
		return nil, err
	}
	return e.listSignatures(ctx, conventionID)
}
