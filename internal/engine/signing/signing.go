// Package signing holds the ordered multi-party signature rules: which roles
// must sign, who may sign next and the status that follows from a set of
// recorded signatures. Everything here is pure; callers feed in the current
// signature set and persist the results.
package signing

import (
	"errors"
	"fmt"
	"strings"

	"conventions/internal/domain"
)

var (
	// ErrDuplicateSignature means the role already signed this convention.
	ErrDuplicateSignature = errors.New("role already signed")
	// ErrRoleNotRequired means the role is not part of the convention's sequence.
	ErrRoleNotRequired = errors.New("role not required for this convention")
	// ErrNotPending means the convention is not collecting signatures.
	ErrNotPending = errors.New("convention is not pending signatures")
)

// OutOfOrderError is returned when a role tries to sign before its predecessors.
type OutOfOrderError struct {
	Role    domain.SignerRole
	Missing []domain.SignerRole
}

func (e OutOfOrderError) Error() string {
	missing := make([]string, 0, len(e.Missing))
	for _, r := range e.Missing {
		missing = append(missing, string(r))
	}
	return fmt.Sprintf("role %s cannot sign yet; waiting for %s", e.Role, strings.Join(missing, ", "))
}

// StoreUnavailableError wraps a record store failure. It is retriable.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e StoreUnavailableError) Unwrap() error { return e.Err }

// RequiredSequence returns the fixed signing order. The parent signs only for minors.
func RequiredSequence(isMinor bool) []domain.SignerRole {
	seq := make([]domain.SignerRole, 0, 5)
	seq = append(seq, domain.RoleStudent)
	if isMinor {
		seq = append(seq, domain.RoleParent)
	}
	return append(seq, domain.RoleMaitreStage, domain.RoleResponsableClasse, domain.RoleChefEtablissement)
}

// SignedRoles collects roles carrying a timestamped signature.
func SignedRoles(signatures []domain.Signature) map[domain.SignerRole]bool {
	out := make(map[domain.SignerRole]bool, len(signatures))
	for _, s := range signatures {
		if s.Signed() {
			out[s.SignerRole] = true
		}
	}
	return out
}

func indexOf(role domain.SignerRole, sequence []domain.SignerRole) int {
	for i, r := range sequence {
		if r == role {
			return i
		}
	}
	return -1
}

// Contains reports whether role belongs to sequence.
func Contains(sequence []domain.SignerRole, role domain.SignerRole) bool {
	return indexOf(role, sequence) >= 0
}

// MissingBefore lists the predecessors of role that have not signed yet.
func MissingBefore(role domain.SignerRole, existing []domain.Signature, sequence []domain.SignerRole) []domain.SignerRole {
	idx := indexOf(role, sequence)
	if idx <= 0 {
		return nil
	}
	signed := SignedRoles(existing)
	var missing []domain.SignerRole
	for _, r := range sequence[:idx] {
		if !signed[r] {
			missing = append(missing, r)
		}
	}
	return missing
}

// CanSign reports whether role is first in sequence or every role before it has
// signed. A role outside the sequence can never sign.
func CanSign(role domain.SignerRole, existing []domain.Signature, sequence []domain.SignerRole) bool {
	idx := indexOf(role, sequence)
	if idx < 0 {
		return false
	}
	return len(MissingBefore(role, existing, sequence)) == 0
}

// CheckSign returns the error a submission for role would hit, or nil.
func CheckSign(role domain.SignerRole, existing []domain.Signature, sequence []domain.SignerRole) error {
	if !Contains(sequence, role) {
		return ErrRoleNotRequired
	}
	for _, s := range existing {
		if s.SignerRole == role {
			return ErrDuplicateSignature
		}
	}
	if missing := MissingBefore(role, existing, sequence); len(missing) > 0 {
		return OutOfOrderError{Role: role, Missing: missing}
	}
	return nil
}

// Eligibility maps each role of sequence to whether it may sign now. Roles that
// already signed map to false.
func Eligibility(existing []domain.Signature, sequence []domain.SignerRole) map[domain.SignerRole]bool {
	signed := SignedRoles(existing)
	out := make(map[domain.SignerRole]bool, len(sequence))
	for _, r := range sequence {
		out[r] = !signed[r] && CanSign(r, existing, sequence)
	}
	return out
}

// NextSigner returns the first role of sequence without a signature.
func NextSigner(existing []domain.Signature, sequence []domain.SignerRole) (domain.SignerRole, bool) {
	signed := SignedRoles(existing)
	for _, r := range sequence {
		if !signed[r] {
			return r, true
		}
	}
	return "", false
}

// DeriveStatus recomputes the convention status from scratch.
func DeriveStatus(sequence []domain.SignerRole, signatures []domain.Signature) domain.Status {
	signed := SignedRoles(signatures)
	for _, r := range sequence {
		if !signed[r] {
			return domain.StatusPendingSignatures
		}
	}
	return domain.StatusReadyToPrint
}

// HasDirectorSigned checks the head of school's signature alone. It gates
// document generation independently of the stored status.
func HasDirectorSigned(signatures []domain.Signature) bool {
	for _, s := range signatures {
		if s.SignerRole == domain.RoleChefEtablissement && s.Signed() && s.SignatureData != "" {
			return true
		}
	}
	return false
}
