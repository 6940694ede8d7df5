package repo

import (
	"context"
	"database/sql"
	"fmt"

	"conventions/internal/domain"
)

const signatureColumns = `id,convention_id,signer_role,signer_name,COALESCE(signer_email,''),signature_data,signed_at,COALESCE(ip_address,''),COALESCE(user_agent,'')`

// InsertSignature appends a signature. A second signature for the same role
// fails with ErrDuplicate.
func (r Repo) InsertSignature(ctx context.Context, s domain.Signature) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO signatures(id,convention_id,signer_role,signer_name,signer_email,signature_data,signed_at,ip_address,user_agent)
VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ConventionID, s.SignerRole, s.SignerName, nullable(s.SignerEmail), s.SignatureData, nullableStringPtr(s.SignedAt),
		nullable(s.IPAddress), nullable(s.UserAgent))
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("signature %s/%s: %w", s.ConventionID, s.SignerRole, ErrDuplicate)
		}
		return err
	}
	return nil
}

// ListSignatures returns every signature of a convention in insertion order.
func (r Repo) ListSignatures(ctx context.Context, conventionID string) ([]domain.Signature, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE convention_id=? ORDER BY rowid`, conventionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Signature
	for rows.Next() {
		s, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetDirectorSignature returns the chef_etablissement signature or ErrNotFound.
func (r Repo) GetDirectorSignature(ctx context.Context, conventionID string) (domain.Signature, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE convention_id=? AND signer_role=?`,
		conventionID, domain.RoleChefEtablissement)
	s, err := scanSignature(row)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func scanSignature(row rowScanner) (domain.Signature, error) {
	var s domain.Signature
	var role string
	var signedAt sql.NullString
	if err := row.Scan(&s.ID, &s.ConventionID, &role, &s.SignerName, &s.SignerEmail, &s.SignatureData, &signedAt, &s.IPAddress, &s.UserAgent); err != nil {
		return s, err
	}
	s.SignerRole = domain.SignerRole(role)
	if signedAt.Valid {
		v := signedAt.String
		s.SignedAt = &v
	}
	return s, nil
}
