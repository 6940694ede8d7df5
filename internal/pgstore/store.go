// Package pgstore keeps conventions, stage periods and signatures in PostgreSQL.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"conventions/internal/domain"
	"conventions/internal/repo"
)

//go:embed schema.sql
var schema string

type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// Connect opens a pool for dsn. Zero fields in pc keep the defaults below.
func Connect(ctx context.Context, dsn string, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = pc.HealthCheckPeriod
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) Store {
	return Store{Pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func parseTS(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", v, err)
	}
	return t, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s Store) InsertConvention(ctx context.Context, c domain.Convention, periods []domain.StagePeriod) error {
	details, err := json.Marshal(c)
	if err != nil {
		return err
	}
	createdAt, err := parseTS(c.CreatedAt)
	if err != nil {
		return err
	}
	updatedAt, err := parseTS(c.UpdatedAt)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO conventions(id,status,convention_type,created_by,is_minor,student_lastname,student_firstname,student_class,company_name,company_siren,details,created_at,updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			c.ID, string(c.Status), string(c.ConventionType), c.CreatedBy, c.IsMinor, c.Student.Lastname, c.Student.Firstname, c.Student.Class,
			c.Company.Name, c.Company.Siren, details, createdAt, updatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("convention %s: %w", c.ID, repo.ErrDuplicate)
			}
			return err
		}
		return replacePeriods(ctx, tx, c.ID, periods)
	})
}

func (s Store) UpdateConvention(ctx context.Context, c domain.Convention, periods []domain.StagePeriod) error {
	details, err := json.Marshal(c)
	if err != nil {
		return err
	}
	updatedAt, err := parseTS(c.UpdatedAt)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE conventions SET convention_type=$1, is_minor=$2, student_lastname=$3, student_firstname=$4, student_class=$5, company_name=$6, company_siren=$7, details=$8, updated_at=$9 WHERE id=$10`,
			string(c.ConventionType), c.IsMinor, c.Student.Lastname, c.Student.Firstname, c.Student.Class, c.Company.Name, c.Company.Siren,
			details, updatedAt, c.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repo.ErrNotFound
		}
		if periods == nil {
			return nil
		}
		return replacePeriods(ctx, tx, c.ID, periods)
	})
}

func (s Store) UpdateConventionStatus(ctx context.Context, id string, status domain.Status, updatedAt string) error {
	ts, err := parseTS(updatedAt)
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE conventions SET status=$1, updated_at=$2 WHERE id=$3`, string(status), ts, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s Store) DeleteConvention(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM conventions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

const conventionColumns = `id,status,convention_type,created_by,is_minor,details,created_at,updated_at`

func (s Store) GetConvention(ctx context.Context, id string) (domain.Convention, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+conventionColumns+` FROM conventions WHERE id=$1`, id)
	c, err := scanConvention(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, repo.ErrNotFound
	}
	return c, err
}

func (s Store) ListConventions(ctx context.Context, f repo.ConventionFilters) ([]domain.Convention, error) {
	var clauses []string
	var args []any
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	add("status", f.Status)
	add("convention_type", f.Type)
	add("student_class", f.Class)
	add("created_by", f.CreatedBy)
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+conventionColumns+` FROM conventions `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Convention
	for rows.Next() {
		c, err := scanConvention(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func scanConvention(row pgx.Row) (domain.Convention, error) {
	var c domain.Convention
	var (
		id, status, typ, createdBy string
		minor                      bool
		details                    []byte
		createdAt, updatedAt       time.Time
	)
	if err := row.Scan(&id, &status, &typ, &createdBy, &minor, &details, &createdAt, &updatedAt); err != nil {
		return c, err
	}
	if err := json.Unmarshal(details, &c); err != nil {
		return c, fmt.Errorf("decode convention %s: %w", id, err)
	}
	c.ID = id
	c.Status = domain.Status(status)
	c.ConventionType = domain.ConventionType(typ)
	c.CreatedBy = createdBy
	c.IsMinor = minor
	c.CreatedAt = formatTS(createdAt)
	c.UpdatedAt = formatTS(updatedAt)
	return c, nil
}

func (s Store) ListPeriods(ctx context.Context, conventionID string) ([]domain.StagePeriod, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id,convention_id,period_number,start_date,end_date,COALESCE(daily_hours,'') FROM stage_periods WHERE convention_id=$1 ORDER BY period_number`, conventionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StagePeriod
	for rows.Next() {
		var p domain.StagePeriod
		if err := rows.Scan(&p.ID, &p.ConventionID, &p.PeriodNumber, &p.StartDate, &p.EndDate, &p.DailyHours); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func replacePeriods(ctx context.Context, tx pgx.Tx, conventionID string, periods []domain.StagePeriod) error {
	if _, err := tx.Exec(ctx, `DELETE FROM stage_periods WHERE convention_id=$1`, conventionID); err != nil {
		return err
	}
	if len(periods) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range periods {
		batch.Queue(`INSERT INTO stage_periods(id,convention_id,period_number,start_date,end_date,daily_hours) VALUES ($1,$2,$3,$4,$5,$6)`,
			p.ID, conventionID, p.PeriodNumber, p.StartDate, p.EndDate, nullable(p.DailyHours))
	}
	br := tx.SendBatch(ctx, batch)
	for _, p := range periods {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert period %d: %w", p.PeriodNumber, err)
		}
	}
	return br.Close()
}

const signatureColumns = `id,convention_id,signer_role,signer_name,COALESCE(signer_email,''),signature_data,signed_at,COALESCE(ip_address,''),COALESCE(user_agent,'')`

// InsertSignature relies on UNIQUE(convention_id, signer_role) to reject a
// second signature for a role, including one racing in from another process.
func (s Store) InsertSignature(ctx context.Context, sig domain.Signature) error {
	var signedAt *time.Time
	if sig.SignedAt != nil && *sig.SignedAt != "" {
		t, err := parseTS(*sig.SignedAt)
		if err != nil {
			return err
		}
		signedAt = &t
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO signatures(id,convention_id,signer_role,signer_name,signer_email,signature_data,signed_at,ip_address,user_agent)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sig.ID, sig.ConventionID, string(sig.SignerRole), sig.SignerName, nullable(sig.SignerEmail), sig.SignatureData, signedAt,
		nullable(sig.IPAddress), nullable(sig.UserAgent))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("signature %s/%s: %w", sig.ConventionID, sig.SignerRole, repo.ErrDuplicate)
		}
		return err
	}
	return nil
}

func (s Store) ListSignatures(ctx context.Context, conventionID string) ([]domain.Signature, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE convention_id=$1 ORDER BY seq`, conventionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Signature
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sig)
	}
	return res, rows.Err()
}

func (s Store) GetDirectorSignature(ctx context.Context, conventionID string) (domain.Signature, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE convention_id=$1 AND signer_role=$2`,
		conventionID, string(domain.RoleChefEtablissement))
	sig, err := scanSignature(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return sig, repo.ErrNotFound
	}
	return sig, err
}

func scanSignature(row pgx.Row) (domain.Signature, error) {
	var sig domain.Signature
	var role string
	var signedAt *time.Time
	if err := row.Scan(&sig.ID, &sig.ConventionID, &role, &sig.SignerName, &sig.SignerEmail, &sig.SignatureData, &signedAt, &sig.IPAddress, &sig.UserAgent); err != nil {
		return sig, err
	}
	sig.SignerRole = domain.SignerRole(role)
	if signedAt != nil {
		v := formatTS(*signedAt)
		sig.SignedAt = &v
	}
	return sig, nil
}
