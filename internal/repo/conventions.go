package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"conventions/internal/domain"
)

// ConventionFilters narrows ListConventions. Empty fields match everything.
type ConventionFilters struct {
	Status    string
	Type      string
	Class     string
	CreatedBy string
}

const conventionColumns = `id,status,convention_type,created_by,is_minor,details_json,created_at,updated_at`

func (r Repo) InsertConvention(ctx context.Context, c domain.Convention, periods []domain.StagePeriod) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.InsertConventionTx(ctx, tx, c, periods); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) InsertConventionTx(ctx context.Context, tx *sql.Tx, c domain.Convention, periods []domain.StagePeriod) error {
	details, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO conventions(id,status,convention_type,created_by,is_minor,student_lastname,student_firstname,student_class,company_name,company_siren,details_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Status, c.ConventionType, c.CreatedBy, boolInt(c.IsMinor), c.Student.Lastname, c.Student.Firstname, c.Student.Class,
		c.Company.Name, c.Company.Siren, string(details), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("convention %s: %w", c.ID, ErrDuplicate)
		}
		return err
	}
	return r.replacePeriodsTx(ctx, tx, c.ID, periods)
}

// UpdateConvention rewrites the descriptive fields and periods. Status is left alone.
func (r Repo) UpdateConvention(ctx context.Context, c domain.Convention, periods []domain.StagePeriod) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	details, err := json.Marshal(c)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE conventions SET convention_type=?, is_minor=?, student_lastname=?, student_firstname=?, student_class=?, company_name=?, company_siren=?, details_json=?, updated_at=? WHERE id=?`,
		c.ConventionType, boolInt(c.IsMinor), c.Student.Lastname, c.Student.Firstname, c.Student.Class, c.Company.Name, c.Company.Siren,
		string(details), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if periods != nil {
		if err := r.replacePeriodsTx(ctx, tx, c.ID, periods); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) UpdateConventionStatus(ctx context.Context, id string, status domain.Status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE conventions SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConvention removes a convention; periods and signatures cascade.
func (r Repo) DeleteConvention(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM conventions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetConvention(ctx context.Context, id string) (domain.Convention, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+conventionColumns+` FROM conventions WHERE id=?`, id)
	c, err := scanConvention(row)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListConventions(ctx context.Context, f ConventionFilters) ([]domain.Convention, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "convention_type=?")
		args = append(args, f.Type)
	}
	if f.Class != "" {
		clauses = append(clauses, "student_class=?")
		args = append(args, f.Class)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+conventionColumns+` FROM conventions `+where+` ORDER BY created_at DESC, id DESC`, args...)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConvention(row rowScanner) (domain.Convention, error) {
	var c domain.Convention
	var (
		id, status, typ, createdBy, details, createdAt, updatedAt string
		minor                                                     int
	)
	if err := row.Scan(&id, &status, &typ, &createdBy, &minor, &details, &createdAt, &updatedAt); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(details), &c); err != nil {
		return c, fmt.Errorf("decode convention %s: %w", id, err)
	}
	c.ID = id
	c.Status = domain.Status(status)
	c.ConventionType = domain.ConventionType(typ)
	c.CreatedBy = createdBy
	c.IsMinor = minor != 0
	c.CreatedAt = createdAt
	c.UpdatedAt = updatedAt
	return c, nil
}

func (r Repo) ListPeriods(ctx context.Context, conventionID string) ([]domain.StagePeriod, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,convention_id,period_number,start_date,end_date,COALESCE(daily_hours,'') FROM stage_periods WHERE convention_id=? ORDER BY period_number`, conventionID)
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

func (r Repo) replacePeriodsTx(ctx context.Context, tx *sql.Tx, conventionID string, periods []domain.StagePeriod) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_periods WHERE convention_id=?`, conventionID); err != nil {
		return err
	}
	for _, p := range periods {
		if _, err := tx.ExecContext(ctx, `INSERT INTO stage_periods(id,convention_id,period_number,start_date,end_date,daily_hours) VALUES (?,?,?,?,?,?)`,
			p.ID, conventionID, p.PeriodNumber, p.StartDate, p.EndDate, nullable(p.DailyHours)); err != nil {
			return fmt.Errorf("insert period %d: %w", p.PeriodNumber, err)
		}
	}
	return nil
}
