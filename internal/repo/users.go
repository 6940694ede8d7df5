package repo

import (
	"context"
	"database/sql"
	"fmt"

	"conventions/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,login,email,full_name,role,password_hash,created_at) VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.Login, u.Email, u.FullName, u.Role, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Login, ErrDuplicate)
		}
		return err
	}
	return nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,login,email,full_name,role,password_hash,created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByLogin(ctx context.Context, login string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,login,email,full_name,role,password_hash,created_at FROM users WHERE login=?`, login))
}

func (r Repo) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	query := `SELECT id,login,email,full_name,role,password_hash,created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC, login`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Login, &u.Email, &u.FullName, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) DeleteUser(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Login, &u.Email, &u.FullName, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}
