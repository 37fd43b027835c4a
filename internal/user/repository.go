package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"go-dm/internal/apperr"
	"go-dm/internal/db"
)

type Repository struct {
	db *db.Database
}

func NewRepository(d *db.Database) *Repository {
	return &Repository{db: d}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	var id int
	query := r.db.Rebind("INSERT INTO users (username, password) VALUES (?, ?) RETURNING id")

	err := r.db.Conn.QueryRowContext(ctx, query, user.Username, user.Password).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username %q: %w", user.Username, apperr.ErrConflict)
		}
		return nil, apperr.Storage("create user", err)
	}

	user.ID = id
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := r.db.Rebind("SELECT id, username, password FROM users WHERE username = ?")

	err := r.db.Conn.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Storage("get user", err)
	}
	return u, nil
}

// ListExcept returns every user but the given one, ordered by username.
func (r *Repository) ListExcept(ctx context.Context, userID int) ([]User, error) {
	q := r.db.Rebind("SELECT id, username FROM users WHERE id <> ? ORDER BY username")
	return r.queryUsers(ctx, q, userID)
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// Limited to 10 to keep it fast.
	q := r.db.Rebind(`SELECT id, username FROM users WHERE LOWER(username) LIKE ? ORDER BY username LIMIT 10`)
	return r.queryUsers(ctx, q, "%"+strings.ToLower(query)+"%")
}

func (r *Repository) Exists(ctx context.Context, userID int) (bool, error) {
	var one int
	err := r.db.Conn.QueryRowContext(ctx, r.db.Rebind("SELECT 1 FROM users WHERE id = ?"), userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("user exists", err)
	}
	return true, nil
}

// Usernames resolves ids to display names. Unknown ids are absent from the map.
func (r *Repository) Usernames(ctx context.Context, ids []int) (map[int]string, error) {
	out := make(map[int]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	q := r.db.Rebind("SELECT id, username FROM users WHERE id IN (" + strings.Join(marks, ",") + ")")

	users, err := r.queryUsers(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u.Username
	}
	return out, nil
}

func (r *Repository) queryUsers(ctx context.Context, q string, args ...any) ([]User, error) {
	rows, err := r.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Storage("list users", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, apperr.Storage("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list users", err)
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
