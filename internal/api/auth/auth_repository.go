package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	database "github.com/messagely/messagely-server/app/db"
	"github.com/messagely/messagely-server/internal/types"
)

var _ AuthRepo = (*PostgresAuthRepo)(nil)

// AuthRepo is the credential store plus refresh-token persistence for the
// session layer.
type AuthRepo interface {
	// Register creates a user, storing a one-way hash of rawPassword.
	// Returns types.ErrConflict if the username is taken.
	Register(ctx context.Context, username, rawPassword, firstName, lastName, phone string) (*types.User, error)

	// Authenticate reports whether rawPassword matches the stored hash.
	// An unknown username yields (false, nil), not an error.
	Authenticate(ctx context.Context, username, rawPassword string) (bool, error)

	// UpdateLastLogin sets last_login_at to now.
	// Returns types.ErrNotFound if the user does not exist.
	UpdateLastLogin(ctx context.Context, username string) (*types.User, error)

	StoreRefreshToken(ctx context.Context, username, token string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshTokenRecord, error)
	RevokeRefreshToken(ctx context.Context, token string) error
}

type PostgresAuthRepo struct {
	logger *slog.Logger
	pgpool database.Querier
}

func NewPostgresAuthRepo(pgpool database.Querier, logger *slog.Logger) *PostgresAuthRepo {
	return &PostgresAuthRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

// dummyHash keeps the miss path of Authenticate as expensive as a real
// compare, so callers cannot tell "no such user" from "wrong password"
// by timing.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

func (r *PostgresAuthRepo) Register(ctx context.Context, username, rawPassword, firstName, lastName, phone string) (*types.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var user types.User
	err = r.pgpool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, first_name, last_name, phone)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING username, first_name, last_name, phone, joined_at, last_login_at`,
		username, string(hashedPassword), firstName, lastName, phone).Scan(
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.JoinedAt,
		&user.LastLoginAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("username %q already taken: %w", username, types.ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return &user, nil
}

func (r *PostgresAuthRepo) Authenticate(ctx context.Context, username, rawPassword string) (bool, error) {
	var hashedPassword string
	err := r.pgpool.QueryRow(ctx,
		"SELECT password_hash FROM users WHERE username = $1",
		username).Scan(&hashedPassword)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(rawPassword))
			return false, nil
		}
		return false, fmt.Errorf("authenticate: query failed: %w", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(rawPassword))
	return err == nil, nil
}

func (r *PostgresAuthRepo) UpdateLastLogin(ctx context.Context, username string) (*types.User, error) {
	var user types.User
	err := r.pgpool.QueryRow(ctx,
		`UPDATE users SET last_login_at = now()
         WHERE username = $1
         RETURNING username, first_name, last_name, phone, joined_at, last_login_at`,
		username).Scan(
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.JoinedAt,
		&user.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, types.ErrNotFound)
		}
		return nil, fmt.Errorf("update last login: %w", err)
	}

	return &user, nil
}

func (r *PostgresAuthRepo) StoreRefreshToken(ctx context.Context, username, token string, expiresAt time.Time) error {
	_, err := r.pgpool.Exec(ctx,
		`INSERT INTO refresh_tokens (token, username, expires_at)
         VALUES ($1, $2, $3)`,
		token, username, expiresAt)
	if err != nil {
		return fmt.Errorf("store refresh token: db insert failed: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepo) GetRefreshToken(ctx context.Context, token string) (*RefreshTokenRecord, error) {
	rec := RefreshTokenRecord{Token: token}
	err := r.pgpool.QueryRow(ctx,
		`SELECT username, expires_at, revoked_at
         FROM refresh_tokens
         WHERE token = $1`, token).Scan(&rec.Username, &rec.ExpiresAt, &rec.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("refresh token: %w", types.ErrNotFound)
		}
		return nil, fmt.Errorf("get refresh token: query failed: %w", err)
	}
	return &rec, nil
}

func (r *PostgresAuthRepo) RevokeRefreshToken(ctx context.Context, token string) error {
	tag, err := r.pgpool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = now()
         WHERE token = $1 AND revoked_at IS NULL`,
		token)
	if err != nil {
		return fmt.Errorf("revoke refresh token: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already revoked or unknown; not an error for logout
		r.logger.Debug("No refresh token found or already revoked")
	}
	return nil
}
