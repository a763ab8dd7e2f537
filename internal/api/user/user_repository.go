package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	database "github.com/messagely/messagely-server/app/db"
	"github.com/messagely/messagely-server/internal/types"
)

var _ UserRepo = (*PostgresUserRepo)(nil)

// UserRepo defines the contract for user profile reads.
type UserRepo interface {
	// GetUser retrieves a user's full profile by username.
	// Returns types.ErrNotFound if the user doesn't exist.
	GetUser(ctx context.Context, username string) (*types.User, error)

	// ListUsers returns basic info on all users, ordered by username ascending.
	ListUsers(ctx context.Context) ([]types.UserSummary, error)
}

type PostgresUserRepo struct {
	logger *slog.Logger
	pgpool database.Querier
}

func NewPostgresUserRepo(pgpool database.Querier, logger *slog.Logger) *PostgresUserRepo {
	return &PostgresUserRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *PostgresUserRepo) GetUser(ctx context.Context, username string) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	var user types.User
	err := r.pgpool.QueryRow(ctx,
		`SELECT username, first_name, last_name, phone, joined_at, last_login_at
         FROM users WHERE username = $1`,
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
		span.RecordError(err)
		return nil, fmt.Errorf("get user: query failed: %w", err)
	}

	return &user, nil
}

func (r *PostgresUserRepo) ListUsers(ctx context.Context) ([]types.UserSummary, error) {
	rows, err := r.pgpool.Query(ctx,
		`SELECT username, first_name, last_name
         FROM users
         ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: query failed: %w", err)
	}
	defer rows.Close()

	var users []types.UserSummary
	for rows.Next() {
		var u types.UserSummary
		if err := rows.Scan(&u.Username, &u.FirstName, &u.LastName); err != nil {
			return nil, fmt.Errorf("list users: scan failed: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: rows error: %w", err)
	}

	return users, nil
}
