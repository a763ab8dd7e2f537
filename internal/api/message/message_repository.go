package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	database "github.com/messagely/messagely-server/app/db"
	"github.com/messagely/messagely-server/app/observability/metrics"
	"github.com/messagely/messagely-server/internal/types"
)

var _ MessageRepo = (*PostgresMessageRepo)(nil)

// MessageRepo is the message store. Reads resolve both foreign keys
// against the users table and shape the counterparty's public profile
// into the returned record.
type MessageRepo interface {
	// Create persists a message from one existing user to another.
	// Returns types.ErrValidation for an empty body and types.ErrNotFound
	// if either username does not resolve to a user.
	Create(ctx context.Context, fromUsername, toUsername, body string) (*types.Message, error)

	// GetByID returns the envelope form with both parties' public profiles.
	// Returns types.ErrNotFound if the id does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*types.MessageDetail, error)

	// ListSentBy returns the user's sent messages with the recipient's
	// profile embedded, newest first (sent_at descending).
	ListSentBy(ctx context.Context, username string) ([]types.SentMessage, error)

	// ListReceivedBy returns the user's received messages with the sender's
	// profile embedded, newest first (sent_at descending).
	ListReceivedBy(ctx context.Context, username string) ([]types.ReceivedMessage, error)

	// MarkRead sets read_at. Already-read messages are a no-op: the
	// existing read_at is returned unchanged. Returns types.ErrNotFound
	// if the id does not exist.
	MarkRead(ctx context.Context, id uuid.UUID) (*types.Message, error)
}

type PostgresMessageRepo struct {
	logger *slog.Logger
	pgpool database.Querier
}

func NewPostgresMessageRepo(pgpool database.Querier, logger *slog.Logger) *PostgresMessageRepo {
	return &PostgresMessageRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *PostgresMessageRepo) Create(ctx context.Context, fromUsername, toUsername, body string) (*types.Message, error) {
	ctx, span := otel.Tracer("MessageRepo").Start(ctx, "Create", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "messages"),
	))
	defer span.End()
	start := time.Now()

	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("message body must not be empty: %w", types.ErrValidation)
	}

	// Participants are validated here, not left to the caller. Two
	// independent lookups, one per foreign key.
	for _, username := range []string{fromUsername, toUsername} {
		exists, err := r.userExists(ctx, username)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("user %q: %w", username, types.ErrNotFound)
		}
	}

	msg := types.Message{
		ID:           uuid.New(),
		FromUsername: fromUsername,
		ToUsername:   toUsername,
		Body:         body,
	}
	err := r.pgpool.QueryRow(ctx,
		`INSERT INTO messages (id, from_username, to_username, body)
         VALUES ($1, $2, $3, $4)
         RETURNING sent_at`,
		msg.ID, fromUsername, toUsername, body).Scan(&msg.SentAt)
	if err != nil {
		// Backstop for a user deleted between the checks and the insert
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("message participant vanished: %w", types.ErrNotFound)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	metrics.Get().MessagesSentTotal.Add(ctx, 1)
	metrics.Get().DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	return &msg, nil
}

func (r *PostgresMessageRepo) userExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pgpool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)",
		username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user existence: %w", err)
	}
	return exists, nil
}

func (r *PostgresMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.MessageDetail, error) {
	ctx, span := otel.Tracer("MessageRepo").Start(ctx, "GetByID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "messages"),
	))
	defer span.End()

	var msg types.MessageDetail
	err := r.pgpool.QueryRow(ctx,
		`SELECT m.id, m.body, m.sent_at, m.read_at,
                f.username, f.first_name, f.last_name, f.phone,
                t.username, t.first_name, t.last_name, t.phone
         FROM messages m
         JOIN users f ON m.from_username = f.username
         JOIN users t ON m.to_username = t.username
         WHERE m.id = $1`,
		id).Scan(
		&msg.ID, &msg.Body, &msg.SentAt, &msg.ReadAt,
		&msg.FromUser.Username, &msg.FromUser.FirstName, &msg.FromUser.LastName, &msg.FromUser.Phone,
		&msg.ToUser.Username, &msg.ToUser.FirstName, &msg.ToUser.LastName, &msg.ToUser.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, types.ErrNotFound)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("get message: query failed: %w", err)
	}

	return &msg, nil
}

func (r *PostgresMessageRepo) ListSentBy(ctx context.Context, username string) ([]types.SentMessage, error) {
	rows, err := r.pgpool.Query(ctx,
		`SELECT m.id, m.body, m.sent_at, m.read_at,
                t.username, t.first_name, t.last_name, t.phone
         FROM messages m
         JOIN users t ON m.to_username = t.username
         WHERE m.from_username = $1
         ORDER BY m.sent_at DESC`,
		username)
	if err != nil {
		return nil, fmt.Errorf("list sent messages: query failed: %w", err)
	}
	defer rows.Close()

	var messages []types.SentMessage
	for rows.Next() {
		var m types.SentMessage
		if err := rows.Scan(
			&m.ID, &m.Body, &m.SentAt, &m.ReadAt,
			&m.ToUser.Username, &m.ToUser.FirstName, &m.ToUser.LastName, &m.ToUser.Phone); err != nil {
			return nil, fmt.Errorf("list sent messages: scan failed: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sent messages: rows error: %w", err)
	}

	return messages, nil
}

func (r *PostgresMessageRepo) ListReceivedBy(ctx context.Context, username string) ([]types.ReceivedMessage, error) {
	rows, err := r.pgpool.Query(ctx,
		`SELECT m.id, m.body, m.sent_at, m.read_at,
                f.username, f.first_name, f.last_name, f.phone
         FROM messages m
         JOIN users f ON m.from_username = f.username
         WHERE m.to_username = $1
         ORDER BY m.sent_at DESC`,
		username)
	if err != nil {
		return nil, fmt.Errorf("list received messages: query failed: %w", err)
	}
	defer rows.Close()

	var messages []types.ReceivedMessage
	for rows.Next() {
		var m types.ReceivedMessage
		if err := rows.Scan(
			&m.ID, &m.Body, &m.SentAt, &m.ReadAt,
			&m.FromUser.Username, &m.FromUser.FirstName, &m.FromUser.LastName, &m.FromUser.Phone); err != nil {
			return nil, fmt.Errorf("list received messages: scan failed: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list received messages: rows error: %w", err)
	}

	return messages, nil
}

func (r *PostgresMessageRepo) MarkRead(ctx context.Context, id uuid.UUID) (*types.Message, error) {
	ctx, span := otel.Tracer("MessageRepo").Start(ctx, "MarkRead", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "messages"),
	))
	defer span.End()

	var msg types.Message
	// The read_at IS NULL guard makes the transition one-way: a second
	// mark falls through to the plain fetch below and returns the
	// existing timestamp unchanged.
	err := r.pgpool.QueryRow(ctx,
		`UPDATE messages SET read_at = now()
         WHERE id = $1 AND read_at IS NULL
         RETURNING id, from_username, to_username, body, sent_at, read_at`,
		id).Scan(
		&msg.ID, &msg.FromUsername, &msg.ToUsername, &msg.Body, &msg.SentAt, &msg.ReadAt)
	if err == nil {
		metrics.Get().MessagesReadTotal.Add(ctx, 1)
		return &msg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		return nil, fmt.Errorf("mark read: db update failed: %w", err)
	}

	// Already read, or the id doesn't exist
	err = r.pgpool.QueryRow(ctx,
		`SELECT id, from_username, to_username, body, sent_at, read_at
         FROM messages WHERE id = $1`,
		id).Scan(
		&msg.ID, &msg.FromUsername, &msg.ToUsername, &msg.Body, &msg.SentAt, &msg.ReadAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("mark read: fetch failed: %w", err)
	}

	return &msg, nil
}
