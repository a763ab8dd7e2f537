package message

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/messagely/messagely-server/internal/types"
)

var _ MessageService = (*MessageServiceImpl)(nil)

// MessageService enforces per-caller visibility and mutation rules on top
// of the message store. The caller's username is always an explicit
// argument, never read from ambient state.
type MessageService interface {
	// ViewMessage returns the message iff the caller is its sender or
	// recipient; otherwise types.ErrForbidden.
	ViewMessage(ctx context.Context, callerUsername string, id uuid.UUID) (*types.MessageDetail, error)

	// SendMessage creates a message with the caller as sender. The sender
	// is never taken from the request payload.
	SendMessage(ctx context.Context, callerUsername, toUsername, body string) (*types.Message, error)

	// MarkMessageRead sets read_at iff the caller is the recipient;
	// otherwise types.ErrForbidden.
	MarkMessageRead(ctx context.Context, callerUsername string, id uuid.UUID) (*types.Message, error)

	// ListInbox returns the caller's received messages.
	ListInbox(ctx context.Context, callerUsername string) ([]types.ReceivedMessage, error)

	// ListOutbox returns the caller's sent messages.
	ListOutbox(ctx context.Context, callerUsername string) ([]types.SentMessage, error)
}

type MessageServiceImpl struct {
	logger *slog.Logger
	repo   MessageRepo
}

func NewMessageService(repo MessageRepo, logger *slog.Logger) *MessageServiceImpl {
	return &MessageServiceImpl{
		logger: logger,
		repo:   repo,
	}
}

func (s *MessageServiceImpl) ViewMessage(ctx context.Context, callerUsername string, id uuid.UUID) (*types.MessageDetail, error) {
	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("view message: %w", err)
	}

	if callerUsername != msg.FromUser.Username && callerUsername != msg.ToUser.Username {
		s.logger.WarnContext(ctx, "Message view denied",
			slog.String("caller", callerUsername),
			slog.String("message_id", id.String()))
		return nil, fmt.Errorf("caller is neither sender nor recipient: %w", types.ErrForbidden)
	}

	return msg, nil
}

func (s *MessageServiceImpl) SendMessage(ctx context.Context, callerUsername, toUsername, body string) (*types.Message, error) {
	msg, err := s.repo.Create(ctx, callerUsername, toUsername, body)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

func (s *MessageServiceImpl) MarkMessageRead(ctx context.Context, callerUsername string, id uuid.UUID) (*types.Message, error) {
	// Ownership is checked before the mutation
	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mark message read: %w", err)
	}

	if callerUsername != msg.ToUser.Username {
		s.logger.WarnContext(ctx, "Mark-read denied",
			slog.String("caller", callerUsername),
			slog.String("message_id", id.String()))
		return nil, fmt.Errorf("only the recipient may mark a message read: %w", types.ErrForbidden)
	}

	updated, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mark message read: %w", err)
	}
	return updated, nil
}

func (s *MessageServiceImpl) ListInbox(ctx context.Context, callerUsername string) ([]types.ReceivedMessage, error) {
	messages, err := s.repo.ListReceivedBy(ctx, callerUsername)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	return messages, nil
}

func (s *MessageServiceImpl) ListOutbox(ctx context.Context, callerUsername string) ([]types.SentMessage, error) {
	messages, err := s.repo.ListSentBy(ctx, callerUsername)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	return messages, nil
}
