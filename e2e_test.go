package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/messagely/messagely-server/config"
	"github.com/messagely/messagely-server/internal/api/auth"
	"github.com/messagely/messagely-server/internal/api/message"
	"github.com/messagely/messagely-server/internal/api/user"
	"github.com/messagely/messagely-server/internal/router"
	"github.com/messagely/messagely-server/internal/types"
)

// E2ETestSuite runs complete user workflows against the real router,
// handlers, services and JWT middleware, with in-memory stores standing
// in for Postgres.
type E2ETestSuite struct {
	suite.Suite
	server *httptest.Server
	client *http.Client
	store  *memStore
}

// memStore backs all three repositories for a suite run.
type memStore struct {
	mu       sync.Mutex
	users    map[string]memUser
	messages map[uuid.UUID]types.Message
	tokens   map[string]auth.RefreshTokenRecord
}

type memUser struct {
	profile      types.User
	passwordHash string
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]memUser),
		messages: make(map[uuid.UUID]types.Message),
		tokens:   make(map[string]auth.RefreshTokenRecord),
	}
}

func (s *memStore) profileOf(username string) (types.PublicProfile, bool) {
	u, ok := s.users[username]
	if !ok {
		return types.PublicProfile{}, false
	}
	return types.PublicProfile{
		Username:  u.profile.Username,
		FirstName: u.profile.FirstName,
		LastName:  u.profile.LastName,
		Phone:     u.profile.Phone,
	}, true
}

type memAuthRepo struct{ store *memStore }

func (r *memAuthRepo) Register(_ context.Context, username, rawPassword, firstName, lastName, phone string) (*types.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.users[username]; exists {
		return nil, fmt.Errorf("username %q already taken: %w", username, types.ErrConflict)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	u := types.User{
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
		Phone:     phone,
		JoinedAt:  time.Now(),
	}
	r.store.users[username] = memUser{profile: u, passwordHash: string(hash)}
	return &u, nil
}

func (r *memAuthRepo) Authenticate(_ context.Context, username, rawPassword string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[username]
	if !ok {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(rawPassword)) == nil, nil
}

func (r *memAuthRepo) UpdateLastLogin(_ context.Context, username string) (*types.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, types.ErrNotFound)
	}
	now := time.Now()
	u.profile.LastLoginAt = &now
	r.store.users[username] = u
	profile := u.profile
	return &profile, nil
}

func (r *memAuthRepo) StoreRefreshToken(_ context.Context, username, token string, expiresAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.tokens[token] = auth.RefreshTokenRecord{Token: token, Username: username, ExpiresAt: expiresAt}
	return nil
}

func (r *memAuthRepo) GetRefreshToken(_ context.Context, token string) (*auth.RefreshTokenRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.tokens[token]
	if !ok {
		return nil, fmt.Errorf("refresh token: %w", types.ErrNotFound)
	}
	return &rec, nil
}

func (r *memAuthRepo) RevokeRefreshToken(_ context.Context, token string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if rec, ok := r.store.tokens[token]; ok && rec.RevokedAt == nil {
		now := time.Now()
		rec.RevokedAt = &now
		r.store.tokens[token] = rec
	}
	return nil
}

type memUserRepo struct{ store *memStore }

func (r *memUserRepo) GetUser(_ context.Context, username string) (*types.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, types.ErrNotFound)
	}
	profile := u.profile
	return &profile, nil
}

func (r *memUserRepo) ListUsers(_ context.Context) ([]types.UserSummary, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var users []types.UserSummary
	for _, u := range r.store.users {
		users = append(users, types.UserSummary{
			Username:  u.profile.Username,
			FirstName: u.profile.FirstName,
			LastName:  u.profile.LastName,
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

type memMessageRepo struct{ store *memStore }

func (r *memMessageRepo) Create(_ context.Context, fromUsername, toUsername, body string) (*types.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if body == "" {
		return nil, fmt.Errorf("message body must not be empty: %w", types.ErrValidation)
	}
	for _, username := range []string{fromUsername, toUsername} {
		if _, ok := r.store.users[username]; !ok {
			return nil, fmt.Errorf("user %q: %w", username, types.ErrNotFound)
		}
	}
	msg := types.Message{
		ID:           uuid.New(),
		FromUsername: fromUsername,
		ToUsername:   toUsername,
		Body:         body,
		SentAt:       time.Now(),
	}
	r.store.messages[msg.ID] = msg
	return &msg, nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id uuid.UUID) (*types.MessageDetail, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	msg, ok := r.store.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, types.ErrNotFound)
	}
	fromUser, _ := r.store.profileOf(msg.FromUsername)
	toUser, _ := r.store.profileOf(msg.ToUsername)
	return &types.MessageDetail{
		ID:       msg.ID,
		Body:     msg.Body,
		SentAt:   msg.SentAt,
		ReadAt:   msg.ReadAt,
		FromUser: fromUser,
		ToUser:   toUser,
	}, nil
}

func (r *memMessageRepo) ListSentBy(_ context.Context, username string) ([]types.SentMessage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var messages []types.SentMessage
	for _, msg := range r.store.messages {
		if msg.FromUsername != username {
			continue
		}
		toUser, _ := r.store.profileOf(msg.ToUsername)
		messages = append(messages, types.SentMessage{
			ID: msg.ID, Body: msg.Body, SentAt: msg.SentAt, ReadAt: msg.ReadAt, ToUser: toUser,
		})
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].SentAt.After(messages[j].SentAt) })
	return messages, nil
}

func (r *memMessageRepo) ListReceivedBy(_ context.Context, username string) ([]types.ReceivedMessage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var messages []types.ReceivedMessage
	for _, msg := range r.store.messages {
		if msg.ToUsername != username {
			continue
		}
		fromUser, _ := r.store.profileOf(msg.FromUsername)
		messages = append(messages, types.ReceivedMessage{
			ID: msg.ID, Body: msg.Body, SentAt: msg.SentAt, ReadAt: msg.ReadAt, FromUser: fromUser,
		})
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].SentAt.After(messages[j].SentAt) })
	return messages, nil
}

func (r *memMessageRepo) MarkRead(_ context.Context, id uuid.UUID) (*types.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	msg, ok := r.store.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, types.ErrNotFound)
	}
	if msg.ReadAt == nil {
		now := time.Now()
		msg.ReadAt = &now
		r.store.messages[id] = msg
	}
	return &msg, nil
}

func (suite *E2ETestSuite) SetupSuite() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		JWT: config.JWTConfig{
			SecretKey:       "e2e-secret-key",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			Issuer:          "messagely-api",
			Audience:        "messagely-clients",
		},
	}

	suite.store = newMemStore()

	authService := auth.NewAuthService(&memAuthRepo{store: suite.store}, cfg, logger)
	userService := user.NewUserService(&memUserRepo{store: suite.store}, logger)
	messageService := message.NewMessageService(&memMessageRepo{store: suite.store}, logger)

	mainRouter := router.SetupRouter(&router.Config{
		AuthHandler:            auth.NewAuthHandler(authService, logger),
		UserHandler:            user.NewUserHandler(userService, logger),
		MessageHandler:         message.NewMessageHandler(messageService, logger),
		AuthenticateMiddleware: auth.Authenticate(logger, cfg.JWT),
	})

	suite.server = httptest.NewServer(mainRouter)
	suite.client = &http.Client{Timeout: 10 * time.Second}
}

func (suite *E2ETestSuite) TearDownSuite() {
	if suite.server != nil {
		suite.server.Close()
	}
}

func (suite *E2ETestSuite) request(method, path, token string, body interface{}) (*http.Response, []byte) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(suite.T(), err)
	}
	req, err := http.NewRequest(method, suite.server.URL+path, bytes.NewReader(payload))
	require.NoError(suite.T(), err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := suite.client.Do(req)
	require.NoError(suite.T(), err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(suite.T(), err)
	return resp, buf.Bytes()
}

func (suite *E2ETestSuite) registerUser(username, firstName, lastName, phone string) string {
	resp, body := suite.request(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username":   username,
		"password":   "password-" + username,
		"first_name": firstName,
		"last_name":  lastName,
		"phone":      phone,
	})
	require.Equal(suite.T(), http.StatusCreated, resp.StatusCode, string(body))

	var reg auth.RegisterResponse
	require.NoError(suite.T(), json.Unmarshal(body, &reg))
	require.NotEmpty(suite.T(), reg.AccessToken)
	return reg.AccessToken
}

func (suite *E2ETestSuite) TestMessagingWorkflow() {
	t := suite.T()

	aliceToken := suite.registerUser("alice", "Alice", "Anderson", "+15550100")
	bobToken := suite.registerUser("bob", "Bob", "Brown", "+15550101")
	carolToken := suite.registerUser("carol", "Carol", "Clark", "+15550102")

	// Duplicate registration conflicts
	resp, _ := suite.request(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "alice", "password": "whatever",
	})
	suite.Equal(http.StatusConflict, resp.StatusCode)

	// Login works with the registered password
	resp, body := suite.request(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "password-alice",
	})
	suite.Equal(http.StatusOK, resp.StatusCode)
	var tokens auth.TokenResponse
	require.NoError(t, json.Unmarshal(body, &tokens))
	suite.NotEmpty(tokens.RefreshToken)

	// Wrong password is rejected
	resp, _ = suite.request(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	suite.Equal(http.StatusUnauthorized, resp.StatusCode)

	// User listing requires a token and is ordered by username
	resp, _ = suite.request(http.MethodGet, "/api/v1/users", "", nil)
	suite.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, body = suite.request(http.MethodGet, "/api/v1/users", aliceToken, nil)
	suite.Equal(http.StatusOK, resp.StatusCode)
	var userList struct {
		Users []types.UserSummary `json:"users"`
	}
	require.NoError(t, json.Unmarshal(body, &userList))
	require.Len(t, userList.Users, 3)
	suite.Equal("alice", userList.Users[0].Username)
	suite.Equal("bob", userList.Users[1].Username)
	suite.Equal("carol", userList.Users[2].Username)

	// Alice messages Bob
	resp, body = suite.request(http.MethodPost, "/api/v1/messages", aliceToken, map[string]string{
		"to_username": "bob", "body": "hello bob",
	})
	suite.Equal(http.StatusCreated, resp.StatusCode)
	var sent struct {
		Message types.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(body, &sent))
	suite.Equal("alice", sent.Message.FromUsername)
	suite.Nil(sent.Message.ReadAt)
	msgID := sent.Message.ID.String()

	// Bob sees it in his inbox with Alice's profile attached
	resp, body = suite.request(http.MethodGet, "/api/v1/messages/inbox", bobToken, nil)
	suite.Equal(http.StatusOK, resp.StatusCode)
	var inbox struct {
		Messages []types.ReceivedMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &inbox))
	require.Len(t, inbox.Messages, 1)
	suite.Equal("Alice", inbox.Messages[0].FromUser.FirstName)

	// Alice sees it in her outbox
	resp, body = suite.request(http.MethodGet, "/api/v1/messages/outbox", aliceToken, nil)
	suite.Equal(http.StatusOK, resp.StatusCode)
	var outbox struct {
		Messages []types.SentMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &outbox))
	require.Len(t, outbox.Messages, 1)
	suite.Equal("bob", outbox.Messages[0].ToUser.Username)

	// Carol is neither sender nor recipient
	resp, _ = suite.request(http.MethodGet, "/api/v1/messages/"+msgID, carolToken, nil)
	suite.Equal(http.StatusForbidden, resp.StatusCode)

	// Only the recipient may mark it read
	resp, _ = suite.request(http.MethodPost, "/api/v1/messages/"+msgID+"/read", aliceToken, nil)
	suite.Equal(http.StatusForbidden, resp.StatusCode)

	resp, body = suite.request(http.MethodPost, "/api/v1/messages/"+msgID+"/read", bobToken, nil)
	suite.Equal(http.StatusOK, resp.StatusCode)
	var read struct {
		Message types.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(body, &read))
	require.NotNil(t, read.Message.ReadAt)
	firstReadAt := *read.Message.ReadAt

	// A second mark is a no-op, the timestamp does not move
	resp, body = suite.request(http.MethodPost, "/api/v1/messages/"+msgID+"/read", bobToken, nil)
	suite.Equal(http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &read))
	require.NotNil(t, read.Message.ReadAt)
	suite.True(read.Message.ReadAt.Equal(firstReadAt))

	// Refresh rotates the token pair and the old token dies
	resp, body = suite.request(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": tokens.RefreshToken,
	})
	suite.Equal(http.StatusOK, resp.StatusCode)
	var rotated auth.TokenResponse
	require.NoError(t, json.Unmarshal(body, &rotated))
	suite.NotEqual(tokens.RefreshToken, rotated.RefreshToken)

	resp, _ = suite.request(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": tokens.RefreshToken,
	})
	suite.Equal(http.StatusUnauthorized, resp.StatusCode)

	// Messaging an unknown user 404s
	resp, _ = suite.request(http.MethodPost, "/api/v1/messages", aliceToken, map[string]string{
		"to_username": "ghost", "body": "anyone there?",
	})
	suite.Equal(http.StatusNotFound, resp.StatusCode)

	// Empty body is rejected
	resp, _ = suite.request(http.MethodPost, "/api/v1/messages", aliceToken, map[string]string{
		"to_username": "bob", "body": "",
	})
	suite.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestE2ETestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e tests in short mode")
	}
	suite.Run(t, new(E2ETestSuite))
}
