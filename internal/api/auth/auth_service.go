package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/messagely/messagely-server/app/observability/metrics"
	"github.com/messagely/messagely-server/config"
	"github.com/messagely/messagely-server/internal/types"
)

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService is the session layer: it verifies presented credentials and
// issues/rotates/revokes the bearer tokens that carry the caller identity.
type AuthService interface {
	// Register creates the user and logs them in immediately.
	Register(ctx context.Context, req RegisterRequest) (*types.User, string, string, error)

	// Login returns (accessToken, refreshToken) and touches last_login_at.
	Login(ctx context.Context, username, password string) (string, string, error)

	// Refresh rotates a valid refresh token into a new token pair.
	Refresh(ctx context.Context, refreshToken string) (string, string, error)

	// Logout revokes the refresh token.
	Logout(ctx context.Context, refreshToken string) error
}

type AuthServiceImpl struct {
	logger *slog.Logger
	repo   AuthRepo
	cfg    *config.Config

	// sessions caches refresh-token lookups so a hot refresh path skips the
	// database. The stores themselves stay stateless; this lives in the
	// session layer only.
	sessions *gocache.Cache
}

func NewAuthService(repo AuthRepo, cfg *config.Config, logger *slog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger:   logger,
		repo:     repo,
		cfg:      cfg,
		sessions: gocache.New(cfg.JWT.RefreshTokenTTL, 10*time.Minute),
	}
}

func (s *AuthServiceImpl) Register(ctx context.Context, req RegisterRequest) (*types.User, string, string, error) {
	l := s.logger.With(slog.String("method", "Register"), slog.String("username", req.Username))

	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, "", "", fmt.Errorf("username and password are required: %w", types.ErrValidation)
	}

	user, err := s.repo.Register(ctx, req.Username, req.Password, req.FirstName, req.LastName, req.Phone)
	if err != nil {
		return nil, "", "", fmt.Errorf("register: %w", err)
	}
	metrics.Get().RegisterRequestsTotal.Add(ctx, 1)

	accessToken, refreshToken, err := s.issueTokens(ctx, user.Username)
	if err != nil {
		return nil, "", "", err
	}

	l.InfoContext(ctx, "User registered")
	return user, accessToken, refreshToken, nil
}

func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (string, string, error) {
	l := s.logger.With(slog.String("method", "Login"), slog.String("username", username))
	metrics.Get().LoginAttemptsTotal.Add(ctx, 1)

	ok, err := s.repo.Authenticate(ctx, username, password)
	if err != nil {
		return "", "", fmt.Errorf("login: %w", err)
	}
	if !ok {
		l.WarnContext(ctx, "Invalid credentials")
		return "", "", fmt.Errorf("invalid username or password: %w", types.ErrUnauthenticated)
	}

	if _, err := s.repo.UpdateLastLogin(ctx, username); err != nil {
		// The login itself succeeded; a failed timestamp touch is not fatal
		l.WarnContext(ctx, "Failed to update last login timestamp", slog.Any("error", err))
	}

	return s.issueTokens(ctx, username)
}

func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	username, err := s.resolveRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", "", err
	}

	// Rotate: the presented token is single-use
	if err := s.repo.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return "", "", fmt.Errorf("refresh: %w", err)
	}
	s.sessions.Delete(refreshToken)

	return s.issueTokens(ctx, username)
}

func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	if err := s.repo.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.sessions.Delete(refreshToken)
	return nil
}

// resolveRefreshToken maps a refresh token to its username, consulting the
// session cache before the store and validating expiry/revocation.
func (s *AuthServiceImpl) resolveRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	if cached, found := s.sessions.Get(refreshToken); found {
		return cached.(string), nil
	}

	rec, err := s.repo.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("invalid refresh token: %w", types.ErrUnauthenticated)
	}
	if time.Now().After(rec.ExpiresAt) || rec.RevokedAt != nil {
		return "", fmt.Errorf("refresh token expired or revoked: %w", types.ErrUnauthenticated)
	}
	return rec.Username, nil
}

func (s *AuthServiceImpl) issueTokens(ctx context.Context, username string) (string, string, error) {
	accessToken, err := s.generateAccessToken(username)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken := uuid.NewString()
	expiresAt := time.Now().Add(s.cfg.JWT.RefreshTokenTTL)
	if err := s.repo.StoreRefreshToken(ctx, username, refreshToken, expiresAt); err != nil {
		return "", "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	s.sessions.Set(refreshToken, username, s.cfg.JWT.RefreshTokenTTL)

	return accessToken, refreshToken, nil
}

func (s *AuthServiceImpl) generateAccessToken(username string) (string, error) {
	now := time.Now()
	claims := types.Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    s.cfg.JWT.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.JWT.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.AccessTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWT.SecretKey))
}
