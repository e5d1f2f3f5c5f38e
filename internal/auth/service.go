package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

const minPasswordLen = 8

type Config struct {
	JWTSecret         string        `toml:"jwt_secret"`
	TokenTTL          time.Duration `toml:"token_ttl"`
	AnonymousTokenTTL time.Duration `toml:"anonymous_token_ttl"`
}

func DefaultConfig() Config {
	return Config{TokenTTL: 24 * time.Hour, AnonymousTokenTTL: 30 * 24 * time.Hour}
}

// Identity is the caller behind a validated token.
type Identity struct {
	UserID    string
	Anonymous bool
}

type claims struct {
	jwt.RegisteredClaims
	Anonymous bool `json:"anon,omitempty"`
}

type Service struct {
	repo   Repository
	secret []byte
	cfg    Config
	now    func() time.Time
}

func NewService(repo Repository, cfg Config) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	def := DefaultConfig()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.AnonymousTokenTTL <= 0 {
		cfg.AnonymousTokenTTL = def.AnonymousTokenTTL
	}
	return &Service{repo: repo, secret: []byte(cfg.JWTSecret), cfg: cfg, now: time.Now}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ledger.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	return u, nil
}

// Login checks the password and returns a signed token for the user.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	u, err := s.repo.LookupUser(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	tok, err := s.IssueToken(u.ID, false)
	if err != nil {
		return "", nil, err
	}
	return tok, u, nil
}

// Anonymous mints a fresh user id with a long-lived token. The id stays
// stable for as long as the client keeps the token.
func (s *Service) Anonymous() (string, string, error) {
	id := uuid.NewString()
	tok, err := s.IssueToken(id, true)
	if err != nil {
		return "", "", err
	}
	return tok, id, nil
}

func (s *Service) IssueToken(userID string, anonymous bool) (string, error) {
	ttl := s.cfg.TokenTTL
	if anonymous {
		ttl = s.cfg.AnonymousTokenTTL
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Anonymous: anonymous,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return tok, nil
}

func (s *Service) ValidateToken(_ context.Context, token string) (Identity, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: c.Subject, Anonymous: c.Anonymous}, nil
}
