package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ent0n29/xianwen/internal/users"
)

var (
	ErrMissingFields      = errors.New("email and password are required")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const DefaultTokenTTL = 24 * time.Hour

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// Claims is the JWT payload.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Config controls token issuance.
type Config struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
}

// Service registers users, checks credentials and issues bearer tokens.
type Service struct {
	users  users.Store
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

func NewService(store users.Store, cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:  store,
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
		cost:   cfg.BcryptCost,
		now:    time.Now,
	}, nil
}

func (s *Service) Register(ctx context.Context, email, password string) (users.User, string, error) {
	if err := checkFields(email, password); err != nil {
		return users.User{}, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return users.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, email, string(hash))
	if err != nil {
		return users.User{}, "", err
	}
	token, err := s.IssueToken(u)
	if err != nil {
		return users.User{}, "", err
	}
	return u, token, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (users.User, string, error) {
	if err := checkFields(email, password); err != nil {
		return users.User{}, "", err
	}
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return users.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return users.User{}, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return users.User{}, "", ErrInvalidCredentials
	}
	token, err := s.IssueToken(u)
	if err != nil {
		return users.User{}, "", err
	}
	return u, token, nil
}

// IssueToken signs an HS256 token for u.
func (s *Service) IssueToken(u users.User) (string, error) {
	now := s.now()
	claims := Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates signature and expiry and returns the caller identity.
func (s *Service) VerifyToken(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

func checkFields(email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return ErrMissingFields
	}
	if len(password) > 72 {
		return ErrPasswordTooLong
	}
	return nil
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity set by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
