package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128

	tokenIssuer = "burrow"
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID   string
	APIKeyID string // empty for session tokens
	TraceID  string
}

// Service authenticates users: signup/login with session tokens, and
// long-lived API keys verified by constant-time hash comparison.
type Service struct {
	store         storage.Store
	signingSecret []byte
	sessionTTL    time.Duration
	logger        zerolog.Logger

	now func() time.Time
}

func NewService(store storage.Store, signingSecret []byte, sessionTTL time.Duration) *Service {
	return &Service{
		store:         store,
		signingSecret: signingSecret,
		sessionTTL:    sessionTTL,
		logger:        log.WithComponent("auth"),
		now:           time.Now,
	}
}

// Signup registers a user and returns a fresh session token alongside.
func (s *Service) Signup(ctx context.Context, email, password string) (*types.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	err := validation.Errors{
		"email": validation.Validate(email, validation.Required, is.EmailFormat),
		"password": validation.Validate(password,
			validation.Required, validation.Length(minPasswordLen, maxPasswordLen)),
	}.Filter()
	if err != nil {
		return nil, "", errdefs.Wrap(errdefs.KindValidation, "invalid signup request", err)
	}

	verifier, err := hashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		ID:               uuid.NewString(),
		Email:            email,
		PasswordVerifier: verifier,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, "", err
	}

	logger := log.WithUserID(s.logger, user.ID)
	logger.Info().Msg("user registered")
	return user, token, nil
}

// Login verifies a password and issues a session token. Wrong email and
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*types.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, "", errdefs.New(errdefs.KindAuth, "invalid email or password")
		}
		return nil, "", err
	}

	if !verifyPassword(user.PasswordVerifier, password) {
		return nil, "", errdefs.New(errdefs.KindAuth, "invalid email or password")
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Verify resolves a bearer credential to an identity: API keys by their
// prefix, everything else as a session token.
func (s *Service) Verify(ctx context.Context, credential string) (*Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, errdefs.New(errdefs.KindAuth, "missing credentials")
	}

	id := &Identity{TraceID: uuid.NewString()}

	if strings.HasPrefix(credential, keyPrefix) {
		key, err := s.verifyAPIKey(ctx, credential)
		if err != nil {
			return nil, err
		}
		id.UserID = key.UserID
		id.APIKeyID = key.ID
		return id, nil
	}

	userID, err := s.verifyToken(credential)
	if err != nil {
		return nil, err
	}
	id.UserID = userID
	return id, nil
}

func (s *Service) issueToken(userID string) (string, error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

func (s *Service) verifyToken(credential string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(credential, &claims,
		func(*jwt.Token) (interface{}, error) { return s.signingSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindAuth, "invalid session token", err)
	}
	if claims.Subject == "" {
		return "", errdefs.New(errdefs.KindAuth, "session token has no subject")
	}
	return claims.Subject, nil
}

// hashPassword pre-hashes with SHA-256 because bcrypt only reads the first
// 72 bytes of its input and passwords may be longer.
func hashPassword(password string) (string, error) {
	digest := sha256.Sum256([]byte(password))
	encoded := base64.StdEncoding.EncodeToString(digest[:])
	hash, err := bcrypt.GenerateFromPassword([]byte(encoded), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(verifier, password string) bool {
	digest := sha256.Sum256([]byte(password))
	encoded := base64.StdEncoding.EncodeToString(digest[:])
	return bcrypt.CompareHashAndPassword([]byte(verifier), []byte(encoded)) == nil
}
