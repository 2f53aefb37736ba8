package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/types"
)

// API keys look like sk_<prefix>_<secret>. The prefix is stored in clear
// for lookup; only a hash of the full key is persisted.
const (
	keyPrefix    = "sk_"
	keyPrefixLen = 8
	keySecretLen = 32
)

// CreateKey mints an API key. The full secret is returned exactly once and
// cannot be recovered afterwards.
func (s *Service) CreateKey(ctx context.Context, userID, name string) (*types.APIKey, string, error) {
	if err := validation.Validate(name, validation.Required, validation.Length(1, 100)); err != nil {
		return nil, "", errdefs.Wrap(errdefs.KindValidation, "invalid key name", err)
	}

	prefix := randomToken(keyPrefixLen)
	secret := fmt.Sprintf("%s%s_%s", keyPrefix, prefix, randomToken(keySecretLen))

	key := &types.APIKey{
		ID:           uuid.NewString(),
		UserID:       userID,
		Prefix:       prefix,
		HashedSecret: hashKey(secret),
		Name:         name,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}

	logger := log.WithUserID(s.logger, userID)
	logger.Info().Str("key_id", key.ID).Msg("api key created")
	return key, secret, nil
}

// ListKeys returns the caller's keys, revoked ones included.
func (s *Service) ListKeys(ctx context.Context, userID string) ([]*types.APIKey, error) {
	return s.store.ListAPIKeys(ctx, userID)
}

// RevokeKey permanently disables a key.
func (s *Service) RevokeKey(ctx context.Context, userID, keyID string) error {
	return s.store.RevokeAPIKey(ctx, userID, keyID)
}

func (s *Service) verifyAPIKey(ctx context.Context, credential string) (*types.APIKey, error) {
	prefix, ok := splitKeyPrefix(credential)
	if !ok {
		return nil, errdefs.New(errdefs.KindAuth, "malformed api key")
	}

	candidates, err := s.store.FindAPIKeysByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to look up api keys: %w", err)
	}

	hashed := hashKey(credential)
	for _, key := range candidates {
		if key.RevokedAt != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hashed), []byte(key.HashedSecret)) == 1 {
			if err := s.store.TouchAPIKey(ctx, key.ID, s.now().UTC()); err != nil {
				s.logger.Warn().Err(err).Str("key_id", key.ID).Msg("failed to touch api key")
			}
			return key, nil
		}
	}
	return nil, errdefs.New(errdefs.KindAuth, "invalid api key")
}

// splitKeyPrefix extracts the lookup prefix from sk_<prefix>_<secret>.
func splitKeyPrefix(credential string) (string, bool) {
	rest := strings.TrimPrefix(credential, keyPrefix)
	if rest == credential {
		return "", false
	}
	i := strings.IndexByte(rest, '_')
	if i <= 0 || i == len(rest)-1 {
		return "", false
	}
	return rest[:i], true
}

func hashKey(credential string) string {
	digest := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(digest[:])
}

func randomToken(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)[:n]
}
