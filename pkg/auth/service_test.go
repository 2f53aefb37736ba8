package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/storage"
)

func newTestService() (*Service, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	svc := NewService(store, []byte("test-signing-secret"), time.Hour)
	return svc, store
}

func TestSignupAndLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, token, err := svc.Signup(ctx, "  Alice@Example.COM ", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email = %q, want case-folded and trimmed", user.Email)
	}
	if strings.Contains(user.PasswordVerifier, "hunter2") {
		t.Error("verifier contains the raw password")
	}
	if token == "" {
		t.Error("signup returned no session token")
	}

	// Login is case-insensitive on email.
	got, token2, err := svc.Login(ctx, "ALICE@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got.ID != user.ID || token2 == "" {
		t.Errorf("login user = %s token = %q", got.ID, token2)
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "wrong-password"); !errdefs.IsAuth(err) {
		t.Errorf("wrong password error = %v, want auth", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "hunter2hunter2"); !errdefs.IsAuth(err) {
		t.Errorf("unknown email error = %v, want auth (no enumeration)", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"bad email", "not-an-email", "hunter2hunter2"},
		{"empty email", "", "hunter2hunter2"},
		{"short password", "a@example.com", "short"},
		{"long password", "a@example.com", strings.Repeat("x", 129)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Signup(ctx, tt.email, tt.password); !errdefs.IsValidation(err) {
				t.Errorf("Signup() error = %v, want validation", err)
			}
		})
	}
}

func TestSignupLongPasswordRoundTrips(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// 128 characters exceeds bcrypt's 72-byte input limit; the pre-hash
	// must keep the full password significant.
	long := strings.Repeat("a", 120) + "12345678"
	if _, _, err := svc.Signup(ctx, "long@example.com", long); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if _, _, err := svc.Login(ctx, "long@example.com", long); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, _, err := svc.Login(ctx, "long@example.com", long[:127]); !errdefs.IsAuth(err) {
		t.Errorf("truncated password error = %v, want auth", err)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, _, err := svc.Signup(ctx, "dup@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if _, _, err := svc.Signup(ctx, "DUP@example.com", "hunter2hunter2"); !errdefs.IsConflict(err) {
		t.Errorf("duplicate signup error = %v, want conflict", err)
	}
}

func TestVerifySessionToken(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, token, err := svc.Signup(ctx, "a@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	id, err := svc.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != user.ID || id.APIKeyID != "" {
		t.Errorf("identity = %+v, want session identity for %s", id, user.ID)
	}
	if id.TraceID == "" {
		t.Error("no trace id attached")
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, token, err := svc.Signup(ctx, "a@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	other := NewService(storage.NewMemoryStore(), []byte("different-secret"), time.Hour)

	tests := []struct {
		name       string
		svc        *Service
		credential string
	}{
		{"empty", svc, ""},
		{"garbage", svc, "not-a-token"},
		{"wrong signing key", other, token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.svc.Verify(ctx, tt.credential); !errdefs.IsAuth(err) {
				t.Errorf("Verify() error = %v, want auth", err)
			}
		})
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, token, err := svc.Signup(ctx, "a@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.Verify(ctx, token); !errdefs.IsAuth(err) {
		t.Errorf("expired token error = %v, want auth", err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	key, secret, err := svc.CreateKey(ctx, "user-1", "ci")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	if !strings.HasPrefix(secret, "sk_"+key.Prefix+"_") {
		t.Errorf("secret = %q, want sk_%s_…", secret, key.Prefix)
	}
	if strings.Contains(key.HashedSecret, secret) {
		t.Error("stored hash contains the raw secret")
	}

	id, err := svc.Verify(ctx, secret)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "user-1" || id.APIKeyID != key.ID {
		t.Errorf("identity = %+v", id)
	}

	keys, err := svc.ListKeys(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	if len(keys) != 1 || keys[0].LastUsedAt == nil {
		t.Errorf("keys = %+v, want one key with last_used_at stamped", keys)
	}

	if err := svc.RevokeKey(ctx, "user-1", key.ID); err != nil {
		t.Fatalf("RevokeKey() error = %v", err)
	}
	if _, err := svc.Verify(ctx, secret); !errdefs.IsAuth(err) {
		t.Errorf("revoked key error = %v, want auth", err)
	}
}

func TestRevokeKeyTenantIsolation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	key, secret, err := svc.CreateKey(ctx, "user-1", "ci")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	if err := svc.RevokeKey(ctx, "user-2", key.ID); !errdefs.IsNotFound(err) {
		t.Errorf("foreign revoke error = %v, want not found", err)
	}
	if _, err := svc.Verify(ctx, secret); err != nil {
		t.Errorf("key no longer verifies after failed foreign revoke: %v", err)
	}
}

func TestVerifyMalformedAPIKey(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for _, credential := range []string{"sk_", "sk_noseparator", "sk__secret", "sk_prefix_"} {
		if _, err := svc.Verify(ctx, credential); !errdefs.IsAuth(err) {
			t.Errorf("Verify(%q) error = %v, want auth", credential, err)
		}
	}
}
