package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/burrowhq/burrow/pkg/errdefs"
)

type ctxKey struct{}

// WithIdentity attaches an authenticated identity to a context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom extracts the identity attached by the auth middleware.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok
}

// Middleware authenticates every request via the Authorization header or,
// for WebSocket upgrades, a token query parameter. onError renders the
// failure in the caller's response envelope.
func (s *Service) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := bearerCredential(r)
			if credential == "" {
				onError(w, r, errdefs.New(errdefs.KindAuth, "missing credentials"))
				return
			}

			id, err := s.Verify(r.Context(), credential)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerCredential(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}

// ClientIP resolves the originating address, preferring X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// pruneThreshold bounds the limiter map; idle keys are dropped once it is
// crossed.
const pruneThreshold = 10000

// LimiterSet keeps one token bucket per key (user id or client IP).
type LimiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	interval time.Duration
	entries  map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterSet allows events per interval with a full-interval burst, e.g.
// NewLimiterSet(100, time.Minute) for 100 requests per minute.
func NewLimiterSet(events int, interval time.Duration) *LimiterSet {
	return &LimiterSet{
		limit:    rate.Every(interval / time.Duration(events)),
		burst:    events,
		interval: interval,
		entries:  make(map[string]*limiterEntry),
	}
}

// Allow reports whether an event for key fits the key's budget.
func (l *LimiterSet) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= pruneThreshold {
			l.prune(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func (l *LimiterSet) prune(now time.Time) {
	cutoff := now.Add(-2 * l.interval)
	for key, entry := range l.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
