package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults for the failed-attempt limiter.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = time.Minute
	DefaultBlock       = 5 * time.Minute
)

// HeaderAPIKey is the alternative to an Authorization bearer token.
const HeaderAPIKey = "X-API-Key"

// QueryAPIKey carries the key on WebSocket upgrades, where browsers cannot
// set headers.
const QueryAPIKey = "api_key"

// Config configures a KeyAuth. Exactly one of Key and Hash is set.
type Config struct {
	// Key is the plaintext key; it is hashed at Cost and then discarded
	Key string

	// Hash is a bcrypt hash of the key, at least MinCost
	Hash string

	// Cost is the bcrypt cost used for Key (default: DefaultCost)
	Cost int

	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// KeyAuth is HTTP middleware that requires the API key on every request.
//
// A successful check remembers the SHA-256 digest of the key so bcrypt runs
// once per key rather than once per request. Failures are counted per peer
// address; a blocked client gets 429 until the block expires.
type KeyAuth struct {
	hash    string
	limiter *AttemptLimiter
	logger  *zap.Logger

	mu       sync.RWMutex
	verified []byte
}

// New creates a KeyAuth from cfg.
func New(cfg Config, logger *zap.Logger) (*KeyAuth, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Key != "" && cfg.Hash != "" {
		return nil, errors.New("auth: set either a key or a hash, not both")
	}
	hash := cfg.Hash
	switch {
	case cfg.Key != "":
		cost := cfg.Cost
		if cost == 0 {
			cost = DefaultCost
		}
		var err error
		if hash, err = HashKeyWithCost(cfg.Key, cost); err != nil {
			return nil, err
		}
	case hash != "":
		if err := ValidateHash(hash); err != nil {
			return nil, err
		}
	default:
		return nil, ErrEmptyKey
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}
	return &KeyAuth{
		hash:    hash,
		limiter: NewAttemptLimiter(cfg.MaxAttempts, cfg.Window, cfg.Block),
		logger:  logger.Named("auth"),
	}, nil
}

// Limiter exposes the failed-attempt limiter for cleanup scheduling.
func (a *KeyAuth) Limiter() *AttemptLimiter {
	return a.limiter
}

// Check verifies key against the configured hash.
func (a *KeyAuth) Check(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	known := a.verified
	a.mu.RUnlock()
	if known != nil && subtle.ConstantTimeCompare(known, digest[:]) == 1 {
		return nil
	}

	if err := VerifyKey(key, a.hash); err != nil {
		return err
	}
	a.mu.Lock()
	a.verified = digest[:]
	a.mu.Unlock()
	return nil
}

// Middleware rejects requests without a valid key with 401, and clients
// with too many recent failures with 429.
func (a *KeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := peerIP(r)
		if ok, wait := a.limiter.Allow(ip); !ok {
			a.logger.Warn("api key attempts blocked",
				zap.String("ip", ip),
				zap.Duration("remaining", wait))
			w.Header().Set("Retry-After", formatRetryAfter(wait))
			writeError(w, http.StatusTooManyRequests, "too many failed authentication attempts", "auth_blocked")
			return
		}

		if err := a.Check(KeyFromRequest(r)); err != nil {
			n := a.limiter.RecordFailure(ip)
			a.logger.Info("api key rejected",
				zap.String("path", r.URL.Path),
				zap.String("ip", ip),
				zap.Int("attempts", n))
			w.Header().Set("WWW-Authenticate", `Bearer realm="ai_workspace"`)
			writeError(w, http.StatusUnauthorized, "missing or invalid api key", "unauthorized")
			return
		}
		a.limiter.Reset(ip)
		next.ServeHTTP(w, r)
	})
}

// KeyFromRequest extracts the key from the Authorization bearer token, the
// X-API-Key header or the api_key query parameter, in that order.
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if k := r.Header.Get(HeaderAPIKey); k != "" {
		return k
	}
	return r.URL.Query().Get(QueryAPIKey)
}

// peerIP is the remote address without port. Forwarded headers are not
// trusted here.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func formatRetryAfter(d time.Duration) string {
	return strconv.Itoa(max(int(d.Seconds()), 1))
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
