package local

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/waselportal/recoveryflow"
	"github.com/waselportal/recoveryflow/internal/credhash"
	"github.com/waselportal/recoveryflow/urltoken"
)

const codeDigits = 6

var (
	errInvalidGrant = errors.New("Invalid login credentials")
	errSigningKey   = errors.New("signing key is required")
)

var _ recoveryflow.IdentityBackend = (*Backend)(nil)

// Config defines a public type used by local APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	// KeyPrefix namespaces every redis key this backend touches.
	KeyPrefix string
	// SigningKey signs access tokens. Required.
	SigningKey []byte
	// CodeTTL bounds how long an issued one-time code stays valid.
	CodeTTL time.Duration
	// MaxCodeAttempts caps wrong-code submissions before the code burns.
	MaxCodeAttempts int
	// ResendWindow and MaxResends bound recovery/verification emails per
	// address per window.
	ResendWindow time.Duration
	MaxResends   int
	// AccessTokenTTL bounds minted access tokens; refresh grants live ten
	// times as long.
	AccessTokenTTL time.Duration
	// OnDeliver receives every issued code in place of an email. Required
	// outside tests wiring their own capture.
	OnDeliver func(email, code string)
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "rcf"
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 15 * time.Minute
	}
	if c.MaxCodeAttempts <= 0 {
		c.MaxCodeAttempts = 5
	}
	if c.ResendWindow <= 0 {
		c.ResendWindow = time.Minute
	}
	if c.MaxResends <= 0 {
		c.MaxResends = 3
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = time.Hour
	}
}

// Backend defines a public type used by local APIs.
//
// Backend is a redis-backed reference implementation of
// recoveryflow.IdentityBackend for development and tests. It mints HS256
// access tokens, stores argon2id credential hashes, and delivers one-time
// codes through Config.OnDeliver instead of email.
type Backend struct {
	cfg     Config
	redis   *redis.Client
	store   *codeStore
	limiter *resendLimiter
	hasher  *credhash.Hasher

	mu      sync.Mutex
	current *recoveryflow.Session
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New(rdb *redis.Client, cfg Config) (*Backend, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, errSigningKey
	}
	cfg.applyDefaults()

	hasher, err := credhash.New(credhash.DefaultParams())
	if err != nil {
		return nil, err
	}

	return &Backend{
		cfg:     cfg,
		redis:   rdb,
		store:   newCodeStore(rdb, cfg.KeyPrefix),
		limiter: newResendLimiter(rdb, cfg.KeyPrefix, cfg.ResendWindow, cfg.MaxResends),
		hasher:  hasher,
	}, nil
}

func (b *Backend) userKey(email string) string {
	return b.cfg.KeyPrefix + ":user:" + email
}

func (b *Backend) refreshKey(token string) string {
	return b.cfg.KeyPrefix + ":refresh:" + token
}

// RegisterUser describes the registeruser operation and its observable behavior.
//
// RegisterUser may return an error when input validation, dependency calls, or security checks fail.
// RegisterUser does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Backend) RegisterUser(ctx context.Context, email, password string, confirmed bool) error {
	hash, err := b.hasher.Hash(password)
	if err != nil {
		return err
	}

	confirmedAt := ""
	if confirmed {
		confirmedAt = time.Now().UTC().Format(time.RFC3339)
	}

	fields := map[string]any{
		"id":           uuid.NewString(),
		"hash":         hash,
		"confirmed_at": confirmedAt,
	}
	if err := b.redis.HSet(ctx, b.userKey(email), fields).Err(); err != nil {
		return fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}
	return nil
}

// ConfirmUser describes the confirmuser operation and its observable behavior.
//
// ConfirmUser may return an error when input validation, dependency calls, or security checks fail.
// ConfirmUser does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Backend) ConfirmUser(ctx context.Context, email string) error {
	key := b.userKey(email)
	exists, err := b.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}
	if exists == 0 {
		return errInvalidGrant
	}

	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := b.redis.HSet(ctx, key, "confirmed_at", stamp).Err(); err != nil {
		return fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}

	b.mu.Lock()
	if b.current != nil && b.current.Email == email {
		b.current.EmailConfirmedAt, _ = time.Parse(time.RFC3339, stamp)
	}
	b.mu.Unlock()
	return nil
}

type userRecord struct {
	ID          string
	Hash        string
	ConfirmedAt time.Time
}

func (b *Backend) loadUser(ctx context.Context, email string) (*userRecord, error) {
	fields, err := b.redis.HGetAll(ctx, b.userKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, errInvalidGrant
	}

	record := &userRecord{ID: fields["id"], Hash: fields["hash"]}
	if raw := fields["confirmed_at"]; raw != "" {
		record.ConfirmedAt, _ = time.Parse(time.RFC3339, raw)
	}
	return record, nil
}

// RequestRecovery describes the requestrecovery operation and its observable behavior.
//
// RequestRecovery may return an error when input validation, dependency calls, or security checks fail.
//
// An unknown address succeeds without issuing anything, so callers cannot
// probe which accounts exist. The redirect target is accepted for interface
// parity; local delivery has nowhere to redirect to.
func (b *Backend) RequestRecovery(ctx context.Context, email, redirectTarget string) error {
	_ = redirectTarget
	return b.issueCode(ctx, email, urltoken.KindRecovery, "recovery")
}

// ResendVerification describes the resendverification operation and its observable behavior.
//
// ResendVerification may return an error when input validation, dependency calls, or security checks fail.
// ResendVerification does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Backend) ResendVerification(ctx context.Context, email string) error {
	return b.issueCode(ctx, email, urltoken.KindSignup, "verification")
}

func (b *Backend) issueCode(ctx context.Context, email string, kind urltoken.Kind, purpose string) error {
	if err := b.limiter.Allow(ctx, purpose, email); err != nil {
		return err
	}

	user, err := b.loadUser(ctx, email)
	if err != nil {
		if errors.Is(err, errInvalidGrant) {
			return nil
		}
		return err
	}

	code, err := generateCode()
	if err != nil {
		return err
	}

	record := &codeRecord{
		UserID:    user.ID,
		CodeHash:  hashCode(code),
		ExpiresAt: time.Now().Add(b.cfg.CodeTTL).Unix(),
		Kind:      kind,
	}
	if err := b.store.Save(ctx, email, record, b.cfg.CodeTTL); err != nil {
		return err
	}

	if b.cfg.OnDeliver != nil {
		b.cfg.OnDeliver(email, code)
	}
	return nil
}

// VerifyOTP describes the verifyotp operation and its observable behavior.
//
// VerifyOTP may return an error when input validation, dependency calls, or security checks fail.
// VerifyOTP does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Backend) VerifyOTP(ctx context.Context, identifier, code string, purpose urltoken.Kind) (*recoveryflow.Session, error) {
	if _, err := b.store.Consume(ctx, identifier, code, purpose, b.cfg.MaxCodeAttempts); err != nil {
		return nil, err
	}

	if purpose == urltoken.KindSignup {
		if err := b.ConfirmUser(ctx, identifier); err != nil {
			return nil, err
		}
	}

	user, err := b.loadUser(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return b.mintSession(ctx, user, identifier)
}

// ExchangeToken describes the exchangetoken operation and its observable behavior.
//
// ExchangeToken may return an error when input validation, dependency calls, or security checks fail.
// ExchangeToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Backend) ExchangeToken(ctx context.Context, accessToken, refreshToken string) (*recoveryflow.Session, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidGrant
		}
		return b.cfg.SigningKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New("Token has expired or is invalid")
		}
		return nil, errInvalidGrant
	}

	email, _ := claims["email"].(string)
	if email == "" {
		return nil, errInvalidGrant
	}

	storedEmail, err := b.redis.Get(ctx, b.refreshKey(refreshToken)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errInvalidGrant
		}
		return nil, fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}
	if storedEmail != email {
		return nil, errInvalidGrant
	}

	user, err := b.loadUser(ctx, email)
	if err != nil {
		return nil, err
	}

	session := &recoveryflow.Session{
		UserID:           user.ID,
		Email:            email,
		EmailConfirmedAt: user.ConfirmedAt,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
	}
	b.setCurrent(session)
	return session, nil
}

// CurrentSession describes the currentsession operation and its observable behavior.
//
// CurrentSession may return an error when input validation, dependency calls, or security checks fail.
// CurrentSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Backend) CurrentSession(ctx context.Context) (*recoveryflow.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil, nil
	}
	session := *b.current
	return &session, nil
}

// UpdateCredential describes the updatecredential operation and its observable behavior.
//
// UpdateCredential may return an error when input validation, dependency calls, or security checks fail.
// UpdateCredential does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Backend) UpdateCredential(ctx context.Context, newPassword string) error {
	b.mu.Lock()
	current := b.current
	b.mu.Unlock()
	if current == nil {
		return errInvalidGrant
	}

	hash, err := b.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := b.redis.HSet(ctx, b.userKey(current.Email), "hash", hash).Err(); err != nil {
		return fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}
	return nil
}

// SignOut describes the signout operation and its observable behavior.
//
// SignOut drops the tracked session and revokes its refresh grant.
func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	current := b.current
	b.current = nil
	b.mu.Unlock()

	if current == nil || current.RefreshToken == "" {
		return nil
	}
	if err := b.redis.Del(ctx, b.refreshKey(current.RefreshToken)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}
	return nil
}

func (b *Backend) setCurrent(session *recoveryflow.Session) {
	b.mu.Lock()
	copied := *session
	b.current = &copied
	b.mu.Unlock()
}

func (b *Backend) mintSession(ctx context.Context, user *userRecord, email string) (*recoveryflow.Session, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(b.cfg.AccessTokenTTL).Unix(),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.cfg.SigningKey)
	if err != nil {
		return nil, err
	}

	refreshToken := uuid.NewString()
	refreshTTL := 10 * b.cfg.AccessTokenTTL
	if err := b.redis.Set(ctx, b.refreshKey(refreshToken), email, refreshTTL).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}

	session := &recoveryflow.Session{
		UserID:           user.ID,
		Email:            email,
		EmailConfirmedAt: user.ConfirmedAt,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
	}
	b.setCurrent(session)
	return session, nil
}

func generateCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
