package gateway

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// StreamScope is the only scope a stream token may carry.
	StreamScope = "alarm-stream"

	DefaultTokenTTL = 5 * time.Minute
)

var (
	ErrInvalidToken = errors.New("invalid stream token")
	ErrTokenExpired = errors.New("stream token expired")
)

// streamClaims are the claims of a stream token. Subject is the owner id.
type streamClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// TokenIssuer mints and verifies short-lived HS256 stream tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock sets a custom clock function (for testing).
func (i *TokenIssuer) WithClock(fn func() time.Time) *TokenIssuer {
	i.now = fn
	return i
}

// Issue returns a stream token for owner and its expiry.
func (i *TokenIssuer) Issue(owner string) (string, time.Time, error) {
	if owner == "" {
		return "", time.Time{}, errors.New("owner is required")
	}
	now := i.now()
	expires := now.Add(i.ttl).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, streamClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Scope: StreamScope,
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign stream token")
	}
	return signed, expires, nil
}

// Verify checks the signature, scope and expiry of token and returns the
// owner it was issued to.
func (i *TokenIssuer) Verify(token string) (string, error) {
	var c streamClaims
	_, err := jwt.ParseWithClaims(token, &c, i.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	if c.Scope != StreamScope || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}

func (i *TokenIssuer) key(t *jwt.Token) (interface{}, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, errors.Newf("unexpected signing method: %v", t.Header["alg"])
	}
	return i.secret, nil
}
