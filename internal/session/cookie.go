// Package session resolves the storefront visitor behind each request and owns the
// per-visitor cart, wishlist and checkout state.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/xdignya776/shoptrae/internal/platform/requestctx"
)

const (
	// DefaultCookieName is used when no cookie name is configured.
	DefaultCookieName = "SHOPTRAE_SESSION"
	defaultMaxAge     = 30 * 24 * time.Hour
)

var (
	errInvalidCookie = errors.New("session: invalid cookie")
	errExpiredCookie = errors.New("session: expired cookie")
)

// CookieOptions configures the visitor cookie.
type CookieOptions struct {
	Name       string
	SigningKey string
	Secure     bool
	MaxAge     time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

type payload struct {
	VisitorID string    `json:"vid"`
	IssuedAt  time.Time `json:"iat"`
}

// Codec signs and verifies visitor cookies with HMAC-SHA256.
type Codec struct {
	name   string
	key    []byte
	secure bool
	maxAge time.Duration
	now    func() time.Time
}

// NewCodec builds a Codec. An empty signing key yields a process-ephemeral key, which resets
// every visitor on restart.
func NewCodec(opts CookieOptions) (*Codec, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = DefaultCookieName
	}
	key := []byte(opts.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		logger.Warn("session: using ephemeral signing key; set STOREFRONT_SESSION_SIGNING_KEY outside local development")
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{name: name, key: key, secure: opts.Secure, maxAge: maxAge, now: now}, nil
}

// Name returns the cookie name.
func (c *Codec) Name() string { return c.name }

// Encode signs a cookie value for visitorID.
func (c *Codec) Encode(visitorID string) string {
	b, _ := json.Marshal(payload{VisitorID: visitorID, IssuedAt: c.now().UTC()})
	return base64.RawURLEncoding.EncodeToString(b) + "." + base64.RawURLEncoding.EncodeToString(c.sign(b))
}

// Decode verifies value and returns the visitor id it carries. Cookies older than the
// configured max age are rejected.
func (c *Codec) Decode(value string) (string, error) {
	p, err := c.decode(value)
	if err != nil {
		return "", err
	}
	return p.VisitorID, nil
}

func (c *Codec) decode(value string) (payload, error) {
	encoded, sig, ok := strings.Cut(value, ".")
	if !ok {
		return payload{}, errInvalidCookie
	}
	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return payload{}, errInvalidCookie
	}
	mac, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return payload{}, errInvalidCookie
	}
	if !hmac.Equal(mac, c.sign(body)) {
		return payload{}, errInvalidCookie
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return payload{}, errInvalidCookie
	}
	if _, err := ulid.ParseStrict(p.VisitorID); err != nil {
		return payload{}, errInvalidCookie
	}
	if p.IssuedAt.IsZero() || !c.now().Before(p.IssuedAt.Add(c.maxAge)) {
		return payload{}, errExpiredCookie
	}
	return p, nil
}

// needsRenewal reports whether a valid cookie has used up half its lifetime.
func (c *Codec) needsRenewal(p payload) bool {
	return c.now().Sub(p.IssuedAt) >= c.maxAge/2
}

func (c *Codec) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(body)
	return mac.Sum(nil)
}

// Middleware resolves the visitor id from the cookie and stores it in the request context.
// A missing, forged or expired cookie gets a new visitor; a cookie past half its lifetime is
// re-issued for the same visitor.
func (c *Codec) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		visitorID := ""
		issue := true
		if cookie, err := r.Cookie(c.name); err == nil && cookie.Value != "" {
			if p, err := c.decode(cookie.Value); err == nil {
				visitorID = p.VisitorID
				issue = c.needsRenewal(p)
			} else {
				requestctx.Logger(r.Context()).Debug("discarding session cookie", zap.Error(err))
			}
		}
		if visitorID == "" {
			visitorID = NewVisitorID()
		}
		if issue {
			c.setCookie(w, visitorID)
		}
		ctx := requestctx.WithVisitorID(r.Context(), visitorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *Codec) setCookie(w http.ResponseWriter, visitorID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    c.Encode(visitorID),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.maxAge / time.Second),
	})
}

// NewVisitorID returns a fresh ULID string.
func NewVisitorID() string {
	return ulid.Make().String()
}
