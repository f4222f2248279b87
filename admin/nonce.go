package admin

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidNonce = errors.New("admin: invalid nonce")
	ErrForbidden    = errors.New("admin: forbidden")
)

// DefaultNonceTTL matches the lifetime of a WordPress nonce.
const DefaultNonceTTL = 24 * time.Hour

// Nonces issues and verifies action-bound tokens of the form
// {expiry}.{id}.{mac}, where mac is an HMAC-SHA256 over action, expiry and
// id.
type Nonces struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewNonces(secret string, ttl time.Duration) *Nonces {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &Nonces{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (n *Nonces) mac(action, expiry, id string) string {
	h := hmac.New(sha256.New, n.secret)
	h.Write([]byte(action + "|" + expiry + "|" + id))
	return hex.EncodeToString(h.Sum(nil))
}

// Issue returns a new nonce for action.
func (n *Nonces) Issue(action string) string {
	expiry := strconv.FormatInt(n.now().Add(n.ttl).Unix(), 10)
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return expiry + "." + id + "." + n.mac(action, expiry, id)
}

// Verify checks that nonce was issued for action and has not expired.
func (n *Nonces) Verify(action, nonce string) error {
	parts := strings.Split(nonce, ".")
	if len(parts) != 3 {
		return ErrInvalidNonce
	}
	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || n.now().Unix() > expiry {
		return ErrInvalidNonce
	}
	if !hmac.Equal([]byte(parts[2]), []byte(n.mac(action, parts[0], parts[1]))) {
		return ErrInvalidNonce
	}
	return nil
}

// Guard enforces nonces and the admin bearer token on AJAX actions.
type Guard struct {
	nonces *Nonces
	token  string
}

// NewGuard builds a guard. With an empty token every capability check
// fails.
func NewGuard(nonces *Nonces, token string) *Guard {
	return &Guard{nonces: nonces, token: token}
}

func (g *Guard) VerifyNonce(action, nonce string) error {
	return g.nonces.Verify(action, nonce)
}

// Authorize requires "Authorization: Bearer <admin token>".
func (g *Guard) Authorize(r *http.Request) error {
	if g.token == "" {
		return ErrForbidden
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(g.token)) != 1 {
		return ErrForbidden
	}
	return nil
}
