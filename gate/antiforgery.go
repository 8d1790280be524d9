package gate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/checkoutgate/internal/util"
	"github.com/jmcleod/checkoutgate/internal/uuid"
)

const (
	// antiForgeryTick is the token rotation period. A token is accepted in
	// the tick it was issued and in the following one.
	antiForgeryTick = 12 * time.Hour
	antiForgeryInfo = "anti-forgery:v1"
	// antiForgeryLen is the number of hex characters kept from the MAC.
	antiForgeryLen = 32
	maxBindingLen  = 64
)

// AntiForgery issues stateless form tokens bound to a per-client binding
// value (carried in its own cookie) and to a coarse time window.
type AntiForgery struct {
	key    *memguard.LockedBuffer
	action string
}

// NewAntiForgery derives the anti-forgery key from the server secret. The
// action string scopes tokens to one form.
func NewAntiForgery(secret []byte, action string) (*AntiForgery, error) {
	k, err := util.DeriveSubkey(secret, antiForgeryInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving anti-forgery key: %w", err)
	}
	buf := memguard.NewBufferFromBytes(k)
	buf.Freeze()
	return &AntiForgery{key: buf, action: action}, nil
}

// Destroy wipes the key material.
func (a *AntiForgery) Destroy() {
	a.key.Destroy()
}

// NewBinding returns a fresh random binding value.
func (a *AntiForgery) NewBinding() string {
	return uuid.New()
}

// ValidBinding reports whether b looks like a binding this package issued.
func ValidBinding(b string) bool {
	return b != "" && len(b) <= maxBindingLen
}

// Issue returns the token for binding at time now.
func (a *AntiForgery) Issue(binding string, now time.Time) string {
	return a.mac(binding, tickOf(now))
}

// Verify reports whether tok was issued for binding in the current or the
// previous tick.
func (a *AntiForgery) Verify(tok, binding string, now time.Time) bool {
	if tok == "" || !ValidBinding(binding) || !a.key.IsAlive() {
		return false
	}
	tick := tickOf(now)
	for _, t := range []int64{tick, tick - 1} {
		if hmac.Equal([]byte(a.mac(binding, t)), []byte(tok)) {
			return true
		}
	}
	return false
}

func (a *AntiForgery) mac(binding string, tick int64) string {
	m := hmac.New(sha256.New, a.key.Bytes())
	m.Write([]byte(a.action))
	m.Write([]byte{'|'})
	m.Write([]byte(binding))
	m.Write([]byte{'|'})
	m.Write([]byte(strconv.FormatInt(tick, 10)))
	return hex.EncodeToString(m.Sum(nil))[:antiForgeryLen]
}

func tickOf(t time.Time) int64 {
	return t.Unix() / int64(antiForgeryTick/time.Second)
}
