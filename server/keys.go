package server

import (
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"sync"
	"time"
)

const keyLifetime = 24 * time.Hour

// keyIssuer hands out the form key required by the subscribe endpoint. One key
// is shared by every caller and rotates once it is a day old.
type keyIssuer struct {
	now    func() time.Time
	issued time.Time
	salt   string
	key    string
	mu     sync.Mutex
}

func newKeyIssuer(salt string, now func() time.Time) *keyIssuer {
	if now == nil {
		now = time.Now
	}
	return &keyIssuer{salt: salt, now: now}
}

// current returns the live key, minting a new one when none exists or it expired.
func (k *keyIssuer) current() string {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if k.key != "" && now.Sub(k.issued) < keyLifetime {
		return k.key
	}
	k.issued = now
	k.key = base64.StdEncoding.EncodeToString([]byte(k.salt + strconv.FormatInt(now.UnixMilli(), 10)))
	return k.key
}

// peek returns the live key without minting one.
func (k *keyIssuer) peek() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key == "" || k.now().Sub(k.issued) >= keyLifetime {
		return ""
	}
	return k.key
}

func (k *keyIssuer) valid(candidate string) bool {
	key := k.peek()
	if key == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1
}
