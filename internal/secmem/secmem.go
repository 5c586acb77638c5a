package secmem

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/session-panel/internal/logging"
)

var log = logging.L("secmem")

const redacted = "[REDACTED]"

// Token holds the bot credential. Every formatting and serialization path
// prints [REDACTED]; Reveal and Authorization are the only ways to read it.
// Zero wipes the bytes on shutdown on a best-effort basis.
type Token struct {
	mu         sync.Mutex
	data       []byte
	zeroed     atomic.Bool
	warnedOnce atomic.Bool
}

// NewToken stores s with surrounding whitespace and any "Bot " prefix
// removed.
func NewToken(s string) *Token {
	s = strings.TrimSpace(s)
	if len(s) > 4 && strings.EqualFold(s[:4], "bot ") {
		s = strings.TrimSpace(s[4:])
	}
	b := make([]byte, len(s))
	copy(b, s)
	return &Token{data: b}
}

// Reveal returns the raw token, or "" for a nil or zeroed Token.
func (t *Token) Reveal() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	isZeroed := t.data == nil && t.zeroed.Load()
	val := string(t.data)
	t.mu.Unlock()

	if isZeroed {
		if t.warnedOnce.CompareAndSwap(false, true) {
			log.Warn("token read after it was wiped")
		}
		return ""
	}
	return val
}

// Authorization returns the value for the Authorization header of a bot
// session, or "" when the token is empty.
func (t *Token) Authorization() string {
	v := t.Reveal()
	if v == "" {
		return ""
	}
	return "Bot " + v
}

// Hint returns the last four characters behind a mask so operators can
// tell which token is configured.
func (t *Token) Hint() string {
	v := t.Reveal()
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return "****" + v[len(v)-4:]
}

// IsZeroed returns true if Zero() has been called.
func (t *Token) IsZeroed() bool {
	if t == nil {
		return false
	}
	return t.zeroed.Load()
}

func (t *Token) String() string {
	return redacted
}

func (t *Token) GoString() string {
	return redacted
}

func (t *Token) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, redacted)
}

func (t *Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func (t *Token) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Zero overwrites the backing bytes.
func (t *Token) Zero() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.data {
		t.data[i] = 0
	}
	t.data = nil
	t.zeroed.Store(true)
}

// UnmarshalJSON rejects deserialization; tokens come from the environment.
func (t *Token) UnmarshalJSON(data []byte) error {
	return fmt.Errorf("secmem: cannot deserialize into Token")
}
