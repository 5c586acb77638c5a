package secmem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestNewTokenStripsBotPrefix(t *testing.T) {
	tests := map[string]string{
		"abc.def.ghi":       "abc.def.ghi",
		"  abc.def.ghi\n":   "abc.def.ghi",
		"Bot abc.def.ghi":   "abc.def.ghi",
		"bot   abc.def.ghi": "abc.def.ghi",
		"Bottle":            "Bottle",
	}
	for in, want := range tests {
		if got := NewToken(in).Reveal(); got != want {
			t.Errorf("NewToken(%q).Reveal() = %q, want %q", in, got, want)
		}
	}
}

func TestAuthorization(t *testing.T) {
	if got := NewToken("abc").Authorization(); got != "Bot abc" {
		t.Fatalf("Authorization() = %q", got)
	}
	if got := NewToken("").Authorization(); got != "" {
		t.Fatalf("empty Authorization() = %q", got)
	}
	var nilToken *Token
	if got := nilToken.Authorization(); got != "" {
		t.Fatalf("nil Authorization() = %q", got)
	}
}

func TestHint(t *testing.T) {
	if got := NewToken("MTIzNDU2Nzg5.abcd.wxyz").Hint(); got != "****wxyz" {
		t.Fatalf("Hint() = %q", got)
	}
	if got := NewToken("short").Hint(); got != "*****" {
		t.Fatalf("short Hint() = %q", got)
	}
}

func TestRevealAfterZeroReturnsEmpty(t *testing.T) {
	tok := NewToken("secret")
	if tok.IsZeroed() {
		t.Fatal("IsZeroed() = true before Zero()")
	}
	tok.Zero()
	if !tok.IsZeroed() {
		t.Fatal("IsZeroed() = false after Zero()")
	}
	if got := tok.Reveal(); got != "" {
		t.Fatalf("Reveal() after Zero() = %q, want empty", got)
	}
	if got := tok.Authorization(); got != "" {
		t.Fatalf("Authorization() after Zero() = %q, want empty", got)
	}
}

func TestNilTokenIsSafe(t *testing.T) {
	var tok *Token
	tok.Zero()
	if tok.IsZeroed() || tok.Reveal() != "" {
		t.Fatal("nil token should be empty and not zeroed")
	}
}

func TestFormattingIsRedacted(t *testing.T) {
	tok := NewToken("super-secret-token")
	outputs := []string{
		tok.String(),
		tok.GoString(),
		fmt.Sprintf("%v", tok),
		fmt.Sprintf("%+v", tok),
		fmt.Sprintf("%#v", tok),
		fmt.Sprintf("%s", tok),
		fmt.Sprintf("%q", tok),
		fmt.Sprintf("%x", tok),
	}
	for _, out := range outputs {
		if strings.Contains(out, "super-secret") {
			t.Fatalf("formatted output leaked token: %q", out)
		}
	}
}

func TestSlogValueIsRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("connecting", "token", NewToken("super-secret-token"))
	if strings.Contains(buf.String(), "super-secret") {
		t.Fatalf("log line leaked token: %s", buf.String())
	}
}

func TestJSONIsRedacted(t *testing.T) {
	type settings struct {
		Token   *Token `json:"token"`
		Channel string `json:"channel"`
	}
	data, err := json.Marshal(settings{Token: NewToken("secret"), Channel: "123"})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if parsed["token"] != "[REDACTED]" || parsed["channel"] != "123" {
		t.Fatalf("parsed = %v", parsed)
	}

	text, _ := NewToken("secret").MarshalText()
	if string(text) != "[REDACTED]" {
		t.Fatalf("MarshalText() = %q", text)
	}
}

func TestUnmarshalJSONRejects(t *testing.T) {
	var tok Token
	if err := json.Unmarshal([]byte(`"secret"`), &tok); err == nil {
		t.Fatal("expected UnmarshalJSON to fail")
	}
}

func TestConcurrentRevealAndZero(t *testing.T) {
	tok := NewToken("concurrent-test")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tok.Authorization()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		tok.Zero()
	}()
	wg.Wait()

	if got := tok.Reveal(); got != "" {
		t.Fatalf("Reveal() after concurrent Zero = %q, want empty", got)
	}
}

func TestRevealAfterZeroWarnsOnce(t *testing.T) {
	tok := NewToken("secret")
	_ = tok.Reveal()
	if tok.warnedOnce.Load() {
		t.Fatal("warnedOnce should be false while the token is alive")
	}

	tok.Zero()
	_ = tok.Reveal()
	_ = tok.Reveal()
	if !tok.warnedOnce.Load() {
		t.Fatal("warnedOnce should be set after a read post-Zero")
	}
}
