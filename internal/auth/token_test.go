package auth

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/sakif/essence/internal/snowflake"
)

const knownToken = "MzkxMTM0MzUxMjc4MDg.MTg0NjAzMTg2.khHChSMQuhJ8hqj3QVp1HZjqjVlBRbXuxdsh7ri7FHU"

// =========================================================================
// GENERATE TESTS
// =========================================================================

func TestGenerateToken_UserPrefix(t *testing.T) {
	token, err := GenerateToken(39_113_435_127_808)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if !strings.HasPrefix(token, "MzkxMTM0MzUxMjc4MDg.") {
		t.Errorf("GenerateToken() = %q, want prefix %q", token, "MzkxMTM0MzUxMjc4MDg.")
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("GenerateToken() = %q, want 3 segments", token)
	}
	if strings.ContainsAny(token, "=+/") {
		t.Errorf("GenerateToken() = %q, want unpadded base64url", token)
	}
}

func TestGenerateToken_RoundTrip(t *testing.T) {
	for _, userID := range []snowflake.ID{0, 1, 39_113_435_127_808, snowflake.ID(^uint64(0))} {
		before := snowflake.NowSinceEpoch()
		token, err := GenerateToken(userID)
		after := snowflake.NowSinceEpoch()
		if err != nil {
			t.Fatalf("GenerateToken(%d) error = %v", userID, err)
		}

		r, err := ParseToken(token)
		if err != nil {
			t.Fatalf("ParseToken(%q) error = %v", token, err)
		}
		if r.UserID() != userID {
			t.Errorf("UserID() = %d, want %d", r.UserID(), userID)
		}
		if ts := r.TimestampMillis(); ts < before || ts > after {
			t.Errorf("TimestampMillis() = %d, want within [%d, %d]", ts, before, after)
		}
		if len(r.Entropy()) != entropyBytes {
			t.Errorf("Entropy() length = %d, want %d", len(r.Entropy()), entropyBytes)
		}
	}
}

func TestGenerateToken_SameUserDiffers(t *testing.T) {
	a, _ := GenerateToken(42)
	b, _ := GenerateToken(42)
	if a == b {
		t.Error("GenerateToken() returned the same token twice")
	}
}

func TestGenerateToken_UsesRandomSource(t *testing.T) {
	prev := randReader
	randReader = bytes.NewReader(bytes.Repeat([]byte{0xAB}, entropyBytes))
	t.Cleanup(func() { randReader = prev })

	token, err := GenerateToken(7)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	r, _ := ParseToken(token)
	if !bytes.Equal(r.Entropy(), bytes.Repeat([]byte{0xAB}, entropyBytes)) {
		t.Errorf("Entropy() = %x, want the injected bytes", r.Entropy())
	}
}

func TestGenerateToken_RandomFailureAborts(t *testing.T) {
	prev := randReader
	t.Cleanup(func() { randReader = prev })

	for name, reader := range map[string]func(){
		"read error": func() { randReader = iotest.ErrReader(errors.New("no entropy")) },
		"short read": func() { randReader = bytes.NewReader(make([]byte, entropyBytes-1)) },
	} {
		t.Run(name, func(t *testing.T) {
			reader()
			token, err := GenerateToken(7)
			if !errors.Is(err, ErrRandomSource) {
				t.Fatalf("GenerateToken() error = %v, want ErrRandomSource", err)
			}
			if token != "" {
				t.Errorf("GenerateToken() returned %q alongside an error", token)
			}
		})
	}
}

// =========================================================================
// PARSE TESTS
// =========================================================================

func TestParseToken_KnownToken(t *testing.T) {
	r, err := ParseToken(knownToken)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if r.UserID() != 39_113_435_127_808 {
		t.Errorf("UserID() = %d, want 39113435127808", r.UserID())
	}
	if r.TimestampMillis() != 184_603_186 {
		t.Errorf("TimestampMillis() = %d, want 184603186", r.TimestampMillis())
	}
	if r.UnixMillis() != 184_603_186+snowflake.EpochMillis {
		t.Errorf("UnixMillis() = %d, want epoch-adjusted value", r.UnixMillis())
	}
	if got := r.Time().Format("2006-01-02"); got != "2022-12-27" {
		t.Errorf("Time() = %s, want 2022-12-27", got)
	}
}

func TestParseToken_TwoSegmentsIsEnough(t *testing.T) {
	r, err := ParseToken("MzkxMTM0MzUxMjc4MDg.MTg0NjAzMTg2")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if r.UserID() != 39_113_435_127_808 || r.Entropy() != nil {
		t.Errorf("ParseToken() = user %d entropy %x", r.UserID(), r.Entropy())
	}
}

func TestParseToken_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":               "",
		"one segment":         "MzkxMTM0MzUxMjc4MDg",
		"bad base64 user":     "!!!.MTg0NjAzMTg2.abc",
		"padded user":         "MzkxMTM0MzUxMjc4MDg=.MTg0NjAzMTg2",
		"non-decimal user":    "YWJj.MTg0NjAzMTg2",
		"non-decimal time":    "MzkxMTM0MzUxMjc4MDg.YWJj",
		"negative time":       "MzkxMTM0MzUxMjc4MDg.LTE",
		"bad entropy":         "MzkxMTM0MzUxMjc4MDg.MTg0NjAzMTg2.***",
		"overflowing user id": "OTk5OTk5OTk5OTk5OTk5OTk5OTk5.MTg0NjAzMTg2",
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseToken(token); !errors.Is(err, ErrMalformedToken) {
				t.Errorf("ParseToken(%q) error = %v, want ErrMalformedToken", token, err)
			}
		})
	}
}

func TestTokenReader_EntropyIsCopied(t *testing.T) {
	r, _ := ParseToken(knownToken)
	e := r.Entropy()
	e[0] ^= 0xFF
	if bytes.Equal(e, r.Entropy()) {
		t.Error("Entropy() exposes the reader's internal slice")
	}
}
