// Package auth handles bearer tokens and password hashing, plus the HTTP
// middleware that turns a token into a request identity.
//
// TOKEN FORMAT:
// A token is three dot-separated segments, each base64url without padding:
//
//	base64url("39113435127808") . base64url("184603186") . base64url(<32 random bytes>)
//	  ^ user ID in decimal          ^ issue time, ms since     ^ entropy
//	                                  the snowflake epoch
//
// The first two segments are readable by anyone holding the token; they only
// say who it claims to be and when it was made. Possession alone is not
// proof: the server must find the exact string in its token store before
// trusting it. The random segment is what makes a token unguessable and
// makes two tokens issued to the same user in the same millisecond differ.
//
// WHY NOT A JWT?
// Tokens are revoked by deleting them from the store, not by expiry, and the
// format is shared with other services byte for byte. A signed structure
// would add nothing the store lookup does not already give us.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/essence/internal/snowflake"
)

// entropyBytes is the size of the random segment.
const entropyBytes = 32

var (
	// ErrMalformedToken means the string is not in token format at all.
	ErrMalformedToken = errors.New("auth: malformed token")

	// ErrRandomSource means the entropy draw failed and no token was issued.
	ErrRandomSource = errors.New("auth: random source failure")
)

// randReader is the entropy source. crypto/rand.Reader is safe for
// concurrent use and needs no initialisation; tests swap it out.
var randReader io.Reader = rand.Reader

var tokenEncoding = base64.RawURLEncoding

// GenerateToken issues a new token for userID.
//
// If the random source fails the error wraps ErrRandomSource and no token is
// returned. A token with weak entropy is worse than no token.
func GenerateToken(userID snowflake.ID) (string, error) {
	entropy := make([]byte, entropyBytes)
	if _, err := io.ReadFull(randReader, entropy); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRandomSource, err)
	}

	var b strings.Builder
	b.WriteString(tokenEncoding.EncodeToString([]byte(userID.String())))
	b.WriteByte('.')
	b.WriteString(tokenEncoding.EncodeToString([]byte(strconv.FormatUint(snowflake.NowSinceEpoch(), 10))))
	b.WriteByte('.')
	b.WriteString(tokenEncoding.EncodeToString(entropy))
	return b.String(), nil
}

// TokenReader exposes the readable fields of a parsed token.
//
// A reader only exists for a well-formed token, so the accessors cannot fail.
// Nothing here says the token is valid; see the package doc.
type TokenReader struct {
	userID    snowflake.ID
	timestamp uint64
	entropy   []byte
}

// ParseToken decodes the first two segments of token, and the third if
// present. Fewer than two segments, bad base64url, or a segment that is not a
// decimal number all return an error wrapping ErrMalformedToken.
func ParseToken(token string) (*TokenReader, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 segments, got %d", ErrMalformedToken, len(parts))
	}

	userID, err := decodeDecimal(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: user segment: %w", ErrMalformedToken, err)
	}
	timestamp, err := decodeDecimal(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp segment: %w", ErrMalformedToken, err)
	}

	r := &TokenReader{userID: snowflake.ID(userID), timestamp: timestamp}
	if len(parts) == 3 {
		if r.entropy, err = tokenEncoding.DecodeString(parts[2]); err != nil {
			return nil, fmt.Errorf("%w: entropy segment: %w", ErrMalformedToken, err)
		}
	}
	return r, nil
}

func decodeDecimal(segment string) (uint64, error) {
	raw, err := tokenEncoding.DecodeString(segment)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

// UserID is the user the token claims to belong to.
func (r *TokenReader) UserID() snowflake.ID { return r.userID }

// TimestampMillis is the issue time exactly as stored: milliseconds since
// the snowflake epoch, not since the Unix epoch. Use UnixMillis or Time for
// an absolute instant.
func (r *TokenReader) TimestampMillis() uint64 { return r.timestamp }

// UnixMillis is the issue time in Unix milliseconds.
func (r *TokenReader) UnixMillis() uint64 { return r.timestamp + snowflake.EpochMillis }

// Time is the issue time as an absolute instant.
func (r *TokenReader) Time() time.Time { return time.UnixMilli(int64(r.UnixMillis())).UTC() }

// Entropy returns a copy of the random segment, or nil for a two-segment
// token. It carries no meaning; it is exposed for audit logs.
func (r *TokenReader) Entropy() []byte {
	if r.entropy == nil {
		return nil
	}
	out := make([]byte, len(r.entropy))
	copy(out, r.entropy)
	return out
}
