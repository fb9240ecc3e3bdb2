// PASSWORD HASHING
//
// WHY ARGON2ID?
// Argon2id is memory-hard: each guess needs a large block of RAM as well as
// CPU time, which takes most of the advantage away from GPU and ASIC
// crackers. bcrypt is only CPU-hard and caps passwords at 72 bytes.
//
// Verifier format (PHC string, stored as-is in the users table):
//
//	$argon2id$v=19$m=4096,t=64,p=1$<salt>$<key>
//	          ^    ^      ^    ^
//	          |    |      |    lanes
//	          |    |      passes over memory
//	          |    memory in KiB
//	          argon2 version
//
// Salt and key are standard base64 without padding. Because the parameters
// travel with the verifier, raising the defaults later does not break old
// verifiers; Verify always re-derives with the parameters it finds.
//
// PEPPER:
// An optional process-wide secret is mixed in with HMAC-SHA256 before
// derivation. A leaked database alone is then not enough to start guessing.
//
// ONE CONFIGURATION PER PROCESS:
// ConfigureHasher must be called exactly once at startup, before anything
// hashes. Calling it twice, or hashing before it, is a wiring bug and panics.

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMemoryKiB is the argon2 memory cost.
	DefaultMemoryKiB = 4096
	// DefaultIterations is the argon2 time cost.
	DefaultIterations = 64
	// DefaultParallelism is the number of argon2 lanes per hash.
	DefaultParallelism = 1

	saltLen = 16
	keyLen  = 32
)

var (
	// ErrInvalidCredentials is a wrong password. It is not a hasher failure.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrHasherFailure covers bad configuration, unreadable verifiers and
	// salt draw failures.
	ErrHasherFailure = errors.New("auth: hasher failure")
)

// HasherConfig tunes the hasher. Zero values take the defaults.
type HasherConfig struct {
	Secret      []byte
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	// Workers caps how many hashes run at once. Each one holds MemoryKiB
	// of RAM for its duration. Defaults to GOMAXPROCS.
	Workers int
}

func (c HasherConfig) withDefaults() HasherConfig {
	if c.MemoryKiB == 0 {
		c.MemoryKiB = DefaultMemoryKiB
	}
	if c.Iterations == 0 {
		c.Iterations = DefaultIterations
	}
	if c.Parallelism == 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Hasher hashes and verifies passwords with one fixed configuration.
//
// It's a struct (not free functions) so that services can take it as a
// dependency and tests can build a cheap one with NewHasher instead of
// touching the process-wide instance.
type Hasher struct {
	cfg  HasherConfig
	pool *semaphore.Weighted
}

// NewHasher builds a standalone Hasher. Production code should go through
// ConfigureHasher and DefaultHasher instead.
func NewHasher(cfg HasherConfig) *Hasher {
	cfg = cfg.withDefaults()
	return &Hasher{
		cfg:  cfg,
		pool: semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

var configured atomic.Pointer[Hasher]

// ConfigureHasher installs the process-wide hasher. Panics if called twice.
func ConfigureHasher(cfg HasherConfig) {
	if !configured.CompareAndSwap(nil, NewHasher(cfg)) {
		panic("auth: ConfigureHasher called more than once")
	}
}

// DefaultHasher returns the process-wide hasher. Panics if ConfigureHasher
// has not run yet.
func DefaultHasher() *Hasher {
	h := configured.Load()
	if h == nil {
		panic("auth: password hasher used before ConfigureHasher")
	}
	return h
}

// HashPassword hashes with the process-wide hasher.
func HashPassword(ctx context.Context, password string) (string, error) {
	return DefaultHasher().Hash(ctx, password)
}

// VerifyPassword verifies with the process-wide hasher.
func VerifyPassword(ctx context.Context, password, verifier string) (bool, error) {
	return DefaultHasher().Verify(ctx, password, verifier)
}

// Hash derives a fresh verifier for password with a random salt, so two
// hashes of the same password never match textually.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(randReader, salt); err != nil {
		return "", fmt.Errorf("%w: drawing salt: %w", ErrHasherFailure, err)
	}

	p := params{memory: h.cfg.MemoryKiB, iterations: h.cfg.Iterations, parallelism: h.cfg.Parallelism}
	key, err := h.derive(ctx, password, salt, p, keyLen)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.iterations, p.parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches verifier.
//
// A wrong password is (false, nil). An error means the verifier could not be
// read or the context ended; it never means "wrong password".
func (h *Hasher) Verify(ctx context.Context, password, verifier string) (bool, error) {
	p, salt, want, err := decodeVerifier(verifier)
	if err != nil {
		return false, err
	}

	got, err := h.derive(ctx, password, salt, p, uint32(len(want)))
	if err != nil {
		return false, err
	}

	// Constant-time so response timing leaks nothing about the key.
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// derive runs argon2id on the worker pool. If ctx ends while waiting for a
// slot nothing has been computed and ctx.Err() is returned.
func (h *Hasher) derive(ctx context.Context, password string, salt []byte, p params, length uint32) ([]byte, error) {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.pool.Release(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return argon2.IDKey(h.pepper(password), salt, p.iterations, p.memory, p.parallelism, length), nil
}

func (h *Hasher) pepper(password string) []byte {
	if len(h.cfg.Secret) == 0 {
		return []byte(password)
	}
	mac := hmac.New(sha256.New, h.cfg.Secret)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}

type params struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}

var b64 = base64.RawStdEncoding

func decodeVerifier(verifier string) (params, []byte, []byte, error) {
	var p params

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(verifier, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("%w: unrecognised verifier format", ErrHasherFailure)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("%w: reading version: %w", ErrHasherFailure, err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrHasherFailure, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.parallelism); err != nil {
		return p, nil, nil, fmt.Errorf("%w: reading parameters: %w", ErrHasherFailure, err)
	}
	if p.memory == 0 || p.iterations == 0 || p.parallelism == 0 {
		return p, nil, nil, fmt.Errorf("%w: zero cost parameter", ErrHasherFailure)
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: decoding salt: %w", ErrHasherFailure, err)
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: decoding key", ErrHasherFailure)
	}

	return p, salt, key, nil
}
