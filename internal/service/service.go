// Package service contains the business logic layer.
//
// THE THREE LAYERS:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, checks permissions, orchestrates
//	Repository (data layer)  → reads/writes the relational store
//
// Services also own the cache. The cache is advisory: every read falls back
// to the repository on a miss, and a cache failure is logged and treated as
// a miss rather than failing the request. Writes go to the repository first;
// the cache is updated or invalidated afterwards.
//
// DEPENDENCY INJECTION:
// Services take repository interfaces and cache.Cache, never *sqlite.DB or a
// Redis client. Tests pass hand-written fakes and cache.Noop or a miniredis
// backed cache.Redis.
package service

import (
	"context"
	"log/slog"

	"github.com/sakif/essence/internal/snowflake"
)

// Validation limits shared by the services.
const (
	MinUsernameLength  = 2
	MaxUsernameLength  = 32
	MinPasswordLength  = 8
	MaxPasswordLength  = 256
	MinGuildNameLength = 2
	MaxGuildNameLength = 100
	MaxRoleNameLength  = 32
	MaxChannelName     = 32
	MaxTopicLength     = 1024
	MaxBanReasonLength = 512
	MaxBioLength       = 1024
	MaxMessageLength   = 4096
	MaxEmbeds          = 10
)

// IDGenerator allocates snowflakes. *snowflake.Generator implements it.
type IDGenerator interface {
	Generate(kind snowflake.ModelKind) snowflake.ID
}

// cacheFailed logs a cache error that the caller is about to ignore.
func cacheFailed(ctx context.Context, logger *slog.Logger, op string, err error) {
	logger.WarnContext(ctx, "cache operation failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
