package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/auth"
	"github.com/sakif/essence/internal/cache"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/repository"
	"github.com/sakif/essence/internal/snowflake"
)

// TokenRetrievalMethod says what Login does about tokens the user already has.
type TokenRetrievalMethod string

const (
	// TokenNew issues a fresh token and leaves existing ones alone.
	TokenNew TokenRetrievalMethod = "new"
	// TokenRevoke revokes every existing token, then issues a fresh one.
	TokenRevoke TokenRetrievalMethod = "revoke"
	// TokenReuse returns the most recent existing token, issuing one only if
	// there is none.
	TokenReuse TokenRetrievalMethod = "reuse"
)

// ParseTokenRetrievalMethod maps the wire value to a method. Empty means reuse.
func ParseTokenRetrievalMethod(s string) (TokenRetrievalMethod, error) {
	switch m := TokenRetrievalMethod(s); m {
	case "":
		return TokenReuse, nil
	case TokenNew, TokenRevoke, TokenReuse:
		return m, nil
	default:
		return "", apperror.ValidationFailed("method", fmt.Sprintf("unknown token retrieval method %q", s))
	}
}

// AuthService registers accounts, issues tokens and resolves them back to
// identities.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users   repository.UserRepository  → account records
//   - tokens  repository.TokenRepository → the token store (the only proof a token is valid)
//   - cache   cache.Cache                → token lookups, pending email changes
//   - hasher  *auth.Hasher               → argon2id password verifiers
//   - ids     IDGenerator                → user snowflakes
type AuthService struct {
	users  repository.UserRepository
	tokens repository.TokenRepository
	cache  cache.Cache
	hasher *auth.Hasher
	ids    IDGenerator
	logger *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens repository.TokenRepository,
	c cache.Cache,
	hasher *auth.Hasher,
	ids IDGenerator,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		cache:  c,
		hasher: hasher,
		ids:    ids,
		logger: logger,
	}
}

// AuthResult bundles an account with a token for it.
type AuthResult struct {
	User  *model.ClientUser
	Token string
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates an account and issues its first token.
//
// Email uniqueness is enforced by the store; a taken email comes back as an
// apperror.ErrConflict.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)

	if n := utf8.RuneCountInString(username); n < MinUsernameLength || n > MaxUsernameLength {
		return nil, apperror.ValidationFailed("username",
			fmt.Sprintf("username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength))
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	verifier, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.ClientUser{
		User: model.User{
			ID:       s.ids.Generate(snowflake.KindUser),
			Username: username,
		},
		Email:                &email,
		PasswordHash:         verifier,
		DMPrivacy:            model.DefaultDMPrivacy,
		GroupDMPrivacy:       model.DefaultGroupDMPrivacy,
		FriendRequestPrivacy: model.DefaultFriendRequestPrivacy,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	token, err := s.issueToken(ctx, &user.User)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("userID", user.ID.String()))
	return &AuthResult{User: user, Token: token}, nil
}

// Login checks the password and returns a token chosen by method.
//
// An unknown email and a wrong password produce the same error, so callers
// cannot probe which emails are registered.
func (s *AuthService) Login(ctx context.Context, email, password string, method TokenRetrievalMethod) (*AuthResult, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.InvalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}
	if !ok {
		return nil, apperror.InvalidCredentials()
	}

	var token string
	switch method {
	case TokenReuse, "":
		token, err = s.tokens.LatestToken(ctx, user.ID)
		if errors.Is(err, apperror.ErrNotFound) {
			token, err = s.issueToken(ctx, &user.User)
		}
	case TokenRevoke:
		if err = s.RevokeAllTokens(ctx, user.ID); err == nil {
			token, err = s.issueToken(ctx, &user.User)
		}
	case TokenNew:
		token, err = s.issueToken(ctx, &user.User)
	default:
		return nil, apperror.ValidationFailed("method", fmt.Sprintf("unknown token retrieval method %q", method))
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: obtaining token: %w", err)
	}

	return &AuthResult{User: user, Token: token}, nil
}

// Authenticate implements auth.Authenticator.
//
// A token is valid only if the store has it. Parsing first lets obviously
// malformed tokens fail without a lookup; the user ID embedded in the token
// must also match the owner the store reports.
func (s *AuthService) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	reader, err := auth.ParseToken(token)
	if err != nil {
		return auth.Identity{}, rejectToken(apperror.InvalidToken())
	}

	info, ok, err := s.cache.UserInfoForToken(ctx, token)
	if err != nil {
		cacheFailed(ctx, s.logger, "UserInfoForToken", err)
	}
	if ok {
		if info.UserID != reader.UserID() {
			return auth.Identity{}, rejectToken(apperror.InvalidToken())
		}
		return auth.Identity{UserID: info.UserID, Flags: info.Flags, Token: token}, nil
	}

	owner, err := s.tokens.TokenOwner(ctx, token)
	if errors.Is(err, apperror.ErrUnauthorized) || errors.Is(err, apperror.ErrNotFound) {
		return auth.Identity{}, rejectToken(err)
	}
	if err != nil {
		return auth.Identity{}, fmt.Errorf("service/auth: resolving token: %w", err)
	}
	if owner.ID != reader.UserID() {
		return auth.Identity{}, rejectToken(apperror.InvalidToken())
	}

	if err := s.cache.CacheToken(ctx, token, cache.TokenInfo{UserID: owner.ID, Flags: owner.Flags}); err != nil {
		cacheFailed(ctx, s.logger, "CacheToken", err)
	}
	return auth.Identity{UserID: owner.ID, Flags: owner.Flags, Token: token}, nil
}

// rejectToken marks err as a definite "this token is not valid" for
// auth.RequireAuth, keeping the apperror underneath for errors.As.
func rejectToken(err error) error {
	return fmt.Errorf("%w: %w", auth.ErrTokenRejected, err)
}

// RevokeAllTokens logs the user out everywhere.
func (s *AuthService) RevokeAllTokens(ctx context.Context, userID snowflake.ID) error {
	n, err := s.tokens.DeleteTokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("service/auth: revoking tokens: %w", err)
	}
	if err := s.cache.InvalidateTokensFor(ctx, userID); err != nil {
		// A stale cached token would keep working, so this one is not
		// advisory.
		return fmt.Errorf("service/auth: evicting revoked tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "tokens revoked",
		slog.String("userID", userID.String()),
		slog.Int64("count", n),
	)
	return nil
}

// Me returns the caller's own account.
func (s *AuthService) Me(ctx context.Context, userID snowflake.ID) (*model.ClientUser, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading user: %w", err)
	}
	return user, nil
}

// User returns anyone's public profile, cached after the first lookup.
func (s *AuthService) User(ctx context.Context, userID snowflake.ID) (*model.User, error) {
	user, ok, err := s.cache.User(ctx, userID)
	if err != nil {
		cacheFailed(ctx, s.logger, "User", err)
	}
	if ok {
		return user, nil
	}

	full, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading user: %w", err)
	}
	if err := s.cache.UpdateUser(ctx, &full.User); err != nil {
		cacheFailed(ctx, s.logger, "UpdateUser", err)
	}
	return &full.User, nil
}

// EditProfileInput holds the profile fields to change. Nil leaves a field
// alone; a pointer to "" clears an optional field.
type EditProfileInput struct {
	Username    *string
	DisplayName *string
	Bio         *string
}

// EditProfile updates the caller's public profile and drops the cached copy.
func (s *AuthService) EditProfile(ctx context.Context, userID snowflake.ID, in EditProfileInput) (*model.ClientUser, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading user: %w", err)
	}

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if n := utf8.RuneCountInString(username); n < MinUsernameLength || n > MaxUsernameLength {
			return nil, apperror.ValidationFailed("username",
				fmt.Sprintf("username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength))
		}
		user.Username = username
	}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if utf8.RuneCountInString(name) > MaxUsernameLength {
			return nil, apperror.ValidationFailed("display_name",
				fmt.Sprintf("display name must be at most %d characters", MaxUsernameLength))
		}
		user.DisplayName = optional(name)
	}
	if in.Bio != nil {
		bio := strings.TrimSpace(*in.Bio)
		if utf8.RuneCountInString(bio) > MaxBioLength {
			return nil, apperror.ValidationFailed("bio",
				fmt.Sprintf("bio must be at most %d characters", MaxBioLength))
		}
		user.Bio = optional(bio)
	}

	if err := s.users.UpdateProfile(ctx, &user.User); err != nil {
		return nil, fmt.Errorf("service/auth: updating profile: %w", err)
	}
	if err := s.cache.RemoveUser(ctx, userID); err != nil {
		cacheFailed(ctx, s.logger, "RemoveUser", err)
	}
	return user, nil
}

// Logout revokes a single token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.tokens.DeleteToken(ctx, token); err != nil {
		return fmt.Errorf("service/auth: revoking token: %w", err)
	}
	if err := s.cache.InvalidateToken(ctx, token); err != nil {
		// Same as RevokeAllTokens: a cached copy would keep the token alive.
		return fmt.Errorf("service/auth: evicting revoked token: %w", err)
	}
	return nil
}

// BeginEmailChange checks the password and parks a six-digit code for the
// new address. Delivering the code is someone else's job; it is returned so
// the caller can hand it to whatever sends mail.
func (s *AuthService) BeginEmailChange(ctx context.Context, userID snowflake.ID, newEmail, password string) (string, error) {
	email := normalizeEmail(newEmail)
	if !strings.Contains(email, "@") {
		return "", apperror.ValidationFailed("email", "invalid email format")
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("service/auth: loading user: %w", err)
	}
	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return "", fmt.Errorf("service/auth: verifying password: %w", err)
	}
	if !ok {
		return "", apperror.InvalidCredentials()
	}

	switch _, err := s.users.GetUserByEmail(ctx, email); {
	case err == nil:
		return "", apperror.AlreadyTaken("email", "email")
	case !errors.Is(err, apperror.ErrNotFound):
		return "", fmt.Errorf("service/auth: checking email: %w", err)
	}

	code, err := verificationCode()
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	if err := s.cache.SetEmailVerification(ctx, userID, code, email); err != nil {
		return "", fmt.Errorf("service/auth: storing verification: %w", err)
	}
	return code, nil
}

// ConfirmEmailChange applies a pending email change if code matches.
func (s *AuthService) ConfirmEmailChange(ctx context.Context, userID snowflake.ID, code string) (*model.ClientUser, error) {
	want, email, ok, err := s.cache.EmailVerification(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: reading verification: %w", err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(code)) != 1 {
		return nil, apperror.ValidationFailed("code", "invalid or expired verification code")
	}

	if err := s.users.UpdateEmail(ctx, userID, email); err != nil {
		return nil, fmt.Errorf("service/auth: updating email: %w", err)
	}
	if err := s.cache.ClearEmailVerification(ctx, userID); err != nil {
		cacheFailed(ctx, s.logger, "ClearEmailVerification", err)
	}

	return s.Me(ctx, userID)
}

// issueToken generates, stores and caches a new token.
func (s *AuthService) issueToken(ctx context.Context, user *model.User) (string, error) {
	token, err := auth.GenerateToken(user.ID)
	if err != nil {
		return "", fmt.Errorf("service/auth: generating token: %w", err)
	}
	if err := s.tokens.CreateToken(ctx, user.ID, token); err != nil {
		return "", fmt.Errorf("service/auth: storing token: %w", err)
	}
	if err := s.cache.CacheToken(ctx, token, cache.TokenInfo{UserID: user.ID, Flags: user.Flags}); err != nil {
		cacheFailed(ctx, s.logger, "CacheToken", err)
	}
	return token, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// optional maps "" to nil.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func validatePassword(password string) error {
	if n := len(password); n < MinPasswordLength || n > MaxPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be between %d and %d bytes", MinPasswordLength, MaxPasswordLength))
	}
	return nil
}

var codeLimit = big.NewInt(1_000_000)

// verificationCode returns six uniformly random decimal digits.
func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeLimit)
	if err != nil {
		return "", fmt.Errorf("drawing verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
