package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/auth"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/service"
	"github.com/sakif/essence/internal/snowflake"
)

// AuthService is what AuthHandler needs from service.AuthService.
// Declaring it here lets the handler tests pass a fake.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string, method service.TokenRetrievalMethod) (*service.AuthResult, error)
	RevokeAllTokens(ctx context.Context, userID snowflake.ID) error
	Logout(ctx context.Context, token string) error
	Me(ctx context.Context, userID snowflake.ID) (*model.ClientUser, error)
	User(ctx context.Context, userID snowflake.ID) (*model.User, error)
	EditProfile(ctx context.Context, userID snowflake.ID, in service.EditProfileInput) (*model.ClientUser, error)
	BeginEmailChange(ctx context.Context, userID snowflake.ID, newEmail, password string) (string, error)
	ConfirmEmailChange(ctx context.Context, userID snowflake.ID, code string) (*model.ClientUser, error)
}

// CodeSender delivers an email verification code. Mail delivery lives
// outside this server; LogCodeSender stands in for it during development.
type CodeSender interface {
	SendVerificationCode(ctx context.Context, userID snowflake.ID, email, code string) error
}

// LogCodeSender "delivers" codes by writing them to the debug log.
type LogCodeSender struct {
	Logger *slog.Logger
}

func (s LogCodeSender) SendVerificationCode(ctx context.Context, userID snowflake.ID, email, code string) error {
	s.Logger.DebugContext(ctx, "email verification code",
		slog.String("userID", userID.String()),
		slog.String("email", email),
		slog.String("code", code),
	)
	return nil
}

// AuthHandler serves account and token endpoints.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister           → POST   /users
//   - HandleLogin              → POST   /login
//   - HandleMe                 → GET    /users/me
//   - HandleEditProfile        → PATCH  /users/me
//   - HandleUser               → GET    /users/{userID}
//   - HandleLogout             → DELETE /users/me/token
//   - HandleRevokeTokens       → DELETE /users/me/tokens
//   - HandleBeginEmailChange   → POST   /users/me/email
//   - HandleConfirmEmailChange → POST   /users/me/email/verify
type AuthHandler struct {
	auth     AuthService
	codes    CodeSender
	validate *validator.Validate
	logger   *slog.Logger
}

func NewAuthHandler(auth AuthService, codes CodeSender, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		codes:    codes,
		validate: newValidator(),
		logger:   logger,
	}
}

// PublicRoutes mounts the routes that work without a token.
func (h *AuthHandler) PublicRoutes(r chi.Router) {
	r.Post("/users", h.HandleRegister)
	r.Post("/login", h.HandleLogin)
}

// Routes mounts the routes that act on the caller's own account. They
// must sit behind auth.RequireAuth.
func (h *AuthHandler) Routes(r chi.Router) {
	r.Get("/users/me", h.HandleMe)
	r.Patch("/users/me", h.HandleEditProfile)
	r.Get("/users/{userID}", h.HandleUser)
	r.Delete("/users/me/token", h.HandleLogout)
	r.Delete("/users/me/tokens", h.HandleRevokeTokens)
	r.Post("/users/me/email", h.HandleBeginEmailChange)
	r.Post("/users/me/email/verify", h.HandleConfirmEmailChange)
}

type authResponse struct {
	User  *model.ClientUser `json:"user"`
	Token string            `json:"token"`
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=2,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=256"`
}

// HandleRegister creates an account and returns it with its first token.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: res.User, Token: res.Token})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	// Method is "new", "revoke" or "reuse"; empty means reuse.
	Method string `json:"method" validate:"omitempty,oneof=new revoke reuse"`
}

// HandleLogin exchanges credentials for a token.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	method, err := service.ParseTokenRetrievalMethod(req.Method)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password, method)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: res.User, Token: res.Token})
}

func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.auth.Me(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type editProfileRequest struct {
	Username    *string `json:"username" validate:"omitempty,min=2,max=32"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=32"`
	Bio         *string `json:"bio" validate:"omitempty,max=1024"`
}

func (h *AuthHandler) HandleEditProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req editProfileRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.auth.EditProfile(r.Context(), userID, service.EditProfileInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleUser returns another user's public profile.
func (h *AuthHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.auth.User(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleLogout revokes the token the request was made with.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.InvalidToken())
		return
	}

	if err := h.auth.Logout(r.Context(), id.Token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevokeTokens logs the caller out everywhere, including this token.
func (h *AuthHandler) HandleRevokeTokens(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.auth.RevokeAllTokens(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type emailChangeRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleBeginEmailChange sends a code to the new address. The code is never
// part of the response; knowing it is what proves ownership of the address.
func (h *AuthHandler) HandleBeginEmailChange(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req emailChangeRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	code, err := h.auth.BeginEmailChange(r.Context(), userID, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.codes.SendVerificationCode(r.Context(), userID, req.Email, code); err != nil {
		h.logger.ErrorContext(r.Context(), "sending verification code failed",
			slog.String("userID", userID.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type verifyEmailRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

func (h *AuthHandler) HandleConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req verifyEmailRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.auth.ConfirmEmailChange(r.Context(), userID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
