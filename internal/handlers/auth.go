package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/taskhub-app/apiserver/internal/services"
	"github.com/taskhub-app/apiserver/internal/token"
	"github.com/taskhub-app/apiserver/types"
)

// AccessTokenParser resolves a bearer token to an account id.
type AccessTokenParser interface {
	ParseAccessToken(accessToken string) (string, error)
}

// AuthHandler serves the registration, OTP, login and password reset
// endpoints.
type AuthHandler struct {
	auth   *services.AuthService
	tokens *token.Issuer
}

func NewAuthHandler(auth *services.AuthService, tokens *token.Issuer) *AuthHandler {
	return &AuthHandler{auth: auth, tokens: tokens}
}

// RequireAuth enforces a bearer access token and injects the account id
// into the request context.
func RequireAuth(tokens AccessTokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			accountID, err := tokens.ParseAccessToken(tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(withAccountID(r.Context(), accountID)))
		})
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	account, err := h.auth.RegisterWithEmail(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{
		Message: "check your email for the OTP code",
		Account: AccountRef{ID: account.ID, Email: account.Email},
	})
}

func (h *AuthHandler) PartnerRegister(w http.ResponseWriter, r *http.Request) {
	var req services.PartnerRegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if _, err := h.auth.PartnerRegister(r.Context(), req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "your account is under review, the result will be sent by email"})
}

func (h *AuthHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req services.ActivateInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.auth.ActivateAccount(r.Context(), req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "account activated, log in to continue"})
}

func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req services.ResendOTPInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.auth.ResendOTP(r.Context(), req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "check your email for the OTP code"})
}

// Login returns the access token in the body and sets the refresh token
// cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	result, err := h.auth.LoginWithEmail(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.tokens.SetRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, LoginResponse{
		Message: "logged in",
		Account: SessionAccount{PublicAccount: result.Account.Public(), AccessToken: result.AccessToken},
	})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	userID, err := h.auth.SendResetPasswordEmail(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ForgotPasswordResponse{Message: "check your email to set a new password", UserID: userID})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req services.ResetPasswordInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.auth.ResetPasswordWithOTP(r.Context(), req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
}

// Logout clears the refresh cookie. Issued tokens stay valid until expiry.
func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	h.tokens.ClearRefreshCookie(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	refresh, err := h.tokens.RefreshTokenFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	access, err := h.auth.RefreshAccessToken(r.Context(), refresh)
	if err != nil {
		if errors.Is(err, services.ErrUnauthenticated) {
			h.tokens.ClearRefreshCookie(w)
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: access})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type AccountRef struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
}

type RegisterResponse struct {
	Message string     `json:"message"`
	Account AccountRef `json:"account"`
}

// SessionAccount is the logged-in account view with its access token.
type SessionAccount struct {
	types.PublicAccount
	AccessToken string `json:"access_token"`
}

type LoginResponse struct {
	Message string         `json:"message"`
	Account SessionAccount `json:"account"`
}

type ForgotPasswordResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

// AccountRouter registers the /account routes on r.
func AccountRouter(r chi.Router, auth *services.AuthService, accounts *services.AccountService, tokens *token.Issuer) {
	authHandler := NewAuthHandler(auth, tokens)
	accountHandler := NewAccountHandler(accounts)
	requireAuth := RequireAuth(tokens)

	r.Post("/register", authHandler.Register)
	r.Post("/partner/register", authHandler.PartnerRegister)
	r.Post("/active", authHandler.Activate)
	r.Post("/otp/resend", authHandler.ResendOTP)
	r.Post("/login", authHandler.Login)
	r.Post("/password/forgot", authHandler.ForgotPassword)
	r.Post("/password/reset", authHandler.ResetPassword)
	r.Post("/logout", authHandler.Logout)
	r.Post("/refresh_token", authHandler.RefreshToken)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/me", accountHandler.Me)
		r.Put("/me/avatar", accountHandler.UploadAvatar)
		r.Patch("/{accountID}/status", accountHandler.ReviewAccount)
	})
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	value := strings.TrimSpace(parts[1])
	if value == "" {
		return "", errors.New("invalid authorization")
	}
	return value, nil
}
