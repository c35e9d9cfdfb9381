package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/sessionfleet/internal/auth"
	"github.com/marmos91/sessionfleet/internal/identity"
	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/sessionstore"
)

var validate = validator.New()

// AuthHandler implements /api/register and /api/login (§6).
type AuthHandler struct {
	accounts *sessionstore.AccountStore
	jwt      *auth.Service
}

func NewAuthHandler(accounts *sessionstore.AccountStore, jwt *auth.Service) *AuthHandler {
	return &AuthHandler{accounts: accounts, jwt: jwt}
}

type registerRequest struct {
	Name            string `json:"name" validate:"required"`
	PhoneNumber     string `json:"phoneNumber" validate:"required"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// Register implements POST /api/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Password != req.ConfirmPassword {
		badRequest(w, identity.ErrPasswordMismatch.Error())
		return
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	userID, err := h.accounts.NextExternalUserID(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, "drawing external user id failed", logger.Err(err))
		internalServerError(w, "registration failed")
		return
	}

	if _, err := h.accounts.Create(ctx, userID, req.Name, req.PhoneNumber, hash); err != nil {
		if errors.Is(err, sessionstore.ErrAccountExists) {
			badRequest(w, "phone number already registered")
			return
		}
		logger.ErrorCtx(ctx, "account creation failed", logger.Err(err))
		internalServerError(w, "registration failed")
		return
	}

	h.issueSession(w, userID, req.PhoneNumber)
}

type loginRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	Password    string `json:"password" validate:"required"`
}

// Login implements POST /api/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	acct, err := h.accounts.GetByPhone(ctx, req.PhoneNumber)
	if err != nil {
		unauthorized(w, identity.ErrInvalidCredentials.Error())
		return
	}
	if !identity.VerifyPassword(req.Password, acct.PasswordHash) {
		unauthorized(w, identity.ErrInvalidCredentials.Error())
		return
	}

	h.issueSession(w, acct.ExternalUserID, acct.PhoneNumber)
}

func (h *AuthHandler) issueSession(w http.ResponseWriter, userID, phone string) {
	token, expiresAt, err := h.jwt.IssueToken(userID, phone)
	if err != nil {
		internalServerError(w, "issuing session failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})

	writeJSONOK(w, map[string]any{"userId": userID, "phoneNumber": phone})
}
