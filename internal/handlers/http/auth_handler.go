package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
	"arenalink/internal/infrastructure/middleware"
	"arenalink/pkg/errors"
	"arenalink/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AccountResolver resolves identities and exposes the stored account behind a
// subject for credential checks.
type AccountResolver interface {
	ports.IdentityResolver
	Account(ctx context.Context, subject string) (*domain.Account, error)
}

// dummyHash keeps the response time of unknown subjects close to that of a
// wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("arenalink-dummy-password"), bcrypt.DefaultCost)

type AuthHandler struct {
	tokens   ports.TokenService
	accounts AccountResolver
	ttl      time.Duration
	logger   *zap.SugaredLogger
}

func NewAuthHandler(tokens ports.TokenService, accounts AccountResolver, ttl time.Duration, logger *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{
		tokens:   tokens,
		accounts: accounts,
		ttl:      ttl,
		logger:   logger,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
		api.GET("/me", auth, h.Me)
	}
}

type TokenRequest struct {
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required,max=128"`
}

type TokenResponse struct {
	AccessToken string             `json:"access_token"`
	TokenType   string             `json:"token_type"`
	ExpiresAt   time.Time          `json:"expires_at"`
	ExpiresIn   int                `json:"expires_in"`
	Subject     string             `json:"subject"`
	AccountType domain.AccountType `json:"account_type"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Email = domain.NormalizeSubject(req.Email)
	if err := validation.ValidateEmail(req.Email); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	ctx := c.Request.Context()
	account, err := h.accounts.Account(ctx, req.Email)
	switch {
	case stderrors.Is(err, domain.ErrAccountNotFound):
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		h.rejectCredentials(c, req.Email, "unknown subject")
		return
	case err != nil:
		_ = c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "account store unavailable", http.StatusServiceUnavailable))
		return
	}

	if account.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		h.rejectCredentials(c, req.Email, "account has no password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		h.rejectCredentials(c, req.Email, "password mismatch")
		return
	}

	identity, err := h.accounts.Resolve(ctx, account.Subject)
	if err != nil {
		_ = c.Error(errors.FromDomain(err))
		return
	}

	token, expiresAt, err := h.tokens.Issue(identity, h.ttl)
	if err != nil {
		_ = c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError))
		return
	}

	h.logger.Infow("token issued",
		"subject", identity.Subject,
		"account_type", identity.AccountType,
		"expires_at", expiresAt,
	)

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		ExpiresIn:   int(h.ttl / time.Second),
		Subject:     identity.Subject,
		AccountType: identity.AccountType,
	})
}

func (h *AuthHandler) rejectCredentials(c *gin.Context, subject, reason string) {
	h.logger.Infow("token request rejected", "subject", subject, "reason", reason)
	_ = c.Error(errors.NewUnauthorizedError("invalid credentials"))
}

// Me returns the identity bound to the request's bearer token.
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		_ = c.Error(errors.NewUnauthorizedError("unauthenticated"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject":      identity.Subject,
		"account_id":   identity.AccountID,
		"account_type": identity.AccountType,
		"display_name": identity.DisplayName,
		"authorities":  identity.Authorities(),
	})
}
