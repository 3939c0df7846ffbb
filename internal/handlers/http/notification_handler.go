package http

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
	"arenalink/internal/core/services"
	"arenalink/internal/infrastructure/middleware"
	"arenalink/pkg/errors"
	"arenalink/pkg/idgen"
	"arenalink/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NotificationHandler is the HTTP ingress for domain events raised by other
// backend services or by organizations.
type NotificationHandler struct {
	notifier ports.Notifier
	logger   *zap.SugaredLogger
}

func NewNotificationHandler(notifier ports.Notifier, logger *zap.SugaredLogger) *NotificationHandler {
	return &NotificationHandler{notifier: notifier, logger: logger}
}

func (h *NotificationHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/v1/notifications", auth,
		middleware.RequireAuthority(domain.RoleSystem, domain.AccountOrganization.Authority()))
	{
		api.POST("", h.Create)
	}
}

type NotificationRequest struct {
	RecipientSubject string                  `json:"recipient_subject" binding:"required"`
	RecipientType    domain.AccountType      `json:"recipient_type"`
	SenderSubject    string                  `json:"sender_subject"`
	SenderType       domain.AccountType      `json:"sender_type"`
	Kind             domain.NotificationKind `json:"kind" binding:"required"`
	Message          string                  `json:"message"`
	Metadata         json.RawMessage         `json:"metadata"`
	ActionURL        string                  `json:"action_url"`
}

func (h *NotificationHandler) Create(c *gin.Context) {
	caller, ok := middleware.IdentityFrom(c)
	if !ok {
		_ = c.Error(errors.NewUnauthorizedError("unauthenticated"))
		return
	}

	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.RecipientSubject = domain.NormalizeSubject(req.RecipientSubject)
	if err := validation.ValidateSubject(req.RecipientSubject); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateNotificationMessage(req.Message); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateActionURL(req.ActionURL); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	// Only system callers may speak for someone else.
	if !caller.HasAuthority(domain.RoleSystem) || req.SenderSubject == "" {
		req.SenderSubject = caller.Subject
		req.SenderType = caller.AccountType
	}

	event := domain.NotificationEvent{
		ID:               idgen.ULID(),
		RecipientSubject: req.RecipientSubject,
		RecipientType:    req.RecipientType,
		SenderSubject:    req.SenderSubject,
		SenderType:       req.SenderType,
		Kind:             req.Kind,
		Message:          req.Message,
		Metadata:         req.Metadata,
		ActionURL:        req.ActionURL,
	}

	if err := h.notifier.Notify(c.Request.Context(), event); err != nil {
		if stderrors.Is(err, services.ErrFanoutStopped) {
			_ = c.Error(errors.NewServiceUnavailableError("notifications are shutting down"))
			return
		}
		_ = c.Error(errors.FromDomain(err))
		return
	}

	h.logger.Debugw("notification accepted",
		"id", event.ID,
		"kind", event.Kind,
		"recipient", event.RecipientSubject,
		"sender", event.SenderSubject,
	)

	c.JSON(http.StatusAccepted, gin.H{
		"id":        event.ID,
		"recipient": event.RecipientSubject,
		"kind":      event.Kind,
	})
}
