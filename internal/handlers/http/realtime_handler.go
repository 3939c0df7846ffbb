package http

import (
	"net/http"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/infrastructure/middleware"
	"arenalink/pkg/errors"
	"arenalink/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RealtimeView is the read side of the session registry.
type RealtimeView interface {
	Stats() domain.RegistryStats
	Presence(subject string) domain.Presence
	Snapshot(id domain.SessionID) (domain.SessionInfo, bool)
}

type RealtimeHandler struct {
	view RealtimeView
}

func NewRealtimeHandler(view RealtimeView) *RealtimeHandler {
	return &RealtimeHandler{view: view}
}

// SetupRoutes mounts the stats and session routes behind auth and presence
// behind optionalAuth; anonymous callers only learn whether a subject is online.
func (h *RealtimeHandler) SetupRoutes(router *gin.Engine, auth, optionalAuth gin.HandlerFunc) {
	api := router.Group("/api/v1/realtime")
	{
		api.GET("/stats", auth, middleware.RequireAuthority(domain.RoleSystem), h.Stats)
		api.GET("/sessions/:id", auth, middleware.RequireAuthority(domain.RoleSystem), h.Session)
		api.GET("/presence/:subject", optionalAuth, h.Presence)
	}
}

type SessionResponse struct {
	ID            domain.SessionID   `json:"id"`
	Status        string             `json:"status"`
	Subject       string             `json:"subject,omitempty"`
	AccountType   domain.AccountType `json:"account_type,omitempty"`
	Subscriptions map[string]string  `json:"subscriptions"`
	ConnectedAt   time.Time          `json:"connected_at"`
}

func (h *RealtimeHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.view.Stats())
}

func (h *RealtimeHandler) Presence(c *gin.Context) {
	subject := domain.NormalizeSubject(c.Param("subject"))
	if err := validation.ValidateSubject(subject); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	presence := h.view.Presence(subject)
	if _, ok := middleware.IdentityFrom(c); !ok {
		c.JSON(http.StatusOK, gin.H{"subject": presence.Subject, "online": presence.Online})
		return
	}
	c.JSON(http.StatusOK, presence)
}

func (h *RealtimeHandler) Session(c *gin.Context) {
	info, ok := h.view.Snapshot(domain.SessionID(c.Param("id")))
	if !ok {
		_ = c.Error(errors.FromDomain(domain.ErrSessionNotFound))
		return
	}

	resp := SessionResponse{
		ID:            info.ID,
		Status:        info.Status.String(),
		Subscriptions: info.Subscriptions,
		ConnectedAt:   info.ConnectedAt,
	}
	if info.Identity != nil {
		resp.Subject = info.Identity.Subject
		resp.AccountType = info.Identity.AccountType
	}
	c.JSON(http.StatusOK, resp)
}
