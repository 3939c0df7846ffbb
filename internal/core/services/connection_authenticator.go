package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"

	"go.uber.org/zap"
)

const (
	// AuthorizationHeader is the CONNECT frame header carrying the bearer credential.
	AuthorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

var ErrHandshakeCompleted = errors.New("handshake already completed")

// Handshake tracks the authentication state of one connection attempt.
type Handshake struct {
	sessionID domain.SessionID
	status    domain.AuthStatus
	identity  *domain.Identity
}

func NewHandshake(sessionID domain.SessionID) *Handshake {
	return &Handshake{sessionID: sessionID, status: domain.AuthAwaitingCredential}
}

func (h *Handshake) SessionID() domain.SessionID { return h.sessionID }
func (h *Handshake) Status() domain.AuthStatus   { return h.status }

// Identity is nil unless the handshake ended Authenticated.
func (h *Handshake) Identity() *domain.Identity { return h.identity }

func (h *Handshake) authenticate(identity *domain.Identity) {
	h.status = domain.AuthAuthenticated
	h.identity = identity
}

func (h *Handshake) degrade() {
	h.status = domain.AuthUnauthenticated
	h.identity = nil
}

type ConnectionAuthenticator struct {
	tokens          ports.TokenService
	resolver        ports.IdentityResolver
	rejectAnonymous bool
	metrics         ports.RealtimeMetrics
	logger          *zap.SugaredLogger
}

func NewConnectionAuthenticator(
	tokens ports.TokenService,
	resolver ports.IdentityResolver,
	rejectAnonymous bool,
	metrics ports.RealtimeMetrics,
	logger *zap.SugaredLogger,
) *ConnectionAuthenticator {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ConnectionAuthenticator{
		tokens:          tokens,
		resolver:        resolver,
		rejectAnonymous: rejectAnonymous,
		metrics:         metrics,
		logger:          logger,
	}
}

// RejectAnonymous reports whether connections that end Unauthenticated must be closed.
func (a *ConnectionAuthenticator) RejectAnonymous() bool {
	return a.rejectAnonymous
}

// Authenticate runs the handshake for a CONNECT frame. It never fails the
// connection: a missing or bad credential leaves the handshake Unauthenticated.
// The returned context carries the identity when authentication succeeded.
func (a *ConnectionAuthenticator) Authenticate(ctx context.Context, h *Handshake, credential string) (context.Context, error) {
	if h.status != domain.AuthAwaitingCredential {
		return ctx, ErrHandshakeCompleted
	}

	token, present := ExtractBearer(credential)
	if !present {
		h.degrade()
		a.metrics.AuthOutcome("anonymous")
		a.logger.Infow("connection opened without credential",
			"session_id", h.sessionID,
		)
		return ctx, nil
	}

	identity, err := a.identify(ctx, token)
	if err != nil {
		h.degrade()
		a.metrics.AuthOutcome("failed")
		a.logger.Warnw("connection authentication failed",
			"session_id", h.sessionID,
			"reason", failureReason(err),
			"error", err,
		)
		return ctx, nil
	}

	h.authenticate(identity)
	a.metrics.AuthOutcome("authenticated")
	a.logger.Infow("connection authenticated",
		"session_id", h.sessionID,
		"subject", identity.Subject,
		"account_type", identity.AccountType,
	)
	return domain.ContextWithIdentity(ctx, identity), nil
}

func (a *ConnectionAuthenticator) identify(ctx context.Context, token string) (*domain.Identity, error) {
	subject, err := a.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	identity, err := a.resolver.Resolve(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subject: %w", err)
	}
	return identity, nil
}

// ExtractBearer strips an optional, case-sensitive "Bearer " prefix.
func ExtractBearer(credential string) (string, bool) {
	credential = strings.TrimLeft(credential, " \t")
	credential = strings.TrimPrefix(credential, bearerPrefix)
	credential = strings.TrimSpace(credential)
	return credential, credential != ""
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, domain.ErrTokenBadSignature):
		return "token_bad_signature"
	case errors.Is(err, domain.ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, domain.ErrIdentityNotFound):
		return "identity_not_found"
	}
	return "resolver_error"
}
