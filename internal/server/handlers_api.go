package server

import (
	stderrors "errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/domain"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/errors"
)

type subscribeRequest struct {
	Criteria domain.Criteria `json:"criteria"`
}

type subscribeResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

func (s *Server) handleSubscribe(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("session"))
	if err != nil {
		return errors.ValidationError("invalid session id")
	}

	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return errors.ValidationError("invalid request body")
	}

	subID, err := s.app.Subscribe(sessionID, req.Criteria)
	if err != nil {
		return errors.FromDomain(err).WithContext("session_id", sessionID.String())
	}

	return c.JSON(http.StatusCreated, subscribeResponse{SubscriptionID: subID.String()})
}

func (s *Server) handleUnsubscribe(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("session"))
	if err != nil {
		return errors.ValidationError("invalid session id")
	}
	subID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errors.ValidationError("invalid subscription id")
	}

	// Idempotent at the edge: unknown subscriptions unsubscribe to the same
	// place, so the not-found sentinel still yields 204.
	if err := s.app.Unsubscribe(sessionID, subID); err != nil && !stderrors.Is(err, domain.ErrSubscriptionNotFound) {
		return errors.FromDomain(err).WithContext("session_id", sessionID.String())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSessionInfo(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("session"))
	if err != nil {
		return errors.ValidationError("invalid session id")
	}

	info, ok := s.registry.Info(sessionID)
	if !ok {
		return errors.FromDomain(domain.ErrSessionNotFound).WithContext("session_id", sessionID.String())
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Health())
}
