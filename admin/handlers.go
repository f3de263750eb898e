package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/brokersec/component"
	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/logger"
)

// ListenerStatus is one entry of GET /listeners.
type ListenerStatus struct {
	Name              string   `json:"name"`
	Address           string   `json:"address,omitempty"`
	Mechanisms        []string `json:"mechanisms"`
	TLS               bool     `json:"tls"`
	Fingerprint       string   `json:"fingerprint,omitempty"`
	Generation        uint64   `json:"generation,omitempty"`
	Provider          string   `json:"provider,omitempty"`
	ActiveConnections int64    `json:"active_connections"`
}

// InvalidateResult is the body of POST /contexts/invalidate.
type InvalidateResult struct {
	Invalidated int               `json:"invalidated"`
	Refreshed   []string          `json:"refreshed"`
	Failed      map[string]string `json:"failed,omitempty"`
}

// DataResponse is the success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/listeners", s.handleListeners)
	s.engine.POST("/contexts/invalidate", s.handleInvalidate)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := component.StatusHealthy
	var components []component.Health

	if s.health != nil {
		components = s.health(c.Request.Context())
		for _, ch := range components {
			if ch.Status == component.StatusUnhealthy {
				status = component.StatusUnhealthy
				break
			}
			if ch.Status == component.StatusDegraded {
				status = component.StatusDegraded
			}
		}
	}

	httpStatus := http.StatusOK
	if status == component.StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":     status,
		"service":    s.service,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"components": components,
	})
}

func (s *Server) handleListeners(c *gin.Context) {
	out := make([]ListenerStatus, 0, len(s.listeners))
	for _, l := range s.listeners {
		st := ListenerStatus{
			Name:              l.Name(),
			Mechanisms:        l.Advertised(),
			ActiveConnections: l.ActiveConnections(),
		}
		if st.Mechanisms == nil {
			st.Mechanisms = []string{}
		}
		if a := l.Addr(); a != nil {
			st.Address = a.String()
		}
		if rc := l.Context(); rc != nil {
			st.TLS = true
			st.Fingerprint = rc.Fingerprint.Short()
			st.Generation = rc.Generation
			st.Provider = rc.Provider
		}
		out = append(out, st)
	}
	c.JSON(http.StatusOK, DataResponse{Data: out})
}

// handleInvalidate drops every cached transport-security context and has
// each listener rebuild its own. Connections already established keep the
// context they were accepted with.
func (s *Server) handleInvalidate(c *gin.Context) {
	if s.resolver == nil {
		respondWithError(c, errors.New(errors.ErrCodeInvalidInput, "No transport-security resolver is configured."))
		return
	}
	ctx := c.Request.Context()
	res := InvalidateResult{
		Invalidated: s.resolver.InvalidateAll(ctx),
		Refreshed:   []string{},
	}
	for _, l := range s.listeners {
		if l.Context() == nil {
			continue
		}
		if err := l.RefreshContext(context.WithoutCancel(ctx)); err != nil {
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[l.Name()] = err.Error()
			continue
		}
		res.Refreshed = append(res.Refreshed, l.Name())
	}

	s.log.Info("transport-security contexts invalidated", logger.Fields(
		"invalidated", res.Invalidated,
		"refreshed", res.Refreshed,
		"failed", len(res.Failed),
	))
	c.JSON(http.StatusOK, DataResponse{Data: res})
}

// respondWithError sends the structured body of an AppError, or a generic
// 500 for anything else.
func respondWithError(c *gin.Context, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.Internal(err)
	}
	c.JSON(statusFor(appErr.Code), appErr.ToResponse())
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeNoProviderFound, errors.ErrCodeContextBuildFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
