package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// StateResponse is returned by GET /v1/state.
type StateResponse struct {
	Token       string                       `json:"token,omitempty"`
	Permission  notification.PermissionState `json:"permission_state"`
	IsLoading   bool                         `json:"is_loading"`
	Error       string                       `json:"error,omitempty"`
	Ready       bool                         `json:"ready"`
	TokenSynced bool                         `json:"token_synced"`
	Channels    []notification.Channel       `json:"channels"`
	Stats       notification.DispatcherStats `json:"stats"`
}

// PermissionResponse reports a permission state.
type PermissionResponse struct {
	Permission notification.PermissionState `json:"permission_state"`
}

// PresentResponse is returned by POST /v1/notifications.
type PresentResponse struct {
	ID    string `json:"id,omitempty"`
	Shown bool   `json:"shown"`
}

// ScheduleRequest is the body of POST /v1/schedules. A missing or past
// fire_at presents immediately.
type ScheduleRequest struct {
	Payload notification.Payload `json:"payload"`
	FireAt  time.Time            `json:"fire_at"`
}

// ScheduleResponse is returned by POST /v1/schedules.
type ScheduleResponse struct {
	ID        string `json:"id,omitempty"`
	Scheduled bool   `json:"scheduled"`
}

// TokenResponse is returned by POST /v1/token/refresh.
type TokenResponse struct {
	Token string `json:"token"`
}

// statusFor maps an error category onto an HTTP status.
func statusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch {
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryLimit):
		return http.StatusTooManyRequests
	case errors.IsCategory(err, errors.CategoryState):
		return http.StatusServiceUnavailable
	case errors.IsCategory(err, errors.CategoryTokenAcquisition),
		errors.IsCategory(err, errors.CategoryTokenSync),
		errors.IsCategory(err, errors.CategoryNetwork),
		errors.IsCategory(err, errors.CategoryHTTP):
		return http.StatusBadGateway
	case errors.IsCategory(err, errors.CategoryTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleHTTPError renders every handler error as an ErrorResponse.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusFor(err)
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if code >= http.StatusInternalServerError {
		s.log.Error("API error",
			logger.String("request_id", requestID),
			logger.String("path", c.Request().URL.Path),
			logger.Int("code", code),
			logger.Error(err))
	}

	resp := ErrorResponse{
		Error:     logger.RedactSensitiveData(err.Error()),
		Message:   message,
		Code:      code,
		RequestID: requestID,
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		s.log.Warn("failed to write error response", logger.Error(err))
	}
}

func badRequest(message string, err error) error {
	he := echo.NewHTTPError(http.StatusBadRequest, message)
	if err != nil {
		he = he.WithInternal(err)
	}
	return he
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	status := "healthy"
	if !s.lifecycle.Ready() {
		status = "starting"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"build_date":     s.buildDate,
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

func (s *Server) getState(c echo.Context) error {
	st := s.lifecycle.State()
	resp := StateResponse{
		Token:       st.Token,
		Permission:  st.Permission,
		IsLoading:   st.IsLoading,
		Ready:       s.lifecycle.Ready(),
		TokenSynced: s.lifecycle.Token().Synced(),
		Channels:    s.lifecycle.Channels(),
		Stats:       s.lifecycle.Stats(),
	}
	if st.Err != nil {
		resp.Error = logger.RedactSensitiveData(st.Err.Error())
	}
	if resp.Channels == nil {
		resp.Channels = []notification.Channel{}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) requestPermission(c echo.Context) error {
	state := s.lifecycle.RequestPermission(c.Request().Context())
	return c.JSON(http.StatusOK, PermissionResponse{Permission: state})
}

func (s *Server) promptSettings(c echo.Context) error {
	s.lifecycle.PromptSettings(c.Request().Context())
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) presentNow(c echo.Context) error {
	var payload notification.Payload
	if err := c.Bind(&payload); err != nil {
		return badRequest("malformed notification payload", err)
	}
	if err := payload.Validate(); err != nil {
		return badRequest(err.Error(), err)
	}

	id := s.lifecycle.PresentNow(c.Request().Context(), payload)
	if id == "" {
		// permission, rate limit or presentation failure, already logged
		return c.JSON(http.StatusAccepted, PresentResponse{Shown: false})
	}
	return c.JSON(http.StatusCreated, PresentResponse{ID: id, Shown: true})
}

func (s *Server) listSchedules(c echo.Context) error {
	pending := s.lifecycle.PendingTriggers()
	if pending == nil {
		pending = []notification.ScheduledTrigger{}
	}
	return c.JSON(http.StatusOK, pending)
}

func (s *Server) schedule(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed schedule request", err)
	}
	if err := req.Payload.Validate(); err != nil {
		return badRequest(err.Error(), err)
	}

	id, scheduled := s.lifecycle.ScheduleAt(c.Request().Context(), req.Payload, req.FireAt)
	if id == "" {
		return c.JSON(http.StatusAccepted, ScheduleResponse{Scheduled: false})
	}
	if !scheduled {
		// the identical trigger already fired
		return c.JSON(http.StatusOK, ScheduleResponse{ID: id})
	}
	return c.JSON(http.StatusCreated, ScheduleResponse{ID: id, Scheduled: true})
}

func (s *Server) cancelAll(c echo.Context) error {
	s.lifecycle.CancelAll(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) refreshToken(c echo.Context) error {
	token, err := s.lifecycle.RefreshToken(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (s *Server) interact(c echo.Context) error {
	if s.interactor == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "interactions are not supported by this presenter")
	}
	var in notification.Interaction
	if err := c.Bind(&in); err != nil {
		return badRequest("malformed interaction", err)
	}
	if in.NotificationID == "" {
		return badRequest("notification_id is required", nil)
	}
	if err := s.interactor.Interact(in); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}
