package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/scoring"
	"github.com/lvonguyen/threatpulse/internal/service"
)

const defaultDays = 7

type threatParams struct {
	Target  string `validate:"required,target"`
	Days    int    `validate:"window"`
	Refresh bool
}

type protestParams struct {
	Days int `validate:"window"`
}

// =============================================================================
// Health
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "healthy",
		"version": s.version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"success": false,
				"status":  "not_ready",
				"error":   err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "ready",
	})
}

// =============================================================================
// Queries
// =============================================================================

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"targets": s.backend.Targets(),
		"windows": scoring.Windows,
	})
}

func (s *Server) handleThreat(w http.ResponseWriter, r *http.Request) {
	p := threatParams{Target: strings.ToLower(chi.URLParam(r, "target"))}
	var err error
	if p.Days, err = intParam(r, "days", defaultDays); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Refresh, err = boolParam(r, "refresh"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(p); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	resp, err := s.backend.Threat(r.Context(), service.ThreatRequest{
		Target:     p.Target,
		WindowDays: p.Days,
		Refresh:    p.Refresh,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, statusCode(resp.Success, resp.Status), resp)
}

func (s *Server) handleMatrix(w http.ResponseWriter, r *http.Request) {
	p := threatParams{Target: strings.ToLower(chi.URLParam(r, "target")), Days: service.MatrixWindowDays}
	if err := s.validate.Struct(p); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	resp, err := s.backend.Matrix(r.Context(), p.Target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, statusCode(resp.Success, resp.Status), resp)
}

func (s *Server) handleProtests(w http.ResponseWriter, r *http.Request) {
	var p protestParams
	var err error
	if p.Days, err = intParam(r, "days", defaultDays); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(p); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	resp, err := s.backend.Protests(r.Context(), p.Days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, statusCode(resp.Success, resp.Status), resp)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backend.Quota(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("X-Quota-Limit", strconv.Itoa(resp.Limit))
	w.Header().Set("X-Quota-Remaining", strconv.Itoa(resp.RequestsRemaining))
	w.Header().Set("X-Quota-Reset", strconv.FormatInt(resp.ResetAt.Unix(), 10))
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

// statusCode maps a response outcome onto an HTTP status. Stale serves and
// empty matrices are successful reads.
func statusCode(success bool, status string) int {
	if success {
		return http.StatusOK
	}
	switch status {
	case service.StatusQuotaExceeded:
		return http.StatusTooManyRequests
	case service.StatusSourcesUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownTarget), errors.Is(err, service.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
	default:
		s.logger.Error("Request handling failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", name, raw)
	}
	return v, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %q is not a boolean", name, raw)
	}
	return v, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "window":
			msgs = append(msgs, fmt.Sprintf("days: %v is not one of %v", fe.Value(), scoring.Windows))
		case "target", "required":
			msgs = append(msgs, fmt.Sprintf("target: unknown target %q", fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
