// Package api maps the control-plane operations onto a JSON HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/guileen/pgloadgen/control"
	"github.com/guileen/pgloadgen/logger"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Controller is the set of control-plane operations served over HTTP.
type Controller interface {
	ClientName() string
	GetConfig() control.ConfigView
	SetRate(rate int) (control.RateChange, error)
	SetPoolBounds(ctx context.Context, min, max int) (control.PoolChange, error)
	GetStats() control.Stats
	Health() control.Health
}

type RESTHandler struct {
	ctl Controller
}

func NewRESTHandler(ctl Controller) *RESTHandler {
	return &RESTHandler{ctl: ctl}
}

func (h *RESTHandler) RegisterRoutes(r chi.Router) {
	r.Use(h.requestContext)
	r.Use(middleware.SetHeader("Access-Control-Allow-Origin", "*"))
	r.Use(middleware.SetHeader("Access-Control-Allow-Methods", "GET, PUT, OPTIONS"))
	r.Use(middleware.SetHeader("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader))
	r.Use(preflight)

	r.Get("/health", h.Health)
	r.Get("/config", h.GetConfig)
	r.Put("/config/tps", h.SetRate)
	r.Put("/config/pool", h.SetPoolBounds)
	r.Get("/stats", h.GetStats)
}

// NewRouter builds the control-plane router with the standard middleware stack.
func NewRouter(ctl Controller) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)
	NewRESTHandler(ctl).RegisterRoutes(r)
	return r
}

type RateRequest struct {
	TPS json.RawMessage `json:"tps"`
}

type RateResponse struct {
	Message string `json:"message"`
	OldTPS  int    `json:"old_tps"`
	NewTPS  int    `json:"new_tps"`
}

type PoolRequest struct {
	MinSize json.RawMessage `json:"min_size,omitempty"`
	MaxSize json.RawMessage `json:"max_size,omitempty"`
}

type PoolResponse struct {
	Message   string             `json:"message"`
	Changed   bool               `json:"changed"`
	OldConfig control.PoolBounds `json:"old_config"`
	NewConfig control.PoolBounds `json:"new_config"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *RESTHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Health())
}

func (h *RESTHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.GetConfig())
}

func (h *RESTHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.GetStats())
}

func (h *RESTHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.TPS) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: tps is required", control.ErrInvalidInput))
		return
	}
	tps, err := parseInt(req.TPS)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: tps: %v", control.ErrInvalidInput, err))
		return
	}

	change, err := h.ctl.SetRate(tps)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "TPS updated via API", "old_tps", change.Old, "new_tps", change.New)

	writeJSON(w, http.StatusOK, RateResponse{
		Message: fmt.Sprintf("TPS updated from %d to %d", change.Old, change.New),
		OldTPS:  change.Old,
		NewTPS:  change.New,
	})
}

func (h *RESTHandler) SetPoolBounds(w http.ResponseWriter, r *http.Request) {
	var req PoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	// Missing bounds keep their current value.
	current := h.ctl.GetConfig()
	min, max := current.PoolMinSize, current.PoolMaxSize
	var err error
	if len(req.MinSize) > 0 {
		if min, err = parseInt(req.MinSize); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: min_size: %v", control.ErrInvalidInput, err))
			return
		}
	}
	if len(req.MaxSize) > 0 {
		if max, err = parseInt(req.MaxSize); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: max_size: %v", control.ErrInvalidInput, err))
			return
		}
	}

	change, err := h.ctl.SetPoolBounds(r.Context(), min, max)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	message := "Pool configuration unchanged"
	if change.Changed {
		message = fmt.Sprintf("Pool updated from [%d, %d] to [%d, %d]",
			change.Old.MinSize, change.Old.MaxSize, change.New.MinSize, change.New.MaxSize)
		logger.InfoContext(r.Context(), "Pool config updated via API",
			"min_size", change.New.MinSize, "max_size", change.New.MaxSize)
	}
	writeJSON(w, http.StatusOK, PoolResponse{
		Message:   message,
		Changed:   change.Changed,
		OldConfig: change.Old,
		NewConfig: change.New,
	})
}

func (h *RESTHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, control.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logger.ErrorContext(r.Context(), "Control request failed", logger.ErrorField(err))
	writeError(w, http.StatusInternalServerError, err)
}

// parseInt accepts a JSON integer or a string holding one.
func parseInt(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("not an integer: %s", raw)
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, fmt.Errorf("not an integer: %s", n)
	}
	return v, nil
}

// requestContext tags the request context with an ID, reusing the caller's if present,
// and with the client label, so *Context log lines carry both.
func (h *RESTHandler) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := logger.WithContextValue(r.Context(), logger.RequestIDKey, id)
		ctx = logger.WithContextValue(ctx, logger.ClientKey, h.ctl.ClientName())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// preflight answers CORS preflight requests for every route.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("Control request",
			logger.Component("api"),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			logger.Duration("duration", time.Since(start)))
	})
}

// Helper functions
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, err error) {
	writeJSON(w, statusCode, ErrorResponse{Error: err.Error()})
}
