package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/event"
	"LedgerStats/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// maxInjectBody bounds a manual injection payload.
const maxInjectBody = 1 << 20

type handlerFunc func(r *http.Request, params map[string]string) (any, error)

type route struct {
	method   string
	pattern  string
	endpoint string
	handle   handlerFunc
}

func registerRoutes(mux *runtime.ServeMux, deps *ServerDeps) error {
	q := deps.Query
	routes := []route{
		{"GET", "/v1/status", "status", func(*http.Request, map[string]string) (any, error) {
			return q.Status(), nil
		}},
		{"GET", "/v1/accounts/{address}", "account", func(_ *http.Request, p map[string]string) (any, error) {
			return q.Account(p["address"])
		}},
		{"GET", "/v1/tokens/{address}", "token", func(_ *http.Request, p map[string]string) (any, error) {
			return q.Token(p["address"])
		}},
		{"GET", "/v1/tokens/{address}/distribution", "distribution", func(_ *http.Request, p map[string]string) (any, error) {
			return q.Distribution(p["address"])
		}},
		{"GET", "/v1/tokens/{address}/bond", "bond", func(_ *http.Request, p map[string]string) (any, error) {
			return q.Bond(p["address"])
		}},
		{"GET", "/v1/tokens/{address}/yield", "yield", func(_ *http.Request, p map[string]string) (any, error) {
			return q.Yield(p["address"])
		}},
		{"GET", "/v1/tokens/{address}/collateral", "collateral", func(_ *http.Request, p map[string]string) (any, error) {
			return q.Collateral(p["address"])
		}},
		{"GET", "/v1/tokens/{address}/compliance", "compliance", func(_ *http.Request, p map[string]string) (any, error) {
			return q.Compliance(p["address"])
		}},
		{"GET", "/v1/systems/{id}", "system", func(_ *http.Request, p map[string]string) (any, error) {
			return q.System(p["id"])
		}},
		{"GET", "/v1/systems/{id}/token-types", "token_types", func(_ *http.Request, p map[string]string) (any, error) {
			return q.TokenTypes(p["id"])
		}},
		{"GET", "/v1/identities/{address}/claims", "claims", func(_ *http.Request, p map[string]string) (any, error) {
			return q.Claims(p["address"])
		}},
		{"GET", "/v1/registries/{address}/topic-schemes", "topic_schemes", func(_ *http.Request, p map[string]string) (any, error) {
			return q.TopicSchemes(p["address"])
		}},
		{"GET", "/v1/registries/{address}/trusted-issuers", "trusted_issuers", func(_ *http.Request, p map[string]string) (any, error) {
			return q.TrustedIssuers(p["address"])
		}},
		{"GET", "/v1/history/{kind}/{id}", "history", func(r *http.Request, p map[string]string) (any, error) {
			req, err := historyRequest(r, p)
			if err != nil {
				return nil, err
			}
			return q.History(req)
		}},
	}
	if deps.Injector != nil {
		routes = append(routes, route{"POST", "/v1/events/{type}", "inject", injectHandler(deps)})
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, instrument(deps, rt)); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

// instrument writes the handler's result as JSON and records query metrics.
func instrument(deps *ServerDeps, rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		resp, err := rt.handle(r, params)
		code := http.StatusOK
		if err != nil {
			code = statusFor(err)
			if code >= http.StatusInternalServerError {
				deps.Logger.Error().Err(err).Str("endpoint", rt.endpoint).Msg("request failed")
			}
			writeJSON(w, code, map[string]string{"error": err.Error()})
		} else {
			writeJSON(w, code, resp)
		}
		if deps.Metrics != nil {
			deps.Metrics.QueryRequests.WithLabelValues(rt.endpoint, strconv.Itoa(code)).Inc()
			deps.Metrics.QueryDuration.WithLabelValues(rt.endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// statusFor maps service and engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, query.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrDuplicate), errors.Is(err, core.ErrSequenceGap):
		return http.StatusConflict
	case core.Rejected(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func historyRequest(r *http.Request, p map[string]string) (query.HistoryRequest, error) {
	v := r.URL.Query()
	req := query.HistoryRequest{
		Kind:     p["kind"],
		EntityID: p["id"],
		Interval: v.Get("interval"),
		Order:    v.Get("order"),
	}
	var err error
	if req.From, err = parseTime(v.Get("from")); err != nil {
		return req, fmt.Errorf("%w: from: %v", query.ErrInvalidArgument, err)
	}
	if req.To, err = parseTime(v.Get("to")); err != nil {
		return req, fmt.Errorf("%w: to: %v", query.ErrInvalidArgument, err)
	}
	if s := v.Get("limit"); s != "" {
		if req.Limit, err = strconv.Atoi(s); err != nil {
			return req, fmt.Errorf("%w: limit: %v", query.ErrInvalidArgument, err)
		}
	}
	return req, nil
}

// parseTime accepts RFC 3339 or unix seconds. Empty is the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

// InjectResponse reports where an injected event landed in the chain.
type InjectResponse struct {
	Sequence  int64  `json:"sequence"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	StateHash string `json:"state_hash"`
	Rows      int    `json:"rows"`
}

func injectHandler(deps *ServerDeps) handlerFunc {
	timeout := deps.InjectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(r *http.Request, p map[string]string) (any, error) {
		et, err := event.ParseEventType(p["type"])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", query.ErrInvalidArgument, err)
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxInjectBody))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", query.ErrInvalidArgument, err)
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		cs, err := deps.Injector.Inject(ctx, et, body)
		if err != nil {
			return nil, err
		}
		return &InjectResponse{
			Sequence:  cs.Sequence,
			EventID:   cs.EventID,
			EventType: cs.EventType.String(),
			StateHash: hex.EncodeToString(cs.StateHash[:]),
			Rows:      len(cs.Rows),
		}, nil
	}
}
