package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/jonwraymond/provmux/config"
	"github.com/jonwraymond/provmux/failover"
	"github.com/jonwraymond/provmux/health"
	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/registry"
	"github.com/jonwraymond/provmux/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// backend is the part of service.Service the API uses.
type backend interface {
	service.Completer
	service.Streamer
	service.BatchCompleter
	service.StatusReporter
	SetAvailable(id string, available bool) error
	ResetCircuit(id string) error
}

type api struct {
	svc     backend
	configs *config.Manager
	logger  observe.Logger
}

// routes mounts the API, health endpoints and, when metrics is non-nil,
// the metrics handler.
func (a *api) routes(checker health.Checker, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/complete", a.complete)
	mux.HandleFunc("POST /v1/stream", a.stream)
	mux.HandleFunc("POST /v1/batch", a.batch)
	mux.HandleFunc("GET /v1/status", a.status)
	mux.HandleFunc("GET /v1/config", a.configStatus)
	mux.HandleFunc("POST /v1/providers/{id}/availability", a.setAvailable)
	mux.HandleFunc("POST /v1/providers/{id}/reset", a.resetCircuit)
	health.RegisterHandlers(mux, checker)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

// completionRequest is the wire form of provider.Request. Payload is raw
// JSON forwarded untouched.
type completionRequest struct {
	ID       string            `json:"id"`
	Model    string            `json:"model"`
	Prompt   string            `json:"prompt"`
	Params   map[string]any    `json:"params"`
	Priority provider.Priority `json:"priority"`
	Payload  json.RawMessage   `json:"payload"`
	Metadata map[string]string `json:"metadata"`

	// Wait blocks a queued request until its result arrives or the HTTP
	// request ends.
	Wait bool `json:"wait"`
}

func (r completionRequest) toRequest() provider.Request {
	return provider.Request{
		ID:       r.ID,
		Model:    r.Model,
		Prompt:   r.Prompt,
		Params:   r.Params,
		Priority: r.Priority,
		Payload:  []byte(r.Payload),
		Metadata: r.Metadata,
	}
}

type completionResponse struct {
	RequestID  string            `json:"request_id"`
	ProviderID string            `json:"provider_id,omitempty"`
	Model      string            `json:"model,omitempty"`
	Content    string            `json:"content"`
	Cached     bool              `json:"cached,omitempty"`
	Fallback   bool              `json:"fallback,omitempty"`
	Queued     bool              `json:"queued,omitempty"`
	LatencyMS  float64           `json:"latency_ms"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func toResponse(resp *provider.Response) completionResponse {
	return completionResponse{
		RequestID:  resp.RequestID,
		ProviderID: resp.ProviderID,
		Model:      resp.Model,
		Content:    string(resp.Content),
		Cached:     resp.Cached,
		Fallback:   resp.Fallback,
		Queued:     resp.Queued,
		LatencyMS:  float64(resp.Latency.Microseconds()) / 1000,
		Metadata:   resp.Metadata,
	}
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type chunkBody struct {
	Index      int    `json:"index"`
	Content    string `json:"content,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	IsFinal    bool   `json:"is_final,omitempty"`
	Error      string `json:"error,omitempty"`
}

type batchRequest struct {
	Requests []completionRequest `json:"requests"`
}

type batchItem struct {
	Response *completionResponse `json:"response,omitempty"`
	Error    string              `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	var se interface{ Retryable() bool }
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotStarted),
		errors.Is(err, service.ErrShutdown),
		errors.Is(err, failover.ErrNoProviders),
		errors.Is(err, failover.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrStreamingUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, registry.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, failover.ErrAllProvidersFailed), errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(service.ErrInvalidRequest, err)
	}
	return nil
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Warn(r.Context(), "request failed",
			observe.F("path", r.URL.Path),
			observe.F("request_id", requestID),
			observe.F("status", status),
			observe.Err(err),
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), RequestID: requestID})
}

// requestContext returns a context the client's disconnect cancels until
// handOff is called. Work queued for a later retry must outlive the HTTP
// exchange, so handOff passes ownership of the context to the tickets.
func requestContext(r *http.Request) (context.Context, func(tickets []provider.Ticket)) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(r.Context(), cancel)
	return ctx, func(tickets []provider.Ticket) {
		if len(tickets) == 0 || !stop() {
			cancel()
			return
		}
		go func() {
			for _, t := range tickets {
				_, _ = t.Wait(ctx)
			}
			cancel()
		}()
	}
}

func (a *api) complete(w http.ResponseWriter, r *http.Request) {
	var body completionRequest
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, "", err)
		return
	}

	ctx, handOff := requestContext(r)
	resp, err := a.svc.Complete(ctx, body.toRequest())
	if err != nil {
		handOff(nil)
		a.fail(w, r, body.ID, err)
		return
	}
	if !resp.Queued || resp.Ticket == nil {
		handOff(nil)
		status := http.StatusOK
		if resp.Queued {
			status = http.StatusAccepted
		}
		writeJSON(w, status, toResponse(resp))
		return
	}
	handOff([]provider.Ticket{resp.Ticket})

	if !body.Wait {
		writeJSON(w, http.StatusAccepted, toResponse(resp))
		return
	}
	final, err := resp.Ticket.Wait(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toResponse(final))
	case r.Context().Err() != nil:
		writeJSON(w, http.StatusAccepted, toResponse(resp))
	default:
		a.fail(w, r, resp.RequestID, err)
	}
}

// stream writes one JSON object per line and flushes after each chunk.
func (a *api) stream(w http.ResponseWriter, r *http.Request) {
	var body completionRequest
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, "", err)
		return
	}

	chunks, err := a.svc.Stream(r.Context(), body.toRequest())
	if err != nil {
		a.fail(w, r, body.ID, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for c := range chunks {
		out := chunkBody{Index: c.Index, Content: string(c.Content), ProviderID: c.ProviderID, IsFinal: c.IsFinal}
		if c.Err != nil {
			out.Error = c.Err.Error()
		}
		if err := enc.Encode(out); err != nil {
			// The client is gone; the stream stops once the request
			// context is cancelled.
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (a *api) batch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, "", err)
		return
	}

	reqs := make([]provider.Request, len(body.Requests))
	for i, cr := range body.Requests {
		reqs[i] = cr.toRequest()
	}
	ctx, handOff := requestContext(r)
	results := a.svc.Batch(ctx, reqs)

	var tickets []provider.Ticket
	out := batchResponse{Results: make([]batchItem, len(results))}
	for i, res := range results {
		if res.Err == nil && res.Response.Queued && res.Response.Ticket != nil {
			tickets = append(tickets, res.Response.Ticket)
		}
		if res.Err != nil {
			out.Results[i].Error = res.Err.Error()
			continue
		}
		cr := toResponse(res.Response)
		out.Results[i].Response = &cr
	}
	handOff(tickets)
	writeJSON(w, http.StatusOK, out)
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Status())
}

func (a *api) configStatus(w http.ResponseWriter, r *http.Request) {
	if a.configs == nil {
		a.fail(w, r, "", errors.New("configuration manager not running"))
		return
	}
	writeJSON(w, http.StatusOK, a.configs.Status())
}

func (a *api) setAvailable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	available, err := strconv.ParseBool(r.URL.Query().Get("available"))
	if err != nil {
		a.fail(w, r, "", errors.Join(service.ErrInvalidRequest, errors.New("available must be a boolean")))
		return
	}
	if err := a.svc.SetAvailable(id, available); err != nil {
		a.fail(w, r, "", err)
		return
	}
	a.logger.Info(r.Context(), "provider availability changed",
		observe.F("provider.id", id),
		observe.F("available", available),
	)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "available": available, "at": time.Now().UTC()})
}

func (a *api) resetCircuit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.svc.ResetCircuit(id); err != nil {
		a.fail(w, r, "", err)
		return
	}
	a.logger.Info(r.Context(), "provider circuit reset", observe.F("provider.id", id))
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "circuit_state": "closed"})
}
