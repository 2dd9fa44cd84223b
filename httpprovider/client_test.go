package httpprovider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/provmux/provider"
)

func newServer(t *testing.T, h http.HandlerFunc) provider.Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return provider.Provider{ID: "p1", Address: srv.URL + "/"}
}

func TestExecute_Envelope(t *testing.T) {
	received := make(chan envelope, 1)
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/complete", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "r1", r.Header.Get("X-Request-ID"))
		var env envelope
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		received <- env
		_, _ = io.WriteString(w, `{"content":"hi there","model":"m-2","metadata":{"tokens":"3"}}`)
	})

	c := New(Config{Headers: map[string]string{"Authorization": "Bearer k"}})
	resp, err := c.Execute(context.Background(), p, provider.Request{
		ID:     "r1",
		Model:  "m",
		Prompt: "hello",
		Params: map[string]any{"temperature": 0.5},
	})
	require.NoError(t, err)

	got := <-received
	assert.Equal(t, "hello", got.Prompt)
	assert.Equal(t, "m", got.Model)
	assert.InDelta(t, 0.5, got.Params["temperature"], 1e-9)
	assert.Equal(t, []byte("hi there"), resp.Content)
	assert.Equal(t, "m-2", resp.Model)
	assert.Equal(t, "p1", resp.ProviderID)
	assert.Equal(t, "3", resp.Metadata["tokens"])
}

func TestExecute_OpaquePayload(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"custom":true}`, string(body))
		_, _ = io.WriteString(w, `plain text`)
	})

	resp, err := New(Config{}).Execute(context.Background(), p, provider.Request{Payload: []byte(`{"custom":true}`)})
	require.NoError(t, err)
	assert.Equal(t, []byte("plain text"), resp.Content)
}

func TestExecute_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			p := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope"}}`)
			})

			_, err := New(Config{}).Execute(context.Background(), p, provider.Request{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, provider.IsTransient(err))
			assert.Equal(t, !tt.transient, provider.IsPermanent(err))

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, "nope", se.Message)
		})
	}
}

func TestExecute_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(Config{}).Execute(context.Background(), provider.Provider{ID: "gone", Address: addr}, provider.Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))
}

func TestExecute_ContextDeadline(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Execute(ctx, p, provider.Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMapStatus_FlatErrorBody(t *testing.T) {
	err := MapStatus("p1", http.StatusBadGateway, []byte(`{"error":"upstream down"}`))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "upstream down", se.Message)
	assert.Contains(t, err.Error(), "status 502")

	err = MapStatus("p1", http.StatusForbidden, []byte(`<html>`))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusText(http.StatusForbidden), se.Message)
}

func TestStream_NDJSON(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stream", r.URL.Path)
		var env envelope
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		assert.True(t, env.Stream)
		_, _ = io.WriteString(w, "{\"content\":\"a\"}\n\n{\"content\":\"b\"}\n{\"done\":true}\n{\"content\":\"ignored\"}\n")
	})

	var chunks []provider.Chunk
	err := New(Config{}).Stream(context.Background(), p, provider.Request{Prompt: "x"}, func(c provider.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []byte("a"), chunks[0].Content)
	assert.Equal(t, []byte("b"), chunks[1].Content)
	assert.True(t, chunks[2].IsFinal)
	assert.Empty(t, chunks[2].Content)
}

func TestStream_ServerSentEvents(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keep-alive\nevent: message\ndata: {\"content\":\"x\"}\n\ndata: raw words\n\ndata: [DONE]\n\ndata: {\"content\":\"late\"}\n")
	})

	var chunks []provider.Chunk
	err := New(Config{}).Stream(context.Background(), p, provider.Request{Prompt: "x"}, func(c provider.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte("x"), chunks[0].Content)
	assert.Equal(t, []byte("raw words"), chunks[1].Content)
}

func TestStream_ErrorLineAndSendFailure(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "{\"content\":\"a\"}\n{\"error\":\"overloaded\"}\n")
	})

	err := New(Config{}).Stream(context.Background(), p, provider.Request{Prompt: "x"}, func(provider.Chunk) error { return nil })
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))
	assert.Contains(t, err.Error(), "overloaded")

	stop := fmt.Errorf("consumer gone")
	err = New(Config{}).Stream(context.Background(), p, provider.Request{Prompt: "x"}, func(provider.Chunk) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestStream_StatusError(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := New(Config{}).Stream(context.Background(), p, provider.Request{Prompt: "x"}, func(provider.Chunk) error { return nil })
	assert.True(t, provider.IsTransient(err))
}

func TestProbe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	c := New(Config{})

	require.NoError(t, c.Probe(context.Background(), p))

	healthy.Store(false)
	err := c.Probe(context.Background(), p)
	assert.ErrorIs(t, err, ErrUnhealthy)
}
