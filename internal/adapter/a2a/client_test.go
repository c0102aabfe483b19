package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/resilience"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

type mapResolver map[string]string

func (m mapResolver) Resolve(name string) (string, error) {
	if u, ok := m[name]; ok {
		return u, nil
	}
	return "", domain.NewDomainError("Resolve", domain.ErrUnknownDestination, name)
}

// inbound is the decoded request a fake worker sees.
type inbound struct {
	ID     json.RawMessage
	Method string
	Params SendParams
}

// fakeWorker serves JSON-RPC replies built by reply and counts hits.
type fakeWorker struct {
	*httptest.Server
	hits atomic.Int32
	mu   sync.Mutex
	seen []inbound
}

func newFakeWorker(t *testing.T, reply func(w http.ResponseWriter, r *http.Request, in inbound)) *fakeWorker {
	t.Helper()
	fw := &fakeWorker{}
	fw.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fw.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req Request
		var in inbound
		if err := json.Unmarshal(body, &req); err == nil {
			in.ID = req.ID
			in.Method = req.Method
			_ = json.Unmarshal(req.Params, &in.Params)
		}
		fw.mu.Lock()
		fw.seen = append(fw.seen, in)
		fw.mu.Unlock()
		reply(w, r, in)
	}))
	t.Cleanup(fw.Close)
	return fw
}

func (fw *fakeWorker) requests() []inbound {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return append([]inbound(nil), fw.seen...)
}

func replyResult(result any) func(http.ResponseWriter, *http.Request, inbound) {
	return func(w http.ResponseWriter, _ *http.Request, in inbound) {
		writeJSON(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": in.ID, "result": result})
	}
}

func replyRaw(status int, body string) func(http.ResponseWriter, *http.Request, inbound) {
	return func(w http.ResponseWriter, _ *http.Request, _ inbound) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestClient(url string, opts ...Option) *Client {
	return NewClient("orchestrator", mapResolver{"vision": url, "tool": url}, opts...)
}

func TestCallSuccess(t *testing.T) {
	fw := newFakeWorker(t, replyResult(map[string]any{
		"artifacts": []any{map[string]any{"parts": []any{map[string]any{"kind": "text", "text": "a cat"}}}},
	}))
	c := newTestClient(fw.URL)

	ans, err := c.Call(context.Background(), "vision", "what is this?", WithUser("u-1", "s-1"))
	require.NoError(t, err)
	assert.Equal(t, "a cat", ans.Text)

	reqs := fw.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, MethodMessageSend, reqs[0].Method)
	assert.Equal(t, "u-1", reqs[0].Params.UserID)
	assert.Equal(t, "s-1", reqs[0].Params.SessionID)
	require.Len(t, reqs[0].Params.Message.Parts, 1)
	assert.Equal(t, TextPart{Text: "what is this?"}, reqs[0].Params.Message.Parts[0])
}

func TestCallSendsMediaFirst(t *testing.T) {
	fw := newFakeWorker(t, replyResult("ok"))
	c := newTestClient(fw.URL)

	_, err := c.Call(context.Background(), "vision", "describe",
		WithMedia(domain.Media{Kind: domain.MediaImage, Format: "png", Base64: "QUJD"}),
		WithContextID("ctx-9"))
	require.NoError(t, err)

	msg := fw.requests()[0].Params.Message
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, DataPart{MIMEType: "image/png", Base64: "QUJD"}, msg.Parts[0])
	assert.Equal(t, TextPart{Text: "describe"}, msg.Parts[1])
	assert.Equal(t, "ctx-9", msg.ContextID)
}

func TestCallUsesContextIdentity(t *testing.T) {
	fw := newFakeWorker(t, replyResult("ok"))
	c := newTestClient(fw.URL)

	ctx := domain.ContextWithSessionID(domain.ContextWithUserID(context.Background(), "ctx-user"), "ctx-session")
	_, err := c.Call(ctx, "tool", "2+2")
	require.NoError(t, err)

	p := fw.requests()[0].Params
	assert.Equal(t, "ctx-user", p.UserID)
	assert.Equal(t, "ctx-session", p.SessionID)
}

func TestCallRequestIDsIncrease(t *testing.T) {
	fw := newFakeWorker(t, replyResult("ok"))
	c := newTestClient(fw.URL)

	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), "tool", "ping")
		require.NoError(t, err)
	}
	var ids []int64
	for _, r := range fw.requests() {
		var id int64
		require.NoError(t, json.Unmarshal(r.ID, &id))
		ids = append(ids, id)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestCallUnknownDestinationMakesNoRequest(t *testing.T) {
	fw := newFakeWorker(t, replyResult("ok"))
	var events []CallEvent
	c := newTestClient(fw.URL, WithRetry(fastRetry()),
		WithBreakers(resilience.NewBreakerSet(resilience.BreakerConfig{}, nil, nil)),
		WithObserver(ObserverFunc(func(_ context.Context, ev CallEvent) { events = append(events, ev) })))

	_, err := c.Call(context.Background(), "painter", "draw a cat")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownDestination)
	assert.ErrorIs(t, err, domain.ErrDestinationNotFound)
	assert.Equal(t, int32(0), fw.hits.Load())

	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Equal(t, domain.ErrorCodeOf(err), events[0].Code)
}

func TestCallBlankTaskIsValidationError(t *testing.T) {
	fw := newFakeWorker(t, replyResult("ok"))
	c := newTestClient(fw.URL)

	_, err := c.Call(context.Background(), "vision", "  ")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int32(0), fw.hits.Load())
}

func TestCallHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"not found", http.StatusNotFound, domain.ErrDestinationUnavailable},
		{"server error", http.StatusInternalServerError, domain.ErrDestinationUnavailable},
		{"bad gateway", http.StatusBadGateway, domain.ErrDestinationUnavailable},
		{"too many requests", http.StatusTooManyRequests, domain.ErrDestinationUnavailable},
		{"bad request", http.StatusBadRequest, domain.ErrProtocol},
		{"unauthorized", http.StatusUnauthorized, domain.ErrProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw := newFakeWorker(t, replyRaw(tt.status, `{"detail":"nope"}`))
			c := newTestClient(fw.URL)

			_, err := c.Call(context.Background(), "vision", "hi")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCallRetriesUnavailableUpToMaxAttempts(t *testing.T) {
	fw := newFakeWorker(t, replyRaw(http.StatusServiceUnavailable, "down"))
	var events []CallEvent
	c := newTestClient(fw.URL, WithRetry(fastRetry()),
		WithObserver(ObserverFunc(func(_ context.Context, ev CallEvent) { events = append(events, ev) })))

	_, err := c.Call(context.Background(), "vision", "hi")
	assert.ErrorIs(t, err, domain.ErrDestinationUnavailable)
	assert.Equal(t, int32(3), fw.hits.Load())

	require.Len(t, events, 1, "one event per call, not per attempt")
	assert.Equal(t, 3, events[0].Attempts)
}

func TestCallRetrySucceedsAfterTransientFailures(t *testing.T) {
	var n atomic.Int32
	fw := newFakeWorker(t, func(w http.ResponseWriter, r *http.Request, in inbound) {
		if n.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		replyResult("third time lucky")(w, r, in)
	})
	c := newTestClient(fw.URL, WithRetry(fastRetry()))

	ans, err := c.Call(context.Background(), "vision", "hi")
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", ans.Text)
	assert.Equal(t, int32(3), fw.hits.Load())

	// Every attempt carries a fresh request id.
	ids := map[string]bool{}
	for _, r := range fw.requests() {
		ids[string(r.ID)] = true
	}
	assert.Len(t, ids, 3)
}

func TestCallRemoteErrorIsNotRetried(t *testing.T) {
	fw := newFakeWorker(t, func(w http.ResponseWriter, _ *http.Request, in inbound) {
		writeJSON(w, http.StatusOK, map[string]any{
			"jsonrpc": "2.0", "id": in.ID,
			"error": map[string]any{"code": -32000, "message": "model refused"},
		})
	})
	c := newTestClient(fw.URL, WithRetry(fastRetry()))

	_, err := c.Call(context.Background(), "vision", "hi")
	require.Error(t, err)
	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, -32000, re.Code)
	assert.Equal(t, "model refused", re.Message)
	assert.Equal(t, "vision", re.Destination)
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.Equal(t, int32(1), fw.hits.Load())
}

func TestCallProtocolErrors(t *testing.T) {
	blob := strings.Repeat("QUJD", 100)
	tests := []struct {
		name  string
		reply func(http.ResponseWriter, *http.Request, inbound)
		why   string
	}{
		{"not json", replyRaw(http.StatusOK, "<html>"+blob+"</html>"), "not a JSON object"},
		{"missing id", replyRaw(http.StatusOK, `{"jsonrpc":"2.0","result":"x"}`), "no id"},
		{"null id", replyRaw(http.StatusOK, `{"jsonrpc":"2.0","id":null,"result":"x"}`), "no id"},
		{"wrong id", replyRaw(http.StatusOK, `{"jsonrpc":"2.0","id":999,"result":"x"}`), "does not match"},
		{"neither member", func(w http.ResponseWriter, _ *http.Request, in inbound) {
			writeJSON(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": in.ID, "data": blob})
		}, "neither result nor error"},
		{"both members", func(w http.ResponseWriter, _ *http.Request, in inbound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"jsonrpc": "2.0", "id": in.ID, "result": "x",
				"error": map[string]any{"code": 1, "message": "y"},
			})
		}, "both result and error"},
		{"malformed error", func(w http.ResponseWriter, _ *http.Request, in inbound) {
			writeJSON(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": in.ID, "error": "boom"})
		}, "malformed error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw := newFakeWorker(t, tt.reply)
			c := newTestClient(fw.URL, WithRetry(fastRetry()))

			_, err := c.Call(context.Background(), "vision", "hi")
			require.Error(t, err)
			var pe *domain.ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, pe.Reason, tt.why)
			assert.NotContains(t, pe.Dump, blob, "dump must be scrubbed")
			assert.NotContains(t, err.Error(), blob)
			assert.Equal(t, int32(1), fw.hits.Load(), "protocol errors are not retried")
		})
	}
}

func TestCallNullMembersCountAsAbsent(t *testing.T) {
	fw := newFakeWorker(t, func(w http.ResponseWriter, _ *http.Request, in inbound) {
		writeJSON(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": in.ID, "result": "fine", "error": nil})
	})
	c := newTestClient(fw.URL)

	ans, err := c.Call(context.Background(), "vision", "hi")
	require.NoError(t, err)
	assert.Equal(t, "fine", ans.Text)
}

func TestCallAcceptsStringEchoedID(t *testing.T) {
	fw := newFakeWorker(t, func(w http.ResponseWriter, _ *http.Request, in inbound) {
		writeJSON(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": string(in.ID), "result": "ok"})
	})
	c := newTestClient(fw.URL)

	_, err := c.Call(context.Background(), "vision", "hi")
	assert.NoError(t, err)
}

func slowWorker(t *testing.T, delay time.Duration) *fakeWorker {
	return newFakeWorker(t, func(w http.ResponseWriter, r *http.Request, in inbound) {
		select {
		case <-time.After(delay):
			replyResult("slow answer")(w, r, in)
		case <-r.Context().Done():
		}
	})
}

func TestCallTextTimeout(t *testing.T) {
	fw := slowWorker(t, 200*time.Millisecond)
	c := newTestClient(fw.URL, WithTimeouts(30*time.Millisecond, time.Second))

	_, err := c.Call(context.Background(), "vision", "hi")
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.True(t, domain.IsRetryableError(err))
}

func TestCallMediaGetsLongerTimeout(t *testing.T) {
	fw := slowWorker(t, 100*time.Millisecond)
	c := newTestClient(fw.URL, WithTimeouts(30*time.Millisecond, 2*time.Second))

	ans, err := c.Call(context.Background(), "vision", "hi",
		WithMedia(domain.Media{Kind: domain.MediaImage, URI: "s3://b/cat.jpg"}))
	require.NoError(t, err)
	assert.Equal(t, "slow answer", ans.Text)
}

func TestCallParentCancellation(t *testing.T) {
	fw := slowWorker(t, time.Second)
	c := newTestClient(fw.URL, WithRetry(fastRetry()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, "vision", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
}

func TestCallConnectionRefused(t *testing.T) {
	fw := newFakeWorker(t, replyResult("ok"))
	url := fw.URL
	fw.Close()

	c := newTestClient(url)
	_, err := c.Call(context.Background(), "vision", "hi")
	assert.ErrorIs(t, err, domain.ErrDestinationUnavailable)
}

func TestCallBreakerOpensAndFailsFast(t *testing.T) {
	fw := newFakeWorker(t, replyRaw(http.StatusInternalServerError, "down"))
	var transitions []string
	set := resilience.NewBreakerSet(
		resilience.BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute, SuccessThreshold: 1},
		nil,
		func(dest string, from, to resilience.State) { transitions = append(transitions, dest+":"+to.String()) },
	)
	c := newTestClient(fw.URL, WithBreakers(set), WithRetry(fastRetry()))

	for i := 0; i < 2; i++ {
		_, err := c.Call(context.Background(), "vision", "hi")
		assert.ErrorIs(t, err, domain.ErrDestinationUnavailable)
	}
	hits := fw.hits.Load()
	assert.Equal(t, int32(6), hits, "two calls of three attempts each")

	_, err := c.Call(context.Background(), "vision", "hi")
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, domain.IsRetryableError(err))
	assert.Equal(t, hits, fw.hits.Load(), "open circuit makes no request")
	assert.Equal(t, []string{"vision:OPEN"}, transitions)

	// Breakers are per destination.
	assert.Equal(t, resilience.StateClosed, set.Get("tool").State())
}

func TestCallRemoteErrorsDoNotTripBreaker(t *testing.T) {
	fw := newFakeWorker(t, func(w http.ResponseWriter, _ *http.Request, in inbound) {
		writeJSON(w, http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": in.ID, "error": map[string]any{"code": -32602, "message": "bad"}})
	})
	set := resilience.NewBreakerSet(resilience.BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute}, nil, nil)
	c := newTestClient(fw.URL, WithBreakers(set))

	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), "vision", "hi")
		assert.ErrorIs(t, err, domain.ErrRemote)
	}
	assert.Equal(t, resilience.StateClosed, set.Get("vision").State())
}

func TestCallObserverEvent(t *testing.T) {
	fw := newFakeWorker(t, replyResult("ok"))
	var got CallEvent
	c := newTestClient(fw.URL, WithObserver(ObserverFunc(func(_ context.Context, ev CallEvent) { got = ev })))

	_, err := c.Call(context.Background(), "tool", "2+2", WithUser("u", "s"),
		WithMedia(domain.Media{Kind: domain.MediaImage, URI: "s3://x"}))
	require.NoError(t, err)
	assert.Equal(t, "orchestrator", got.Source)
	assert.Equal(t, "tool", got.Destination)
	assert.Equal(t, "u", got.UserID)
	assert.Equal(t, "s", got.SessionID)
	assert.True(t, got.Success)
	assert.True(t, got.WithMedia)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.Code)
	assert.Greater(t, got.Latency, time.Duration(0))
}

func TestCallMaxResponseBytes(t *testing.T) {
	fw := newFakeWorker(t, replyResult(strings.Repeat("x", 4096)))
	c := newTestClient(fw.URL, WithMaxResponseBytes(512))

	_, err := c.Call(context.Background(), "vision", "hi")
	var pe *domain.ProtocolError
	assert.ErrorAs(t, err, &pe, "a truncated body is not valid JSON")
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != AgentCardPath {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, NewAgentCard("vision", "http://vision"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	st := c.Health(context.Background(), "vision")
	assert.Equal(t, domain.StatusHealthy, st.Status)
	assert.Equal(t, "vision-agent", st.Name)
	assert.Contains(t, st.Capabilities, "image_analysis")
	assert.Empty(t, st.Error)
}

func TestHealthUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	st := c.Health(context.Background(), "vision")
	assert.Equal(t, domain.StatusUnhealthy, st.Status)
	assert.Equal(t, "HTTP 503", st.Error)

	st = c.Health(context.Background(), "painter")
	assert.Equal(t, domain.StatusUnhealthy, st.Status)
	assert.NotEmpty(t, st.Error)
}

func TestHealthInvalidCard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	}))
	defer srv.Close()

	st := newTestClient(srv.URL).Health(context.Background(), "tool")
	assert.Equal(t, domain.StatusUnhealthy, st.Status)
	assert.Contains(t, st.Error, "invalid agent card")
}

func TestCallErrorsAreDistinguishable(t *testing.T) {
	// Sanity check on the error taxonomy the routing layer relies on.
	remote := &domain.RemoteError{Destination: "x", Code: 1, Message: "m"}
	assert.False(t, errors.Is(remote, domain.ErrDestinationUnavailable))
	assert.False(t, domain.IsRetryableError(remote))
}
