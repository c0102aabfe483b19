package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

func postRPC(t *testing.T, h http.Handler, body string) (int, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func rpcErrorCode(t *testing.T, out map[string]json.RawMessage) int {
	t.Helper()
	var e RPCError
	require.NoError(t, json.Unmarshal(out["error"], &e))
	return e.Code
}

func echoServer(opts ...ServerOption) (*Server, *[]Task) {
	var got []Task
	h := TaskHandlerFunc(func(_ context.Context, task Task) (*domain.Answer, error) {
		got = append(got, task)
		return &domain.Answer{Text: "echo: " + task.Prompt}, nil
	})
	return NewServer(NewAgentCard("vision", "http://localhost:9001"), h, opts...), &got
}

func TestServerHandlesMessageSend(t *testing.T) {
	srv, got := echoServer()
	body := `{"jsonrpc":"2.0","id":"abc","method":"message/send","params":{
		"message":{"messageId":"msg-1","role":"user","contextId":"ctx","taskId":"task-7","parts":[
			{"type":"data","mimeType":"image/png","data":{"base64":"data:image/png;base64,QUJD"}},
			{"type":"file","fileUri":"s3://b/clip.mov","mimeType":"video/quicktime"},
			{"type":"text","text":"first"},
			{"kind":"text","text":"second"}
		]},
		"user_id":"u-1","session_id":"s-1"}}`

	status, out := postRPC(t, srv.Handler(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `"abc"`, string(out["id"]))
	assert.NotContains(t, out, "error")

	require.Len(t, *got, 1)
	task := (*got)[0]
	assert.Equal(t, "first\nsecond", task.Prompt)
	assert.Equal(t, "u-1", task.UserID)
	assert.Equal(t, "s-1", task.SessionID)
	assert.Equal(t, "ctx", task.ContextID)
	assert.Equal(t, "msg-1", task.MessageID)
	require.Len(t, task.Media, 2)
	assert.Equal(t, domain.Media{Kind: domain.MediaImage, Format: "png", Base64: "QUJD"}, task.Media[0])
	assert.Equal(t, domain.Media{Kind: domain.MediaVideo, Format: "mov", URI: "s3://b/clip.mov"}, task.Media[1])

	var res taskResult
	require.NoError(t, json.Unmarshal(out["result"], &res))
	assert.Equal(t, "task", res.Kind)
	assert.Equal(t, "task-7", res.ID)
	assert.Equal(t, "ctx", res.ContextID)
	assert.Equal(t, "completed", res.Status.State)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "echo: first\nsecond", res.Artifacts[0].Parts[0].Text)
}

func TestServerPutsIdentityInContext(t *testing.T) {
	var user, session string
	h := TaskHandlerFunc(func(ctx context.Context, _ Task) (*domain.Answer, error) {
		user = domain.UserIDFromContext(ctx)
		session = domain.SessionIDFromContext(ctx)
		return &domain.Answer{Text: "ok"}, nil
	})
	srv := NewServer(NewAgentCard("tool", ""), h)

	postRPC(t, srv.Handler(), `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"type":"text","text":"hi"}]},"user_id":"u","session_id":"s"}}`)
	assert.Equal(t, "u", user)
	assert.Equal(t, "s", session)
}

func TestServerRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		code   int
		nullID bool
	}{
		{"not json", `{oops`, CodeParseError, true},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"message/send","params":{}}`, CodeInvalidRequest, false},
		{"missing id", `{"jsonrpc":"2.0","method":"message/send","params":{}}`, CodeInvalidRequest, true},
		{"null id", `{"jsonrpc":"2.0","id":null,"method":"message/send","params":{}}`, CodeInvalidRequest, true},
		{"missing method", `{"jsonrpc":"2.0","id":1,"params":{}}`, CodeInvalidRequest, false},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{}}`, CodeMethodNotFound, false},
		{"bad params", `{"jsonrpc":"2.0","id":1,"method":"message/send","params":[1]}`, CodeInvalidParams, false},
		{"unknown part type", `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"type":"audio"}]}}}`, CodeInvalidParams, false},
		{"no text", `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"type":"data","mimeType":"image/png","data":{"base64":"QUJD"}}]}}}`, CodeInvalidParams, false},
		{"bad mime", `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"type":"file","fileUri":"s3://x","mimeType":"application/pdf"},{"type":"text","text":"t"}]}}}`, CodeInvalidParams, false},
		{"file without uri", `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"type":"file","fileUri":" ","mimeType":"image/png"},{"type":"text","text":"t"}]}}}`, CodeInvalidParams, false},
		{"bad base64", `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"type":"data","mimeType":"image/png","data":{"base64":"!!"}},{"type":"text","text":"t"}]}}}`, CodeInvalidParams, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := echoServer()
			status, out := postRPC(t, srv.Handler(), tt.body)
			assert.Equal(t, http.StatusOK, status, "JSON-RPC errors travel in a 200 reply")
			assert.Equal(t, tt.code, rpcErrorCode(t, out))
			if tt.nullID {
				assert.Equal(t, "null", string(out["id"]))
			}
			assert.NotContains(t, out, "result")
			assert.Empty(t, *got)
		})
	}
}

func TestServerBodyLimit(t *testing.T) {
	srv, _ := echoServer(WithMaxRequestBytes(64))
	body := `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"type":"text","text":"` +
		strings.Repeat("x", 200) + `"}]}}}`
	_, out := postRPC(t, srv.Handler(), body)
	assert.Equal(t, CodeInvalidRequest, rpcErrorCode(t, out))
}

func TestServerHandlerErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", domain.NewDomainError("Vision", domain.ErrValidation, "no image attached"), CodeInvalidParams},
		{"other", errors.New("model exploded"), CodeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := TaskHandlerFunc(func(context.Context, Task) (*domain.Answer, error) { return nil, tt.err })
			srv := NewServer(NewAgentCard("vision", ""), h)
			_, out := postRPC(t, srv.Handler(), `{"jsonrpc":"2.0","id":5,"method":"message/send","params":{"message":{"parts":[{"type":"text","text":"hi"}]}}}`)

			var e RPCError
			require.NoError(t, json.Unmarshal(out["error"], &e))
			assert.Equal(t, tt.code, e.Code)
			assert.Contains(t, e.Message, tt.err.Error())
			assert.Equal(t, "5", string(out["id"]))
		})
	}
}

func TestServerErrorMessageIsRedactedAndBounded(t *testing.T) {
	h := TaskHandlerFunc(func(context.Context, Task) (*domain.Answer, error) {
		return nil, fmt.Errorf("upstream rejected %s %s", strings.Repeat("QUJD", 100), strings.Repeat("z ", 600))
	})
	srv := NewServer(NewAgentCard("tool", ""), h)
	_, out := postRPC(t, srv.Handler(), `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"type":"text","text":"hi"}]}}}`)

	var e RPCError
	require.NoError(t, json.Unmarshal(out["error"], &e))
	assert.NotContains(t, e.Message, strings.Repeat("QUJD", 100))
	assert.Contains(t, e.Message, "<base64 omitted: 400 chars>")
	assert.Contains(t, e.Message, "...(truncated")
}

func TestServerUsageMetadata(t *testing.T) {
	h := TaskHandlerFunc(func(context.Context, Task) (*domain.Answer, error) {
		return &domain.Answer{Text: "ok", Usage: &domain.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}, nil
	})
	srv := NewServer(NewAgentCard("data", ""), h)
	_, out := postRPC(t, srv.Handler(), `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"type":"text","text":"hi"}]}}}`)

	ans := ExtractAnswer(out["result"], nil)
	assert.Equal(t, "ok", ans.Text)
	require.NotNil(t, ans.Usage)
	assert.Equal(t, 5, ans.Usage.TotalTokens)
}

func TestServerCardAndHealth(t *testing.T) {
	srv, _ := echoServer()
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, AgentCardPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var card domain.AgentCard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, "vision-agent", card.Name)
	assert.Equal(t, "http://localhost:9001", card.URL)
	assert.Equal(t, CardVersion, card.Version)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClientServerRoundTrip(t *testing.T) {
	var got Task
	h := TaskHandlerFunc(func(_ context.Context, task Task) (*domain.Answer, error) {
		got = task
		return &domain.Answer{Text: fmt.Sprintf("%d media, prompt %q", len(task.Media), task.Prompt)}, nil
	})
	ts := httptest.NewServer(NewServer(NewAgentCard("vision", ""), h).Handler())
	defer ts.Close()

	c := NewClient("orchestrator", mapResolver{"vision": ts.URL})
	ans, err := c.Call(context.Background(), "vision", "what is in the picture?",
		WithMedia(domain.Media{Kind: domain.MediaImage, Format: "jpg", Base64: "data:image/jpeg;base64,QUJD"}),
		WithUser("u-9", "s-9"), WithTaskID("t-1"))
	require.NoError(t, err)
	assert.Equal(t, `1 media, prompt "what is in the picture?"`, ans.Text)

	assert.Equal(t, "u-9", got.UserID)
	assert.Equal(t, "t-1", got.TaskID)
	require.Len(t, got.Media, 1)
	assert.Equal(t, domain.Media{Kind: domain.MediaImage, Format: "jpeg", Base64: "QUJD"}, got.Media[0])

	st := c.Health(context.Background(), "vision")
	assert.Equal(t, domain.StatusHealthy, st.Status)
}

func TestNewAgentCard(t *testing.T) {
	for _, name := range append([]string{domain.AgentOrchestrator}, domain.Specialists...) {
		card := NewAgentCard(name, "http://x")
		assert.Equal(t, name+"-agent", card.Name)
		assert.NotEmpty(t, card.Description, name)
		assert.NotEmpty(t, card.Capabilities, name)
		assert.NotEmpty(t, card.Skills, name)
	}

	card := NewAgentCard("custom", "")
	assert.Equal(t, "custom-agent", card.Name)
	assert.Empty(t, card.Capabilities)

	// Cards do not share backing arrays.
	a := NewAgentCard(domain.AgentTool, "")
	a.Capabilities[0] = "mutated"
	assert.NotEqual(t, "mutated", NewAgentCard(domain.AgentTool, "").Capabilities[0])
}
