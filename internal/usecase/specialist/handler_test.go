package specialist

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/a2a"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/tool"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	requests  []domain.ChatRequest
	err       error
}

func (m *scriptedLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.requests) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	resp := m.responses[idx]
	return &resp, nil
}

func (m *scriptedLLM) Name() string { return "scripted" }

type recordingStore struct {
	mu     sync.Mutex
	stored []domain.Interaction
}

func (s *recordingStore) RecentMessages(context.Context, string, string, int) ([]domain.MemoryRecord, error) {
	return nil, nil
}
func (s *recordingStore) SemanticSearch(context.Context, string, string, int) ([]domain.MemoryRecord, error) {
	return nil, nil
}
func (s *recordingStore) StoreInteraction(_ context.Context, in domain.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, in)
	return nil
}
func (s *recordingStore) Name() string { return "recording" }

func answer(text string) domain.ChatResponse {
	return domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: text},
		Usage:   domain.Usage{TotalTokens: 7},
	}
}

func TestNew_RejectsUnknownSpecialist(t *testing.T) {
	_, err := New("orchestrator", Deps{LLM: &scriptedLLM{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = New(domain.AgentData, Deps{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestHandleTask_DocumentUsesPromptAndContext(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.ChatResponse{answer("summary")}}
	store := &recordingStore{}
	h, err := New(domain.AgentDocument, Deps{LLM: llm, Memory: store, Model: "doc-model"})
	require.NoError(t, err)

	ans, err := h.HandleTask(context.Background(), a2a.Task{
		Prompt:    "Summarize the report",
		UserID:    "u1",
		SessionID: "s1",
		Metadata: map[string]any{
			"context": []any{
				map[string]any{"role": "user", "content": "the report is about Q3"},
				map[string]any{"role": "assistant"},
				"garbage",
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "summary", ans.Text)
	assert.Equal(t, 7, ans.Usage.TotalTokens)

	req := llm.requests[0]
	assert.Equal(t, "doc-model", req.Model)
	assert.Contains(t, req.System, "document specialist")
	assert.Contains(t, req.System, "- user: the report is about Q3")
	assert.Empty(t, req.Tools)

	require.Len(t, store.stored, 1)
	assert.Equal(t, "Summarize the report", store.stored[0].UserMessage)
	assert.Equal(t, "summary", store.stored[0].AgentResponse)
	assert.Equal(t, "document", store.stored[0].Metadata["agent"])
}

func TestHandleTask_VisionRequiresMedia(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.ChatResponse{answer("a cat")}}
	h, err := New(domain.AgentVision, Deps{LLM: llm})
	require.NoError(t, err)

	_, err = h.HandleTask(context.Background(), a2a.Task{Prompt: "what is this?"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, llm.requests)

	img := domain.Media{Kind: domain.MediaImage, Format: "png", Base64: "aGVsbG8="}
	ans, err := h.HandleTask(context.Background(), a2a.Task{Media: []domain.Media{img}})
	require.NoError(t, err)
	assert.Equal(t, "a cat", ans.Text)

	msg := llm.requests[0].Messages[0]
	assert.Equal(t, "Describe this image.", msg.Content)
	require.Len(t, msg.Media, 1)
	assert.Equal(t, "png", msg.Media[0].Format)
}

func TestHandleTask_EmptyTask(t *testing.T) {
	h, err := New(domain.AgentData, Deps{LLM: &scriptedLLM{}})
	require.NoError(t, err)

	_, err = h.HandleTask(context.Background(), a2a.Task{Prompt: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestHandleTask_ModelErrorPropagates(t *testing.T) {
	store := &recordingStore{}
	llm := &scriptedLLM{err: domain.NewDomainError("llm", domain.ErrProviderError, "500")}
	h, err := New(domain.AgentData, Deps{LLM: llm, Memory: store})
	require.NoError(t, err)

	_, err = h.HandleTask(context.Background(), a2a.Task{Prompt: "count rows", UserID: "u", SessionID: "s"})
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Empty(t, store.stored)
}

func TestHandleTask_ToolSpecialistRunsTools(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.ChatResponse{
		{Message: domain.Message{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{
			ID: "c1", Name: "calculator", Arguments: json.RawMessage(`{"expression":"2 ** 10"}`),
		}}}},
		answer("2^10 is 1024"),
	}}
	h, err := New(domain.AgentTool, Deps{LLM: llm, Tools: tool.NewDefaultRegistry(nil)})
	require.NoError(t, err)

	ans, err := h.HandleTask(context.Background(), a2a.Task{Prompt: "what is 2 to the 10th?"})
	require.NoError(t, err)
	assert.Equal(t, "2^10 is 1024", ans.Text)

	require.Len(t, llm.requests, 2)
	assert.Len(t, llm.requests[0].Tools, 2)
	toolMsg := llm.requests[1].Messages[2]
	assert.Equal(t, domain.RoleTool, toolMsg.Role)
	assert.Equal(t, "1024", toolMsg.Content)
}

func TestHandleTask_NonToolSpecialistGetsNoTools(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.ChatResponse{answer("ok")}}
	h, err := New(domain.AgentData, Deps{LLM: llm, Tools: tool.NewDefaultRegistry(nil)})
	require.NoError(t, err)

	_, err = h.HandleTask(context.Background(), a2a.Task{Prompt: "hi"})
	require.NoError(t, err)
	assert.Empty(t, llm.requests[0].Tools)
}

func TestContextMetadataRoundTrip(t *testing.T) {
	assert.Nil(t, ContextMetadata(nil))
	assert.Nil(t, ContextFromMetadata(nil))

	md := ContextMetadata([]domain.MemoryRecord{{Role: "user", Content: "hello"}})
	raw, err := json.Marshal(md)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	got := ContextFromMetadata(decoded)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)
}

// The handler served over A2A answers a real client call end to end.
func TestHandler_OverA2A(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.ChatResponse{answer("rows: 2")}}
	h, err := New(domain.AgentData, Deps{LLM: llm})
	require.NoError(t, err)

	srv := httptest.NewServer(a2a.NewServer(a2a.NewAgentCard(domain.AgentData, "http://data.local"), h).Handler())
	defer srv.Close()

	client := a2a.NewClient(domain.AgentOrchestrator, staticResolver{domain.AgentData: srv.URL})
	ans, err := client.Call(context.Background(), domain.AgentData, "how many users?",
		a2a.WithUser("u1", "s1"),
		a2a.WithMetadata(ContextMetadata([]domain.MemoryRecord{{Role: "user", Content: "table users"}})),
	)
	require.NoError(t, err)
	assert.Equal(t, "rows: 2", ans.Text)
	assert.Contains(t, llm.requests[0].System, "table users")
}

type staticResolver map[string]string

func (r staticResolver) Resolve(name string) (string, error) {
	url, ok := r[name]
	if !ok {
		return "", domain.NewDomainError("staticResolver.Resolve", domain.ErrUnknownDestination, name)
	}
	return url, nil
}
