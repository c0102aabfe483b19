package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
)

func TestNewJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Level: "info", Format: "json"}))

	log.Info("test message", "key", "value")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
}

func TestHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Level: "warn"}))

	log.Info("dropped")
	log.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestHandlerRedactsMedia(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Format: "text"}))

	payload := strings.Repeat("QUJD", 500)
	log.Info("request", "body", `{"data":{"base64":"`+payload+`"}}`, "error", errors.New("bad: "+payload))

	out := buf.String()
	assert.NotContains(t, out, payload)
	assert.Contains(t, out, "<base64 omitted: 2000 chars>")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewWritesToFileWithAgentTag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	log, closer, err := New(config.LoggerConfig{Format: "json", Output: path}, "orchestrator")
	require.NoError(t, err)

	log.Info("hello")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"agent":"orchestrator"`)
}

func TestOpenOutputStd(t *testing.T) {
	for _, name := range []string{"stdout", "stderr", ""} {
		w, closer, err := openOutput(name)
		require.NoError(t, err, name)
		assert.NotNil(t, w)
		assert.NoError(t, closer())
	}
}

func TestOpenOutputBadPath(t *testing.T) {
	_, _, err := openOutput(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.Error(t, err)
}

func TestRedactString(t *testing.T) {
	short := "hello world"
	assert.Equal(t, short, RedactString(short))

	b64 := strings.Repeat("A", 300) + "=="
	assert.Equal(t, "img=<base64 omitted: 302 chars> end", RedactString("img="+b64+" end"))

	uri := "data:image/png;base64," + strings.Repeat("B", 250)
	assert.Equal(t, Placeholder(uri), RedactString(uri))
}

func TestLooksLikeBase64(t *testing.T) {
	assert.True(t, LooksLikeBase64(strings.Repeat("ab+/", 60)))
	assert.False(t, LooksLikeBase64(strings.Repeat("ab ", 100)))
	assert.False(t, LooksLikeBase64("QUJD"))
}
