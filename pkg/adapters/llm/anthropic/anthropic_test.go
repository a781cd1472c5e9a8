package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(Config{
		APIKey:   "test-key",
		MaxWords: 90,
		Options: []option.RequestOption{
			option.WithBaseURL(server.URL),
			option.WithMaxRetries(0),
		},
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestWriteNarration(t *testing.T) {
	var request map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &request))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "  Welcome to the quarterly review.  "}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 7}
		}`)
	})

	text, err := c.WriteNarration(context.Background(), []byte("png-bytes"), ports.SlidePosition{Index: 0, Total: 3})
	require.NoError(t, err)
	assert.Equal(t, "Welcome to the quarterly review.", text)

	assert.Equal(t, DefaultModel, request["model"])
	messages := request["messages"].([]interface{})
	content := messages[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[0].(map[string]interface{})["type"])
	assert.Contains(t, content[1].(map[string]interface{})["text"], "under 90 words")
}

func TestWriteNarrationClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrResourceExhausted},
		{http.StatusInternalServerError, domain.ErrTransient},
		{http.StatusBadRequest, domain.ErrPermanent},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"nope"}}`)
			})
			_, err := c.WriteNarration(context.Background(), nil, ports.SlidePosition{Index: 1, Total: 3})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEmptyResponseIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"m","type":"message","role":"assistant","model":"x","content":[],"usage":{"input_tokens":1,"output_tokens":0}}`)
	})
	_, err := c.WriteNarration(context.Background(), nil, ports.SlidePosition{Total: 1})
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, zap.NewNop())
	assert.Error(t, err)
	c, err := NewClient(Config{APIKey: "k", Model: "claude-x"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-x", c.Name())
}
