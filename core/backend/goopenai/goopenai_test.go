package goopenai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/siherrmann/citegraph/core/backend"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T, requests *[]map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*requests = append(*requests, body)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Acme was founded in 2015 [1]."}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":1,"embedding":[0.5,0.5]},{"object":"embedding","index":0,"embedding":[1,0]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient(t *testing.T) {
	var requests []map[string]any
	server := fakeServer(t, &requests)

	client, err := New(model.BackendConfig{BaseURL: server.URL + "/v1", ChatModel: "test-model"})
	require.NoError(t, err)

	t.Run("Generate", func(t *testing.T) {
		text, err := client.Generate(context.Background(), "Who founded Acme?", backend.WithSystemPrompts("Cite sources."))
		require.NoError(t, err)
		assert.Equal(t, "Acme was founded in 2015 [1].", text)

		last := requests[len(requests)-1]
		assert.Equal(t, "test-model", last["model"])
		messages := last["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	})

	t.Run("Generate with schema", func(t *testing.T) {
		type claims struct {
			Claims []string `json:"claims"`
		}
		_, err := client.Generate(context.Background(), "extract", backend.WithJSONSchema("claims", claims{}))
		require.NoError(t, err)

		format := requests[len(requests)-1]["response_format"].(map[string]any)
		assert.Equal(t, "json_object", format["type"])
	})

	t.Run("EmbedBatch keeps input order", func(t *testing.T) {
		vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1, 0}, {0.5, 0.5}}, vectors)
	})

	t.Run("Empty batch skips the request", func(t *testing.T) {
		count := len(requests)
		vectors, err := client.EmbedBatch(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, vectors)
		assert.Len(t, requests, count)
	})
}

func TestNew(t *testing.T) {
	_, err := New(model.BackendConfig{})
	assert.Error(t, err, "Expected an error without api key or base url")

	r := backend.NewRegistry()
	Register(r)
	_, err = r.Generator(Name, model.BackendConfig{APIKey: "key"})
	assert.NoError(t, err)
}
