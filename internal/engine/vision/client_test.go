package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/engine"
)

const annotateBody = `{
  "responses": [{
    "fullTextAnnotation": {
      "text": "Invoice 42\nTotal 10.00",
      "pages": [{
        "width": 200, "height": 100,
        "blocks": [
          {"confidence": 0.9,
           "boundingBox": {"vertices": [{"x":10,"y":10},{"x":110,"y":10},{"x":110,"y":30},{"x":10,"y":30}]},
           "paragraphs": [{"words": [
             {"symbols": [{"text":"Invoice","property":{"detectedBreak":{"type":"SPACE"}}}]},
             {"symbols": [{"text":"42"}]}
           ]}]},
          {"confidence": 0.7,
           "paragraphs": [{"words": [{"symbols": [{"text":"Total 10.00"}]}]}]}
        ]
      }]
    }
  }]
}`

func TestExtract_MapsPagesAndHints(t *testing.T) {
	var got annotateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images:annotate", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Goog-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(annotateBody))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL + "/v1/", APIKey: "secret"}, nil)
	assert.Equal(t, constants.EngineVision, c.ID())
	assert.Equal(t, engine.Capabilities{}, c.Capabilities())

	res, err := c.Extract(context.Background(), []byte("img"), []string{"pt-BR"}, engine.Options{DetectTables: true})
	require.NoError(t, err)

	require.Len(t, got.Requests, 1)
	assert.Equal(t, "DOCUMENT_TEXT_DETECTION", got.Requests[0].Features[0].Type)
	require.NotNil(t, got.Requests[0].ImageContext)
	assert.Equal(t, []string{"pt-BR"}, got.Requests[0].ImageContext.LanguageHints)

	require.Len(t, res.Pages, 1)
	p := res.Pages[0]
	assert.Equal(t, 1, p.Number)
	assert.Equal(t, "Invoice 42\nTotal 10.00", p.Text)
	// page confidence absent: mean of blocks
	assert.InDelta(t, 0.8, p.Confidence, 1e-9)
	assert.Equal(t, 200.0, p.Width)
	require.Len(t, p.Blocks, 2)
	assert.Equal(t, "Invoice 42", p.Blocks[0].Text)
	assert.Equal(t, engine.RawBox{Left: 10, Top: 10, Width: 100, Height: 20}, p.Blocks[0].Box)
	assert.Empty(t, res.Tables)
	assert.Empty(t, res.FormFields)
	assert.Equal(t, "v1", res.EngineVersion)
}

func TestExtract_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"bad image"}}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{Endpoint: srv.URL}, nil).Extract(context.Background(), []byte("x"), nil, engine.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad image")
}

func TestExtract_RejectsMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"nope"}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{Endpoint: srv.URL}, nil).Extract(context.Background(), []byte("x"), nil, engine.Options{})
	require.Error(t, err)
}

func TestExtract_HTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(Config{Endpoint: srv.URL}, nil).Extract(context.Background(), []byte("x"), nil, engine.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
