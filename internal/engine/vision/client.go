// Package vision adapts a cloud image-annotation service (images:annotate style
// API with DOCUMENT_TEXT_DETECTION) to the engine.Adapter contract. The service
// reports text and confidences only; tables and forms are always empty.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/engine"
)

// Config for the vision client.
type Config struct {
	Endpoint string // base URL, e.g. https://vision.example.com/v1
	APIKey   string
	Timeout  time.Duration // http client timeout; the guard applies the call deadline
	Version  string        // reported as EngineVersion; default "v1"
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = engine.DefaultTimeout
	}
	if cfg.Version == "" {
		cfg.Version = "v1"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (c *Client) ID() constants.EngineID { return constants.EngineVision }

func (c *Client) Capabilities() engine.Capabilities { return engine.Capabilities{} }

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image        imageContent  `json:"image"`
	Features     []feature     `json:"features"`
	ImageContext *imageContext `json:"imageContext,omitempty"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type imageContext struct {
	LanguageHints []string `json:"languageHints,omitempty"`
}

// Extract sends one annotate request and maps fullTextAnnotation pages.
func (c *Client) Extract(ctx context.Context, image []byte, languageHints []string, _ engine.Options) (*engine.RawResult, error) {
	start := time.Now()
	req := annotateRequest{Requests: []imageRequest{{
		Image:    imageContent{Content: base64.StdEncoding.EncodeToString(image)},
		Features: []feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
	}}}
	if len(languageHints) > 0 {
		req.Requests[0].ImageContext = &imageContext{LanguageHints: languageHints}
	}

	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/images:annotate"
	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["X-Goog-Api-Key"] = c.cfg.APIKey
	}
	raw, _, err := engine.SendJSON(ctx, c.httpClient, url, req, headers, c.logger)
	if err != nil {
		return nil, fmt.Errorf("vision annotate: %w", err)
	}
	if err := responseSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("vision response: %w", err)
	}

	var resp annotateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode vision response: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("vision response has no entries")
	}
	first := resp.Responses[0]
	if first.Error != nil && first.Error.Message != "" {
		return nil, fmt.Errorf("vision error %d: %s", first.Error.Code, first.Error.Message)
	}

	out := &engine.RawResult{EngineVersion: c.cfg.Version, Pages: mapPages(first.FullTextAnnotation)}
	c.logger.Debug("engine.vision.extracted",
		"pages", len(out.Pages),
		"confidence", out.Confidence(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
