//go:build gosseract

// Package native runs tesseract in-process through gosseract. It needs cgo and
// the libtesseract headers, so it is only compiled with the gosseract tag.
package native

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/engine"
	"github.com/joseph-ayodele/docextract/internal/engine/tesseract"
)

type Config struct {
	DefaultLang string
	TessdataDir string
	PSM         int
}

// Engine is the in-process tesseract adapter. The client ignores ctx once a
// recognition starts; wrap it with engine.Guard for deadlines.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
	logger        *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultLang == "" {
		cfg.DefaultLang = "eng"
	}
	return &Engine{cfg: cfg, clientFactory: gosseract.NewClient, logger: logger}
}

func (e *Engine) ID() constants.EngineID { return constants.EngineTesseract }

func (e *Engine) Capabilities() engine.Capabilities { return engine.Capabilities{} }

func (e *Engine) Extract(ctx context.Context, img []byte, languageHints []string, opts engine.Options) (*engine.RawResult, error) {
	if opts.ContentType == "application/pdf" {
		return nil, fmt.Errorf("native tesseract does not rasterize pdf input")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := e.clientFactory()
	defer func() {
		if err := c.Close(); err != nil {
			e.logger.Warn("gosseract close failed", "error", err)
		}
	}()

	if e.cfg.TessdataDir != "" {
		c.SetTessdataPrefix(e.cfg.TessdataDir)
	}
	langs := strings.Split(tesseract.LanguageArg(languageHints, e.cfg.DefaultLang), "+")
	if err := c.SetLanguage(langs...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if e.cfg.PSM > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(e.cfg.PSM)); err != nil {
			return nil, fmt.Errorf("set psm: %w", err)
		}
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	page := engine.RawPage{Number: 1, Text: strings.TrimSpace(text)}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(img)); err == nil {
		page.Width, page.Height = float64(cfg.Width), float64(cfg.Height)
	}

	blocks, err := c.GetBoundingBoxes(gosseract.RIL_BLOCK)
	if err == nil {
		for _, b := range blocks {
			page.Blocks = append(page.Blocks, engine.RawBlock{
				Text:       strings.TrimSpace(b.Word),
				Confidence: b.Confidence / 100.0,
				Box: engine.RawBox{
					Left:   float64(b.Box.Min.X),
					Top:    float64(b.Box.Min.Y),
					Width:  float64(b.Box.Dx()),
					Height: float64(b.Box.Dy()),
				},
			})
		}
	}
	page.Confidence = wordConfidence(c)

	return &engine.RawResult{EngineVersion: "tesseract " + c.Version(), Pages: []engine.RawPage{page}}, nil
}

func wordConfidence(c *gosseract.Client) float64 {
	words, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence / 100.0
	}
	return sum / float64(len(words))
}
