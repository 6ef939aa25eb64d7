// Package tesseract runs the tesseract CLI as a local extraction engine. PDFs
// are rasterized with pdftoppm first; each page image goes through tesseract in
// TSV mode so word confidences and boxes come back with the text.
package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/engine"
)

type Config struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm    string // if empty -> "pdftoppm"
	DefaultLang string // default "eng"
	TessdataDir string
	DPI         int // rasterization DPI for PDFs, default 300
	MaxPages    int // 0 = no limit

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default
}

type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger

	versionMu sync.Mutex
	version   string
}

// versionTimeout bounds the `--version` call, which runs detached from the
// extraction deadline.
const versionTimeout = 5 * time.Second

func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return NewWithRunner(cfg, execRunner{logger: logger}, logger)
}

// NewWithRunner is New with an injected command runner.
func NewWithRunner(cfg Config, r Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DefaultLang == "" {
		cfg.DefaultLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Engine{cfg: cfg, runner: r, logger: logger}
}

func (e *Engine) ID() constants.EngineID { return constants.EngineTesseract }

func (e *Engine) Capabilities() engine.Capabilities { return engine.Capabilities{} }

func (e *Engine) Extract(ctx context.Context, image []byte, languageHints []string, opts engine.Options) (*engine.RawResult, error) {
	tmpDir, err := os.MkdirTemp("", "docextract-tess-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove temp dir", "path", tmpDir, "error", err)
		}
	}()

	lang := LanguageArg(languageHints, e.cfg.DefaultLang)

	var images []string
	if opts.ContentType == "application/pdf" {
		images, err = e.rasterize(ctx, tmpDir, image)
		if err != nil {
			return nil, err
		}
	} else {
		in := filepath.Join(tmpDir, "page")
		if err := os.WriteFile(in, image, 0o600); err != nil {
			return nil, fmt.Errorf("write input: %w", err)
		}
		images = []string{in}
	}

	res := &engine.RawResult{EngineVersion: e.Version(ctx)}
	for i, img := range images {
		page, err := e.recognize(ctx, img, lang, i+1)
		if err != nil {
			return nil, err
		}
		res.Pages = append(res.Pages, page)
	}
	e.logger.Debug("tesseract extract ok", "pages", len(res.Pages), "lang", lang, "confidence", res.Confidence())
	return res, nil
}

func (e *Engine) recognize(ctx context.Context, path, lang string, pageNumber int) (engine.RawPage, error) {
	args := []string{path, "stdout", "-l", lang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", fmt.Sprintf("%d", e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return engine.RawPage{}, fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	page, err := parseTSV(out, pageNumber)
	if err != nil {
		return engine.RawPage{}, fmt.Errorf("tesseract page %d: %w", pageNumber, err)
	}
	return page, nil
}

// rasterize renders each PDF page to PNG (prefix-1.png, prefix-2.png, ...).
func (e *Engine) rasterize(ctx context.Context, dir string, pdf []byte) ([]string, error) {
	in := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	prefix := filepath.Join(dir, "page")
	args := []string{"-r", fmt.Sprintf("%d", e.cfg.DPI), "-png"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", fmt.Sprintf("%d", e.cfg.MaxPages))
	}
	args = append(args, in, prefix)
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, args...); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}
	return matches, nil
}

// Version returns the first line of `tesseract --version`. A successful answer
// is cached; a failed one reports "unknown" and is tried again next call.
func (e *Engine) Version(ctx context.Context) string {
	e.versionMu.Lock()
	defer e.versionMu.Unlock()
	if e.version != "" {
		return e.version
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), versionTimeout)
	defer cancel()
	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, "--version")
	if err != nil {
		e.logger.Debug("tesseract version lookup failed", "error", err)
		return "unknown"
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if line = strings.TrimSpace(line); line == "" {
		return "unknown"
	}
	e.version = line
	return e.version
}
