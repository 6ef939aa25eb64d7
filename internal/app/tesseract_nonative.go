//go:build !gosseract

package app

import (
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/engine"
)

func nativeTesseract(common.EngineConfig, *slog.Logger) (engine.Adapter, error) {
	return nil, fmt.Errorf("%w: native tesseract backend requires a build with -tags gosseract", common.ErrInvalidInput)
}
