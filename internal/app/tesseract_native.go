//go:build gosseract

package app

import (
	"log/slog"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/engine"
	"github.com/joseph-ayodele/docextract/internal/engine/tesseract/native"
)

func nativeTesseract(ec common.EngineConfig, logger *slog.Logger) (engine.Adapter, error) {
	return native.New(native.Config{TessdataDir: ec.TessdataDir}, logger), nil
}
