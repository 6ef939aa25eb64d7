package vision

import (
	"math"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/engine"
)

var responseSchema = engine.MustCompileSchema("vision-response.json", map[string]any{
	"type":     "object",
	"required": []any{"responses"},
	"properties": map[string]any{
		"responses": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fullTextAnnotation": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"text":  map[string]any{"type": "string"},
							"pages": map[string]any{"type": "array"},
						},
					},
					"error": map[string]any{"type": "object"},
				},
			},
		},
	},
})

type annotateResponse struct {
	Responses []struct {
		FullTextAnnotation *fullText `json:"fullTextAnnotation"`
		Error              *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

type fullText struct {
	Text  string `json:"text"`
	Pages []page `json:"pages"`
}

type page struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Blocks     []block `json:"blocks"`
}

type block struct {
	Confidence  float64      `json:"confidence"`
	BoundingBox boundingPoly `json:"boundingBox"`
	Paragraphs  []struct {
		Words []struct {
			Symbols []struct {
				Text     string `json:"text"`
				Property *struct {
					DetectedBreak *struct {
						Type string `json:"type"`
					} `json:"detectedBreak"`
				} `json:"property"`
			} `json:"symbols"`
		} `json:"words"`
	} `json:"paragraphs"`
}

type boundingPoly struct {
	Vertices []struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"vertices"`
}

func (b boundingPoly) box() engine.RawBox {
	if len(b.Vertices) == 0 {
		return engine.RawBox{}
	}
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, v := range b.Vertices {
		minX, maxX = math.Min(minX, v.X), math.Max(maxX, v.X)
		minY, maxY = math.Min(minY, v.Y), math.Max(maxY, v.Y)
	}
	return engine.RawBox{Left: minX, Top: minY, Width: maxX - minX, Height: maxY - minY}
}

// text rebuilds block text from symbols, honouring detected breaks.
func (b block) text() string {
	var sb strings.Builder
	for pi, p := range b.Paragraphs {
		if pi > 0 {
			sb.WriteString("\n")
		}
		for _, w := range p.Words {
			for _, s := range w.Symbols {
				sb.WriteString(s.Text)
				if s.Property == nil || s.Property.DetectedBreak == nil {
					continue
				}
				switch s.Property.DetectedBreak.Type {
				case "SPACE", "SURE_SPACE":
					sb.WriteString(" ")
				case "EOL_SURE_SPACE", "LINE_BREAK":
					sb.WriteString("\n")
				}
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func mapPages(ft *fullText) []engine.RawPage {
	if ft == nil {
		return nil
	}
	if len(ft.Pages) == 0 {
		if strings.TrimSpace(ft.Text) == "" {
			return nil
		}
		// text without page structure carries no confidence
		return []engine.RawPage{{Number: 1, Text: ft.Text}}
	}
	pages := make([]engine.RawPage, 0, len(ft.Pages))
	for i, p := range ft.Pages {
		rp := engine.RawPage{Number: i + 1, Width: p.Width, Height: p.Height, Confidence: p.Confidence}
		texts := make([]string, 0, len(p.Blocks))
		var confSum float64
		for _, b := range p.Blocks {
			t := b.text()
			rp.Blocks = append(rp.Blocks, engine.RawBlock{Text: t, Confidence: b.Confidence, Box: b.BoundingBox.box()})
			texts = append(texts, t)
			confSum += b.Confidence
		}
		if rp.Confidence == 0 && len(p.Blocks) > 0 {
			rp.Confidence = confSum / float64(len(p.Blocks))
		}
		rp.Text = strings.Join(texts, "\n")
		pages = append(pages, rp)
	}
	if len(pages) == 1 && strings.TrimSpace(ft.Text) != "" {
		pages[0].Text = strings.TrimSpace(ft.Text)
	}
	return pages
}
