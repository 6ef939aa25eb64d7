package tesseract

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/engine"
)

// tsv levels as emitted by `tesseract ... tsv`
const (
	levelPage = 1
	levelWord = 5
)

type tsvRow struct {
	level, block, par, line  int
	left, top, width, height float64
	conf                     float64
	text                     string
}

// parseTSV reads tesseract TSV output for a single image into one RawPage.
// Word confidences (0..100, -1 for non-words) are averaged into 0..1 values
// per block and per page.
func parseTSV(out []byte, pageNumber int) (engine.RawPage, error) {
	page := engine.RawPage{Number: pageNumber}
	lines := strings.Split(string(out), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "level") {
		return page, fmt.Errorf("tsv: missing header")
	}

	type blockAcc struct {
		lines      map[[2]int][]string
		lineOrder  [][2]int
		sum        float64
		n          int
		l, t, r, b float64
	}
	blocks := map[int]*blockAcc{}
	var blockOrder []int
	var pageSum float64
	var pageN int

	for _, ln := range lines[1:] {
		if ln == "" {
			continue
		}
		row, ok := parseRow(ln)
		if !ok {
			continue
		}
		if row.level == levelPage {
			page.Width, page.Height = row.width, row.height
			continue
		}
		if row.level != levelWord || row.conf < 0 || strings.TrimSpace(row.text) == "" {
			continue
		}
		acc, ok := blocks[row.block]
		if !ok {
			acc = &blockAcc{lines: map[[2]int][]string{}, l: row.left, t: row.top, r: row.left + row.width, b: row.top + row.height}
			blocks[row.block] = acc
			blockOrder = append(blockOrder, row.block)
		}
		key := [2]int{row.par, row.line}
		if _, seen := acc.lines[key]; !seen {
			acc.lineOrder = append(acc.lineOrder, key)
		}
		acc.lines[key] = append(acc.lines[key], row.text)
		acc.sum += row.conf
		acc.n++
		acc.l = min(acc.l, row.left)
		acc.t = min(acc.t, row.top)
		acc.r = max(acc.r, row.left+row.width)
		acc.b = max(acc.b, row.top+row.height)
		pageSum += row.conf
		pageN++
	}

	slices.Sort(blockOrder)
	texts := make([]string, 0, len(blockOrder))
	for _, id := range blockOrder {
		acc := blocks[id]
		ls := make([]string, 0, len(acc.lineOrder))
		for _, k := range acc.lineOrder {
			ls = append(ls, strings.Join(acc.lines[k], " "))
		}
		text := strings.Join(ls, "\n")
		page.Blocks = append(page.Blocks, engine.RawBlock{
			Text:       text,
			Confidence: acc.sum / float64(acc.n) / 100,
			Box:        engine.RawBox{Left: acc.l, Top: acc.t, Width: acc.r - acc.l, Height: acc.b - acc.t},
		})
		texts = append(texts, text)
	}
	page.Text = strings.Join(texts, "\n\n")
	if pageN > 0 {
		page.Confidence = pageSum / float64(pageN) / 100
	}
	return page, nil
}

func parseRow(ln string) (tsvRow, bool) {
	cols := strings.Split(ln, "\t")
	if len(cols) < 12 {
		return tsvRow{}, false
	}
	ints := make([]int, 4)
	for i, idx := range []int{0, 2, 3, 4} {
		v, err := strconv.Atoi(cols[idx])
		if err != nil {
			return tsvRow{}, false
		}
		ints[i] = v
	}
	floats := make([]float64, 5)
	for i, idx := range []int{6, 7, 8, 9, 10} {
		v, err := strconv.ParseFloat(cols[idx], 64)
		if err != nil {
			return tsvRow{}, false
		}
		floats[i] = v
	}
	return tsvRow{
		level: ints[0], block: ints[1], par: ints[2], line: ints[3],
		left: floats[0], top: floats[1], width: floats[2], height: floats[3],
		conf: floats[4],
		text: strings.Join(cols[11:], "\t"),
	}, true
}
