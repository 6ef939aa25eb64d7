// Package normalize canonicalizes extracted text: whitespace cleanup, Unicode
// NFC, and locale repair tables that map common OCR substitutions back to the
// expected diacritics. Normalize is idempotent.
package normalize

import (
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxPasses bounds the fixpoint loop; real tables converge in one or two.
const maxPasses = 8

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reBoxNoise   = regexp.MustCompile(`(?m)^[ \t]*[_\-=]{3,}[ \t]*$`)

	spaceLike = strings.NewReplacer(
		"\u00a0", " ", "\u2002", " ", "\u2003", " ", "\u2009", " ",
		"\u200a", " ", "\u202f", " ", "\u3000", " ", "\f", "\n", "\v", "\n",
	)
	zeroWidth = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "", "\u00ad", "")
)

type Option func(*Normalizer) error

// WithRepairTable overlays the locale tables in a TOML file on top of the
// built-in ones. Same-key entries in the file win.
func WithRepairTable(path string) Option {
	return func(n *Normalizer) error {
		if path == "" {
			return nil
		}
		extra, err := loadTableFile(path)
		if err != nil {
			return err
		}
		merge(n.specs, extra)
		return nil
	}
}

// WithRepairTableData is WithRepairTable for an in-memory document.
func WithRepairTableData(data []byte) Option {
	return func(n *Normalizer) error {
		extra, err := parseTables(data)
		if err != nil {
			return err
		}
		merge(n.specs, extra)
		return nil
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) error {
		if l != nil {
			n.logger = l
		}
		return nil
	}
}

// Normalizer is immutable after New and safe for concurrent use.
type Normalizer struct {
	specs  map[string]tableSpec
	logger *slog.Logger

	compiled map[string]*repairTable
}

func New(opts ...Option) (*Normalizer, error) {
	n := &Normalizer{
		specs:    map[string]tableSpec{},
		logger:   slog.Default(),
		compiled: map[string]*repairTable{},
	}
	base, err := parseTables(builtinTables)
	if err != nil {
		return nil, err
	}
	merge(n.specs, base)
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	for loc, s := range n.specs {
		t, err := compile(loc, s)
		if err != nil {
			return nil, err
		}
		n.compiled[loc] = t
	}
	return n, nil
}

// Locales lists the locales that have a repair table (excluding common).
func (n *Normalizer) Locales() []string {
	out := make([]string, 0, len(n.compiled))
	for loc := range n.compiled {
		if loc != commonLocale {
			out = append(out, loc)
		}
	}
	return out
}

// Normalize returns the canonical form of text for locale. Unknown locales get
// whitespace and common repairs only.
func (n *Normalizer) Normalize(text, locale string) string {
	if text == "" {
		return text
	}
	tables := n.tablesFor(locale)
	out := text
	for i := 0; i < maxPasses; i++ {
		next := n.pass(out, tables)
		if next == out {
			return out
		}
		out = next
	}
	n.logger.Warn("normalize did not converge", "locale", locale, "passes", maxPasses)
	return out
}

func (n *Normalizer) tablesFor(locale string) []*repairTable {
	var out []*repairTable
	if t, ok := n.compiled[commonLocale]; ok {
		out = append(out, t)
	}
	for _, loc := range localeChain(locale) {
		if t, ok := n.compiled[loc]; ok {
			out = append(out, t)
			break
		}
	}
	return out
}

func (n *Normalizer) pass(s string, tables []*repairTable) string {
	s = norm.NFC.String(s)
	for _, t := range tables {
		s = t.apply(s)
	}
	return Whitespace(s)
}

// Whitespace collapses noisy whitespace. Line breaks are kept; more than one
// blank line collapses to one.
func Whitespace(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = zeroWidth.Replace(s)
	s = spaceLike.Replace(s)
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reBoxNoise.ReplaceAllString(s, "")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	s = strings.Join(lines, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
