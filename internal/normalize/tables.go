package normalize

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pelletier/go-toml/v2"
)

//go:embed locales.toml
var builtinTables []byte

// commonLocale is applied to every locale before its own table.
const commonLocale = "common"

type tableSpec struct {
	Sequences map[string]string `toml:"sequences"`
	Words     map[string]string `toml:"words"`
}

// repairTable is the compiled form of one locale entry.
type repairTable struct {
	seq   *strings.Replacer
	words map[string]string
	wordR *regexp.Regexp
}

func parseTables(data []byte) (map[string]tableSpec, error) {
	specs := map[string]tableSpec{}
	if err := toml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse repair tables: %w", err)
	}
	out := make(map[string]tableSpec, len(specs))
	for loc, s := range specs {
		out[canonicalLocale(loc)] = s
	}
	return out, nil
}

func loadTableFile(path string) (map[string]tableSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read repair table %s: %w", path, err)
	}
	return parseTables(b)
}

// merge overlays src onto dst entry by entry.
func merge(dst, src map[string]tableSpec) {
	for loc, s := range src {
		cur := dst[loc]
		if cur.Sequences == nil {
			cur.Sequences = map[string]string{}
		}
		if cur.Words == nil {
			cur.Words = map[string]string{}
		}
		for k, v := range s.Sequences {
			cur.Sequences[k] = v
		}
		for k, v := range s.Words {
			cur.Words[strings.ToLower(k)] = v
		}
		dst[loc] = cur
	}
}

func compile(loc string, s tableSpec) (*repairTable, error) {
	t := &repairTable{}

	keys := make([]string, 0, len(s.Sequences))
	for k := range s.Sequences {
		if k == "" {
			return nil, fmt.Errorf("locale %s: empty sequence key", loc)
		}
		keys = append(keys, k)
	}
	// longest first, then lexical, so overlapping keys resolve the same way every run
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	if len(keys) > 0 {
		pairs := make([]string, 0, 2*len(keys))
		for _, k := range keys {
			pairs = append(pairs, k, s.Sequences[k])
		}
		t.seq = strings.NewReplacer(pairs...)
	}

	if len(s.Words) > 0 {
		t.words = make(map[string]string, len(s.Words))
		alts := make([]string, 0, len(s.Words))
		for k, v := range s.Words {
			lk := strings.ToLower(k)
			t.words[lk] = v
			alts = append(alts, regexp.QuoteMeta(lk))
		}
		sort.Slice(alts, func(i, j int) bool {
			if len(alts[i]) != len(alts[j]) {
				return len(alts[i]) > len(alts[j])
			}
			return alts[i] < alts[j]
		})
		// RE2's \b only knows ASCII, so the left edge is matched as a non-word
		// rune here and the right edge is checked in apply.
		r, err := regexp.Compile(`(?i)(?:^|[^\p{L}\p{M}\p{N}_])(` + strings.Join(alts, "|") + `)`)
		if err != nil {
			return nil, fmt.Errorf("locale %s: compile word rules: %w", loc, err)
		}
		t.wordR = r
	}
	return t, nil
}

func (t *repairTable) apply(s string) string {
	if t.seq != nil {
		s = t.seq.Replace(s)
	}
	if t.wordR != nil {
		s = t.replaceWords(s)
	}
	return s
}

func (t *repairTable) replaceWords(s string) string {
	matches := t.wordR.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[2], m[3]
		if next, _ := utf8.DecodeRuneInString(s[end:]); end < len(s) && isWordRune(next) {
			continue
		}
		word := s[start:end]
		rep, ok := t.words[strings.ToLower(word)]
		if !ok {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(matchCase(word, rep))
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r)
}

// matchCase shapes rep like m: ALL CAPS, Capitalized or as written.
func matchCase(m, rep string) string {
	if utf8.RuneCountInString(m) > 1 && strings.ToUpper(m) == m {
		return strings.ToUpper(rep)
	}
	r, _ := utf8.DecodeRuneInString(m)
	if unicode.IsUpper(r) {
		first, size := utf8.DecodeRuneInString(rep)
		return string(unicode.ToUpper(first)) + rep[size:]
	}
	return rep
}

func canonicalLocale(loc string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(loc)), "_", "-")
}

// localeChain expands "pt-BR" into ["pt-br", "pt"].
func localeChain(loc string) []string {
	loc = canonicalLocale(loc)
	if loc == "" {
		return nil
	}
	chain := []string{loc}
	for {
		i := strings.LastIndex(loc, "-")
		if i <= 0 {
			break
		}
		loc = loc[:i]
		chain = append(chain, loc)
	}
	return chain
}
