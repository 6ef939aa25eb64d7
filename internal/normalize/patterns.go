package normalize

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

const months = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var (
	reDate = regexp.MustCompile(`(?i)\b(?:` +
		`\d{4}-\d{2}-\d{2}` + // 2024-01-31
		`|\d{1,2}[./-]\d{1,2}[./-]\d{2,4}` + // 31/01/2024, 01.31.24
		`|\d{1,2}\s+(?:` + months + `)\.?\s+\d{4}` + // 31 Jan 2024
		`|(?:` + months + `)\.?\s+\d{1,2},?\s+\d{4}` + // January 31, 2024
		`)\b`)

	reAmount = regexp.MustCompile(`(?i)` +
		`(?:(?:R\$|US\$|[$€£¥₹]|\b(?:usd|eur|gbp|brl|cad|aud|inr|jpy|chf)\b)\s?(?:\d{1,3}(?:[., ]\d{3})+|\d+)(?:[.,]\d{1,2})?)` +
		`|(?:\b(?:\d{1,3}(?:[., ]\d{3})+|\d+)(?:[.,]\d{1,2})?\s?(?:[€£]|\b(?:usd|eur|gbp|brl|cad|aud|inr|jpy|chf)\b))`)

	reIdentifier = regexp.MustCompile(`(?i)\b(?:invoice|inv|order|ref(?:erence)?|receipt|account|acct|nota|fatura|factura|rechnung)` +
		`\s*(?:no\.?|n[º°o]\.?|number|nr\.?|#)?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]{2,})`)
	reIBAN = regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,4})?\b`)

	reEmail = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
)

// ExtractPatterns picks dates, currency amounts, document identifiers and
// email addresses out of normalized text. Each list keeps first-seen order and
// drops duplicates.
func ExtractPatterns(text string) entity.Patterns {
	if strings.TrimSpace(text) == "" {
		return entity.Patterns{}
	}
	p := entity.Patterns{
		Dates:   unique(reDate.FindAllString(text, -1)),
		Amounts: unique(trimAll(reAmount.FindAllString(text, -1))),
		Emails:  unique(reEmail.FindAllString(text, -1)),
	}

	var ids []string
	for _, m := range reIdentifier.FindAllStringSubmatch(text, -1) {
		// "Invoice date" is a label, not an identifier
		if strings.ContainsAny(m[1], "0123456789") {
			ids = append(ids, m[1])
		}
	}
	ids = append(ids, reIBAN.FindAllString(text, -1)...)
	p.Identifiers = unique(ids)
	return p
}

func trimAll(in []string) []string {
	for i := range in {
		in[i] = strings.TrimSpace(in[i])
	}
	return in
}

func unique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
