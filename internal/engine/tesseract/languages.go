package tesseract

import "strings"

// tesseract traineddata codes for the locales we expect in hints.
var langCodes = map[string]string{
	"en": "eng",
	"de": "deu",
	"fr": "fra",
	"es": "spa",
	"it": "ita",
	"pt": "por",
	"nl": "nld",
	"pl": "pol",
	"sv": "swe",
	"da": "dan",
	"no": "nor",
	"fi": "fin",
	"cs": "ces",
	"tr": "tur",
	"ru": "rus",
	"uk": "ukr",
	"el": "ell",
	"ja": "jpn",
	"zh": "chi_sim",
	"ko": "kor",
	"ar": "ara",
	"he": "heb",
	"hi": "hin",
}

// LanguageArg turns locale hints ("pt-BR", "en") into a tesseract -l value
// ("por+eng"). Unknown hints are dropped; fallback is used when nothing maps.
func LanguageArg(hints []string, fallback string) string {
	var codes []string
	seen := map[string]bool{}
	for _, h := range hints {
		base := strings.ToLower(strings.TrimSpace(h))
		if i := strings.IndexAny(base, "-_"); i > 0 {
			base = base[:i]
		}
		code, ok := langCodes[base]
		if !ok {
			// already a tesseract code
			if len(base) == 3 {
				code = base
			} else {
				continue
			}
		}
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return fallback
	}
	return strings.Join(codes, "+")
}
