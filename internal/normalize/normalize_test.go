package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

func newNormalizer(t *testing.T, opts ...Option) *Normalizer {
	t.Helper()
	n, err := New(opts...)
	require.NoError(t, err)
	return n
}

func TestWhitespace(t *testing.T) {
	in := "  Hello\t\tworld  \r\n\r\n\r\n\r\nNext   line \u00a0end\u200b "
	assert.Equal(t, "Hello world\n\nNext line end", Whitespace(in))
	assert.Equal(t, "", Whitespace(""))
	assert.Equal(t, "top\n\nbottom", Whitespace("top\n-----\nbottom"))
}

func TestNormalize_PortugueseRepairs(t *testing.T) {
	n := newNormalizer(t)
	in := "Informacao do servico:  nao encontrado.\nNAO pague. Pa´gina 2, Servic¸o, Joa~o"
	want := "Informação do serviço: não encontrado.\nNÃO pague. Página 2, Serviço, João"
	assert.Equal(t, want, n.Normalize(in, "pt"))
	assert.Equal(t, want, n.Normalize(in, "pt-BR"))
	assert.Equal(t, want, n.Normalize(in, "pt_br"))
}

func TestNormalize_OtherLocales(t *testing.T) {
	n := newNormalizer(t)
	assert.Equal(t, "Señor Muñoz, teléfono", n.Normalize("Sen~or Mun~oz, telefono", "es"))
	assert.Equal(t, "Gebühr für Über", n.Normalize("Gebuhr fur Uber", "de-DE"))
	assert.Equal(t, "Société, échéance", n.Normalize("Societe, echeance", "fr"))
}

func TestNormalize_UnknownLocaleOnlyCommonRepairs(t *testing.T) {
	n := newNormalizer(t)
	assert.Equal(t, "file nao", n.Normalize("ﬁle   nao", "xx"))
	assert.Equal(t, "file nao", n.Normalize("ﬁle   nao", ""))
}

func TestNormalize_ComposesCombiningMarks(t *testing.T) {
	n := newNormalizer(t)
	assert.Equal(t, "\u00e3", n.Normalize("a\u0303", "en"))
}

func TestNormalize_Idempotent(t *testing.T) {
	n := newNormalizer(t)
	inputs := []struct{ text, locale string }{
		{"Informacao  nao\t\tpaga\r\n\r\n\r\nSERVICO", "pt"},
		{"a~~ c¸¸ o~o~", "pt"},
		{"Sen~~or", "es"},
		{"fur\u200bfur  uber", "de"},
		{"\u00a0\u00a0ﬁ ﬂ  “quoted”\f", "en"},
		{"----\n\n\n\nx\n___", "fr"},
		{"écheance", "fr"},
	}
	for _, tc := range inputs {
		once := n.Normalize(tc.text, tc.locale)
		assert.Equal(t, once, n.Normalize(once, tc.locale), "input %q", tc.text)
	}
}

func TestNormalize_ExtraTableOverlay(t *testing.T) {
	n := newNormalizer(t, WithRepairTableData([]byte("[en.words]\n\"teh\" = \"the\"\n\n[pt.words]\n\"nao\" = \"NÃO!\"\n")))
	assert.Equal(t, "The cat", n.Normalize("Teh cat", "en-US"))
	assert.Equal(t, "NÃO!", n.Normalize("nao", "pt"))
	assert.Contains(t, n.Locales(), "en")
}

func TestNormalize_ExtraTableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.toml")
	require.NoError(t, os.WriteFile(path, []byte("[it.sequences]\n\"e`\" = \"è\"\n"), 0o600))

	n := newNormalizer(t, WithRepairTable(path))
	assert.Equal(t, "caffè", n.Normalize("caffe`", "it"))

	_, err := New(WithRepairTable(filepath.Join(t.TempDir(), "missing.toml")))
	assert.Error(t, err)

	_, err = New(WithRepairTableData([]byte("not = [valid")))
	assert.Error(t, err)
}

func TestLocaleChain(t *testing.T) {
	assert.Equal(t, []string{"zh-hant-tw", "zh-hant", "zh"}, localeChain("zh_Hant_TW"))
	assert.Nil(t, localeChain(" "))
}

func TestExtractPatterns(t *testing.T) {
	text := "Invoice No: INV-2024-001\n" +
		"Date: 2024-03-15, due 15/04/2024\n" +
		"Total: $1,234.56 (R$ 99,90)\n" +
		"Also 12 Jan 2024 and 1.234,56 €\n" +
		"Ref #A77-19, invoice date pending\n" +
		"Contact billing@acme.example or billing@acme.example"

	got := ExtractPatterns(text)
	assert.Equal(t, []string{"2024-03-15", "15/04/2024", "12 Jan 2024"}, got.Dates)
	assert.Equal(t, []string{"$1,234.56", "R$ 99,90", "1.234,56 €"}, got.Amounts)
	assert.Equal(t, []string{"INV-2024-001", "A77-19"}, got.Identifiers)
	assert.Equal(t, []string{"billing@acme.example"}, got.Emails)

	assert.Equal(t, entity.Patterns{}, ExtractPatterns("   "))
}

func TestNormalize_WordRulesRespectUnicodeBoundaries(t *testing.T) {
	n := newNormalizer(t, WithRepairTableData([]byte("[en.words]\n\"teh\" = \"the\"\n")))
	assert.Equal(t, "ßteh the tehé ñteh_ THE", n.Normalize("ßteh teh tehé ñteh_ TEH", "en"))
	assert.Equal(t, "(the)", n.Normalize("(teh)", "en"))

	pt := newNormalizer(t)
	assert.Equal(t, "ãnao não naoã", pt.Normalize("ãnao nao naoã", "pt"))
}
