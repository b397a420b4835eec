package normalize

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize_PlainAddress(t *testing.T) {
	t.Parallel()

	n := New()
	got, err := n.Normalize("Info@Example.COM")
	require.NoError(t, err)
	require.Equal(t, "info@example.com", got)
}

func TestNormalize_ObfuscatedForms(t *testing.T) {
	t.Parallel()

	n := New()
	cases := map[string]string{
		"INFO @ example DOT com":        "info@example.com",
		"sales [at] widgets [dot] com":  "sales@widgets.com",
		"SALES [AT] widgets [DOT] com":  "sales@widgets.com",
		"help (at) support (dot) org":   "help@support.org",
		"ceo (a) bigcorp (dot) io":      "ceo@bigcorp.io",
		"jane.doe at example dot co":    "jane.doe@example.co",
		"mailto:contact@example.com":    "contact@example.com",
		"<owner@example.net>":           "owner@example.net",
		"  press@example.com.  ":        "press@example.com",
		"\"billing@example.org\",":      "billing@example.org",
		"first.last @ mail.example . com": "first.last@mail.example.com",
		"team @ example . com":          "team@example.com",
		"info [ at ] example [ dot ] de": "info@example.de",
	}
	for raw, want := range cases {
		got, err := n.Normalize(raw)
		require.NoError(t, err, "raw %q", raw)
		require.Equal(t, want, got, "raw %q", raw)
	}
}

func TestNormalize_Rejections(t *testing.T) {
	t.Parallel()

	n := New()
	rejected := []string{
		"",
		"not-an-email",
		"missing-domain@",
		"@missing-local.com",
		"logo@2x.png",
		"icon@sprite.svg",
		"deadbeefdeadbeefdeadbeefdeadbeef@o1234.ingest.io",
		"user@yourdomain.com",
		"noreply@example.com",
		"info at example",
	}
	for _, raw := range rejected {
		_, err := n.Normalize(raw)
		require.ErrorIs(t, err, ErrRejected, "raw %q", raw)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	t.Parallel()

	n := New()
	const raw = "Contact [at] Example [dot] Com"
	first, err := n.Normalize(raw)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		got, err := n.Normalize(raw)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestNormalize_FirstStrategyWins(t *testing.T) {
	t.Parallel()

	calls := []string{}
	n := New(WithStrategies([]Strategy{
		{Name: "a", Apply: func(raw string) (string, bool) {
			calls = append(calls, "a")
			return "a@example.com", true
		}},
		{Name: "b", Apply: func(raw string) (string, bool) {
			calls = append(calls, "b")
			return "b@example.com", true
		}},
	}))

	got, err := n.Normalize("anything at all")
	require.NoError(t, err)
	require.Equal(t, "a@example.com", got)
	require.Equal(t, []string{"a"}, calls)
}

func TestNormalize_CustomRejectList(t *testing.T) {
	t.Parallel()

	n := New(WithRejectPatterns([]*regexp.Regexp{
		regexp.MustCompile(`@competitor\.com$`),
	}))

	_, err := n.Normalize("ceo@competitor.com")
	require.ErrorIs(t, err, ErrRejected)

	got, err := n.Normalize("logo@2x.png")
	require.Error(t, err)
	_ = got
}
