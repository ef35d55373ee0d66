package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(t *testing.T, html string) *Page {
	t.Helper()
	p := Parse([]byte(html), "https://acme.example/fr/accueil")
	require.NotNil(t, p)
	return p
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"", "\x00\xff\xfe", "<html><body><div><p>unclosed", "not html at all"} {
		p := Parse([]byte(body), "::bad url::")
		require.NotNil(t, p.Doc)
		assert.NotPanics(t, func() {
			_ = p.Text()
			_ = p.Links()
			_ = ExtractLogo(p)
			_ = ExtractDescription(p)
			_ = ExtractResponsible(p)
			_ = ExtractSocialLinks(p)
			_ = DetectTechnologies(p, nil)
			_ = AnalyzeSiteAge(p)
			_ = Metadata(p)
		})
	}
}

func TestPage_TextSkipsScripts(t *testing.T) {
	t.Parallel()

	p := page(t, `<html><head><title>T</title><style>p{}</style></head>
		<body><h1>Boulangerie   Dupont</h1><script>var x = "hidden";</script>
		<noscript>enable js</noscript><p>Pain  frais</p></body></html>`)
	assert.Equal(t, "Boulangerie Dupont Pain frais", p.Text())
}

func TestPage_Resolve(t *testing.T) {
	t.Parallel()

	p := page(t, "<html></html>")
	tests := []struct {
		ref, want string
	}{
		{"/contact", "https://acme.example/contact"},
		{"equipe", "https://acme.example/fr/equipe"},
		{"https://other.example/x#top", "https://other.example/x"},
		{"//cdn.example/a.js", "https://cdn.example/a.js"},
		{"#main", ""},
		{"", ""},
		{"mailto:a@acme.example", ""},
		{"javascript:void(0)", ""},
		{"ftp://acme.example/file", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Resolve(tt.ref), tt.ref)
	}
}

func TestPage_Links(t *testing.T) {
	t.Parallel()

	p := page(t, `<a href="/a">A</a><a href="/a#x">A again</a><a href="tel:0102030405">T</a>
		<a href="https://other.example/">O</a><a>no href</a>`)
	assert.Equal(t, []string{"https://acme.example/a", "https://other.example/"}, p.Links())
	assert.Equal(t, "acme.example", p.Host())
}
