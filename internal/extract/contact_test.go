package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEmails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		domain string
		want   []string
	}{
		{"lowercased and deduplicated", "A@B.example, a@b.example", "", []string{"a@b.example"}},
		{"domain filter", "x@acme.example y@gmail.com", "www.acme.example", []string{"x@acme.example"}},
		{"asset names skipped", "logo@2x.png icon@3x.webp", "", []string{}},
		{"none", "no address here", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractEmails(tt.text, tt.domain))
		})
	}
}

func TestPageEmails(t *testing.T) {
	t.Parallel()

	p := page(t, `<p>Contact: Info@Acme.example ou jean.dupont@acme.example</p>
		<img src="logo@2x.png">
		<a href="mailto:ventes@acme.example?subject=Devis">Écrire</a>
		<p>partner@other.example</p>`)
	assert.Equal(t,
		[]string{"info@acme.example", "jean.dupont@acme.example", "ventes@acme.example"},
		PageEmails(p, "acme.example"))
}

func TestExtractPhones(t *testing.T) {
	t.Parallel()

	p := page(t, `<p>Tél : 03 87 12 34 56 ou +33 (0)3 87 65 43 21.</p>
		<a href="tel:+33387000000">Appelez-nous</a>
		<p>SIRET 123 456 789 00012</p>`)
	assert.Equal(t, []string{"03 87 00 00 00", "03 87 12 34 56", "03 87 65 43 21"}, ExtractPhones(p))
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"01.23.45.67.89":     "01 23 45 67 89",
		"+33 6 12 34 56 78":  "06 12 34 56 78",
		"0033 1 23 45 67 89": "01 23 45 67 89",
		"12345":              "",
		"00 12 34 56 78":     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestFindContactPage(t *testing.T) {
	t.Parallel()

	p := page(t, `<a href="/services">Services</a><a href="/nous-contacter">Écrivez-nous</a><a href="/team">Team</a>`)
	assert.Equal(t, "https://acme.example/nous-contacter", FindContactPage(p))

	p = page(t, `<a href="/p?id=4">Qui sommes-nous ? About</a>`)
	assert.Equal(t, "https://acme.example/p?id=4", FindContactPage(p))

	assert.Empty(t, FindContactPage(page(t, `<a href="/blog">Blog</a>`)))
}

func TestExtractSocialLinks(t *testing.T) {
	t.Parallel()

	p := page(t, `
		<a href="https://www.facebook.com/sharer/sharer.php?u=x">Share</a>
		<a href="https://www.facebook.com/acme">FB</a>
		<a href="https://fr.linkedin.com/company/acme">LI</a>
		<a href="https://x.com/acme">X</a>
		<a href="https://twitter.com/other">T</a>
		<a href="https://example.com/x.com">not social</a>`)
	assert.Equal(t, map[string]string{
		"facebook": "https://www.facebook.com/acme",
		"linkedin": "https://fr.linkedin.com/company/acme",
		"twitter":  "https://x.com/acme",
	}, ExtractSocialLinks(p))
}

func TestSocialUsername(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "acme", SocialUsername("https://fr.linkedin.com/company/acme"))
	assert.Equal(t, "acmechannel", SocialUsername("https://www.youtube.com/@acmechannel"))
	assert.Equal(t, "acme", SocialUsername("https://www.instagram.com/acme/"))
	assert.Empty(t, SocialUsername("https://www.facebook.com/"))
}
