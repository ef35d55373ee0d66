package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/fetcher/fetchertest"
	"github.com/sells-group/prospect-intel/internal/model"
)

func osintResolver() *mockResolver {
	return &mockResolver{
		ips: map[string][]string{"acme.fr": {"203.0.113.10", "2001:db8::10"}},
		mx:  map[string][]string{"acme.fr": {"mx1.ovh.net", "mx2.ovh.net"}},
		ns:  map[string][]string{"acme.fr": {"dns10.ovh.net"}},
		txt: map[string][]string{"acme.fr": {"v=spf1 include:mx.ovh.com ~all"}},
	}
}

func TestOSINT_WithTools(t *testing.T) {
	runner := &mockRunner{outputs: map[string]string{
		ToolSublist3r: "www.acme.fr\nshop.acme.fr\n",
		ToolAmass:     "shop.acme.fr\nmail.acme.fr\n",
		"theHarvester -d acme.fr -b bing -l 100":       "jean.dupont@acme.fr\nnoise@other.com\n",
		"theHarvester -d acme.fr -b duckduckgo -l 100": "contact@acme.fr\n",
		"theHarvester -d acme.fr -b linkedin -l 200": "Jean Dupont - Directeur Commercial - https://fr.linkedin.com/in/jdupont\n" +
			"Claire Petit - Comptable - https://fr.linkedin.com/in/cpetit\n",
		ToolSherlock: "[+] GitHub: https://github.com/acme\n",
	}, errs: map[string]error{
		"theHarvester -d acme.fr -b yahoo -l 100": errors.New("yahoo blocked"),
	}}
	p := newTestProber(fetchertest.New(), Deps{
		Runner: runner,
		Caps: NewCapabilities(map[string]bool{
			ToolSublist3r: true, ToolAmass: true, ToolHarvester: true, ToolSherlock: true,
		}),
		Resolver: osintResolver(),
		Whois:    &mockWhois{info: &model.WhoisInfo{Registrar: "OVH"}},
	})

	target := Target{
		CompanyID: 3,
		Name:      "Acme",
		URL:       "https://www.acme.fr/",
		Known: Known{
			Emails: []string{"Contact@acme.fr"},
			People: []model.ScrapedPerson{{Name: "Marie Curie", Title: "Gérante"}},
			Social: []model.SocialProfile{
				{Platform: "facebook", URL: "https://www.facebook.com/acmeboulangerie"},
			},
			Technologies: []model.Technology{{Category: "cms", Name: "WordPress"}, {Category: "cms", Name: "WordPress"}},
		},
	}
	var events collect
	r, err := p.OSINT(context.Background(), target, events.add)
	require.NoError(t, err)

	assert.Equal(t, "acme.fr", r.Domain)
	assert.Equal(t, []string{"mail.acme.fr", "shop.acme.fr", "www.acme.fr"}, r.Subdomains)
	assert.Equal(t, []model.DNSRecord{
		{Type: "A", Value: "203.0.113.10"},
		{Type: "AAAA", Value: "2001:db8::10"},
		{Type: "MX", Value: "mx1.ovh.net"},
		{Type: "MX", Value: "mx2.ovh.net"},
		{Type: "NS", Value: "dns10.ovh.net"},
		{Type: "TXT", Value: "v=spf1 include:mx.ovh.com ~all"},
	}, r.DNSRecords)
	assert.Equal(t, "OVH", r.Whois.Registrar)
	assert.Equal(t, []model.OSINTEmail{
		{Email: "contact@acme.fr", Source: SourceWebsite},
		{Email: "jean.dupont@acme.fr", Source: SourceHarvester},
	}, r.Emails)

	require.Len(t, r.People, 3)
	assert.Equal(t, model.OSINTPerson{
		Name: "Marie Curie", Title: "Gérante", Level: model.LevelExecutive, Role: model.RoleDirection, Source: SourceWebsite,
	}, r.People[0])
	assert.Equal(t, model.OSINTPerson{
		Name:        "Jean Dupont",
		Title:       "Directeur Commercial",
		Email:       "jean.dupont@acme.fr",
		LinkedInURL: "https://fr.linkedin.com/in/jdupont",
		Level:       model.LevelDirector,
		Role:        model.RoleDirection,
		Source:      SourceEmail,
	}, r.People[1])
	assert.Equal(t, "Claire Petit", r.People[2].Name)
	assert.Equal(t, model.LevelContributor, r.People[2].Level)

	assert.Equal(t, []model.SocialProfile{
		{Platform: "facebook", URL: "https://www.facebook.com/acmeboulangerie", Username: "acmeboulangerie"},
		{Platform: "github", URL: "https://github.com/acme", Username: "acmeboulangerie"},
	}, r.SocialMedia)
	assert.Equal(t, []string{
		"sherlock acmeboulangerie --no-color --print-found",
		"sherlock acme --no-color --print-found",
	}, runner.called(ToolSherlock))

	assert.Equal(t, []string{"WordPress"}, r.Technologies)
	assert.Equal(t, []string{ToolAmass, ToolSherlock, ToolSublist3r, ToolHarvester}, r.ToolsUsed)
	assert.Equal(t, model.OSINTSummary{Subdomains: 3, DNSRecords: 6, Emails: 2, People: 3, SocialMedia: 2}, r.Summary)
	assert.Empty(t, r.Diagnostic.Errors)
	assert.Len(t, events.messages(), 7)
}

func TestOSINT_NoTools(t *testing.T) {
	p := newTestProber(fetchertest.New(), Deps{Resolver: osintResolver()})
	r, err := p.OSINT(context.Background(), Target{
		URL:   "acme.fr",
		Known: Known{Emails: []string{"paul.martin@acme.fr", "info@acme.fr"}},
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, r.Subdomains)
	assert.Empty(t, r.ToolsUsed)
	assert.Len(t, r.DNSRecords, 6)
	require.Len(t, r.People, 1)
	assert.Equal(t, "Paul Martin", r.People[0].Name)
	assert.Equal(t, model.RoleCollaborateur, r.People[0].Role)
	assert.Contains(t, r.Diagnostic.Errors, "whois")
	assert.NotContains(t, r.Diagnostic.Errors, "subdomains")
	assert.Equal(t, map[string]bool{
		ToolSublist3r: false, ToolAmass: false, ToolDNSRecon: false,
		ToolHarvester: false, ToolSherlock: false, ToolMaigret: false,
	}, r.Diagnostic.Tools)
}

func TestOSINT_DNSFailure(t *testing.T) {
	p := newTestProber(fetchertest.New(), Deps{})
	r, err := p.OSINT(context.Background(), Target{URL: "nowhere.example"}, nil)
	require.NoError(t, err)
	assert.Empty(t, r.DNSRecords)
	assert.Contains(t, r.Diagnostic.Errors, "dns")
}

func TestOSINT_ToolFailureRecorded(t *testing.T) {
	p := newTestProber(fetchertest.New(), Deps{
		Runner:   &mockRunner{errs: map[string]error{ToolAmass: &ToolError{Tool: ToolAmass, ExitCode: 2}}},
		Caps:     NewCapabilities(map[string]bool{ToolAmass: true}),
		Resolver: osintResolver(),
	})
	r, err := p.OSINT(context.Background(), Target{URL: "acme.fr"}, nil)
	require.NoError(t, err)
	assert.Contains(t, r.Diagnostic.Errors, "subdomains")
	assert.Empty(t, r.ToolsUsed)
}

func TestPlatformOf(t *testing.T) {
	assert.Equal(t, "twitter", platformOf("https://x.com/acme"))
	assert.Equal(t, "github", platformOf("https://github.com/acme"))
	assert.Equal(t, "about", platformOf("https://about.me/acme"))
}
