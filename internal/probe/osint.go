package probe

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-intel/internal/extract"
	"github.com/sells-group/prospect-intel/internal/model"
)

// Per-invocation caps of the OSINT tools, further bounded by the probe's
// overall OSINT budget.
var osintToolCaps = map[string]time.Duration{
	ToolSublist3r: 30 * time.Second,
	ToolAmass:     45 * time.Second,
	ToolDNSRecon:  30 * time.Second,
	ToolHarvester: 60 * time.Second,
	ToolSherlock:  60 * time.Second,
	ToolMaigret:   60 * time.Second,
}

// harvestSources are the theHarvester backends queried for addresses.
var harvestSources = []string{"bing", "duckduckgo", "yahoo"}

// maxUsernames bounds the username searches of the social step.
const maxUsernames = 5

// Email sources.
const (
	SourceWebsite   = "website"
	SourceHarvester = "theHarvester"
	SourceLinkedIn  = "linkedin"
	SourceEmail     = "email"
)

// osintRun is the mutable state of one OSINT probe.
type osintRun struct {
	p      *Prober
	domain string
	report *model.OSINTReport
	// tools is bounded by the OSINT budget; ctx of the steps is not.
	tools context.Context

	mu   sync.Mutex
	used map[string]bool
}

// tool runs name under its cap and remembers that it was used.
func (o *osintRun) tool(name string, args ...string) ([]byte, error) {
	out, err := runTool(o.tools, o.p.d.Runner, osintToolCaps[name], name, args...)
	if err == nil || len(out) > 0 {
		o.mu.Lock()
		o.used[name] = true
		o.mu.Unlock()
	}
	return out, err
}

// OSINT runs the OSINT probe: subdomains, DNS, WHOIS, addresses, people
// and social profiles. External tools are used when available and the
// scraper's findings in t.Known are merged in.
func (p *Prober) OSINT(ctx context.Context, t Target, progress ProgressFunc) (*model.OSINTReport, error) {
	_, domain, err := prepare(t)
	if err != nil {
		return nil, err
	}
	r := &model.OSINTReport{
		Domain:       domain,
		Subdomains:   []string{},
		DNSRecords:   []model.DNSRecord{},
		Emails:       []model.OSINTEmail{},
		SocialMedia:  []model.SocialProfile{},
		Technologies: []string{},
		People:       []model.OSINTPerson{},
		ToolsUsed:    []string{},
		Diagnostic: model.Diagnostic{Tools: p.d.Caps.Snapshot(
			ToolSublist3r, ToolAmass, ToolDNSRecon, ToolHarvester, ToolSherlock, ToolMaigret)},
	}
	tools, cancel := context.WithTimeout(ctx, p.d.Budgets.OSINT)
	defer cancel()
	o := &osintRun{p: p, domain: domain, report: r, tools: tools, used: map[string]bool{}}

	s := p.newSession(model.ProbeOSINT, t, progress, &r.Diagnostic, 7)
	ok := s.step(ctx, "subdomains", o.subdomains)
	ok = ok && s.step(ctx, "dns", o.dns)
	ok = ok && s.step(ctx, "whois", func(ctx context.Context) error {
		info, err := p.d.Whois.Lookup(ctx, registrable(domain))
		if err != nil {
			return err
		}
		r.Whois = info
		return nil
	})
	ok = ok && s.step(ctx, "emails", func(context.Context) error { return o.emails(t.Known) })
	ok = ok && s.step(ctx, "people", func(context.Context) error { return o.people(t.Known) })
	ok = ok && s.step(ctx, "social", func(context.Context) error { return o.social(t.Known) })
	ok = ok && s.step(ctx, "technologies", func(context.Context) error {
		seen := map[string]bool{}
		for _, tech := range t.Known.Technologies {
			if tech.Name != "" && !seen[tech.Name] {
				seen[tech.Name] = true
				r.Technologies = append(r.Technologies, tech.Name)
			}
		}
		return nil
	})

	for name := range o.used {
		r.ToolsUsed = append(r.ToolsUsed, name)
	}
	sort.Strings(r.ToolsUsed)
	r.Summary = model.OSINTSummary{
		Subdomains:  len(r.Subdomains),
		DNSRecords:  len(r.DNSRecords),
		Emails:      len(r.Emails),
		People:      len(r.People),
		SocialMedia: len(r.SocialMedia),
	}
	if !ok {
		return r, ctx.Err()
	}
	return r, nil
}

func (o *osintRun) subdomains(_ context.Context) error {
	runs := []struct {
		tool string
		args []string
	}{
		{ToolSublist3r, []string{"-d", o.domain, "-t", "10"}},
		{ToolAmass, []string{"enum", "-d", o.domain, "-passive"}},
		{ToolDNSRecon, []string{"-d", o.domain, "-t", "std"}},
	}
	seen := map[string]bool{}
	var errs []error
	for _, run := range runs {
		if !o.p.d.Caps.Has(run.tool) {
			continue
		}
		out, err := o.tool(run.tool, run.args...)
		if err != nil && len(out) == 0 {
			errs = append(errs, err)
			continue
		}
		for _, sub := range ParseSubdomains(string(out), o.domain) {
			seen[sub] = true
		}
	}
	for sub := range seen {
		o.report.Subdomains = append(o.report.Subdomains, sub)
	}
	sort.Strings(o.report.Subdomains)
	if len(seen) == 0 && len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// dnsTypes is the order of record types in the report.
var dnsTypes = []string{"A", "AAAA", "MX", "NS", "TXT", "CNAME"}

func (o *osintRun) dns(ctx context.Context) error {
	res := o.p.d.Resolver
	found := make([][]string, len(dnsTypes))
	errs := make([]error, len(dnsTypes))

	var g errgroup.Group
	for i, typ := range dnsTypes {
		g.Go(func() error {
			found[i], errs[i] = lookupRecords(ctx, res, typ, o.domain)
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	for i, typ := range dnsTypes {
		for _, v := range found[i] {
			o.report.DNSRecords = append(o.report.DNSRecords, model.DNSRecord{Type: typ, Value: v})
		}
		if errs[i] != nil && firstErr == nil {
			firstErr = errs[i]
		}
	}
	if len(o.report.DNSRecords) == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

func lookupRecords(ctx context.Context, res Resolver, typ, domain string) ([]string, error) {
	var out []string
	switch typ {
	case "A", "AAAA":
		addrs, err := res.LookupIPAddr(ctx, domain)
		if err != nil {
			return nil, eris.Wrapf(err, "probe: lookup %s %s", typ, domain)
		}
		for _, a := range addrs {
			if (a.IP.To4() != nil) == (typ == "A") {
				out = append(out, a.IP.String())
			}
		}
	case "MX":
		mxs, err := res.LookupMX(ctx, domain)
		if err != nil {
			return nil, eris.Wrapf(err, "probe: lookup MX %s", domain)
		}
		for _, mx := range mxs {
			out = append(out, strings.TrimSuffix(mx.Host, "."))
		}
	case "NS":
		nss, err := res.LookupNS(ctx, domain)
		if err != nil {
			return nil, eris.Wrapf(err, "probe: lookup NS %s", domain)
		}
		for _, ns := range nss {
			out = append(out, strings.TrimSuffix(ns.Host, "."))
		}
	case "TXT":
		txts, err := res.LookupTXT(ctx, domain)
		if err != nil {
			return nil, eris.Wrapf(err, "probe: lookup TXT %s", domain)
		}
		out = append(out, txts...)
	case "CNAME":
		cname, err := res.LookupCNAME(ctx, domain)
		if err != nil {
			return nil, eris.Wrapf(err, "probe: lookup CNAME %s", domain)
		}
		cname = strings.TrimSuffix(cname, ".")
		if cname != "" && !strings.EqualFold(cname, domain) {
			out = append(out, cname)
		}
	}
	return out, nil
}

func (o *osintRun) emails(known Known) error {
	seen := map[string]bool{}
	add := func(email, source string) {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" || seen[email] {
			return
		}
		seen[email] = true
		o.report.Emails = append(o.report.Emails, model.OSINTEmail{Email: email, Source: source})
	}
	for _, e := range known.Emails {
		add(e, SourceWebsite)
	}
	if !o.p.d.Caps.Has(ToolHarvester) {
		return nil
	}
	var firstErr error
	for _, src := range harvestSources {
		out, err := o.tool(ToolHarvester, "-d", o.domain, "-b", src, "-l", "100")
		if err != nil && len(out) == 0 {
			if firstErr == nil {
				firstErr = err
			}
			if o.tools.Err() != nil {
				break
			}
			continue
		}
		for _, e := range ParseHarvestedEmails(string(out), o.domain) {
			add(e, SourceHarvester)
		}
	}
	if len(o.report.Emails) == 0 {
		return firstErr
	}
	return nil
}

// people merges the people found on the site, those guessed from email
// addresses and LinkedIn results, then assigns hierarchy levels.
func (o *osintRun) people(known Known) error {
	var people []model.OSINTPerson
	merge := func(in model.OSINTPerson) {
		name := strings.ToLower(in.Name)
		for i := range people {
			cur := strings.ToLower(people[i].Name)
			if !strings.Contains(cur, name) && !strings.Contains(name, cur) {
				continue
			}
			if people[i].Title == "" {
				people[i].Title = in.Title
			}
			if people[i].Email == "" {
				people[i].Email = in.Email
			}
			if people[i].LinkedInURL == "" {
				people[i].LinkedInURL = in.LinkedInURL
			}
			return
		}
		people = append(people, in)
	}

	for _, sp := range known.People {
		if sp.Name == "" {
			continue
		}
		merge(model.OSINTPerson{
			Name:        sp.Name,
			Title:       sp.Title,
			Email:       sp.Email,
			LinkedInURL: sp.LinkedInURL,
			Source:      SourceWebsite,
		})
	}
	for _, e := range o.report.Emails {
		if name := extract.NameFromEmail(e.Email); name != "" {
			merge(model.OSINTPerson{Name: name, Email: e.Email, Source: SourceEmail})
		}
	}

	var err error
	if o.p.d.Caps.Has(ToolHarvester) && o.tools.Err() == nil {
		var out []byte
		out, err = o.tool(ToolHarvester, "-d", o.domain, "-b", "linkedin", "-l", "200")
		for _, lp := range ParseLinkedInPeople(string(out)) {
			merge(lp)
		}
		if len(out) > 0 {
			err = nil
		}
	}

	for i := range people {
		people[i].Level, people[i].Role = model.InferHierarchy(people[i].Title)
	}
	if people != nil {
		o.report.People = people
	}
	return err
}

// social collects the known profiles and, when a username search tool is
// available, the profiles it finds for the company's usernames.
func (o *osintRun) social(known Known) error {
	seen := map[string]bool{}
	add := func(sp model.SocialProfile) {
		if sp.URL == "" || seen[sp.URL] {
			return
		}
		seen[sp.URL] = true
		o.report.SocialMedia = append(o.report.SocialMedia, sp)
	}
	for _, sp := range known.Social {
		if sp.Username == "" {
			sp.Username = extract.SocialUsername(sp.URL)
		}
		add(sp)
	}

	tool := ""
	var args func(string) []string
	switch {
	case o.p.d.Caps.Has(ToolMaigret):
		tool = ToolMaigret
		args = func(u string) []string { return []string{u, "--no-color", "--no-progressbar"} }
	case o.p.d.Caps.Has(ToolSherlock):
		tool = ToolSherlock
		args = func(u string) []string { return []string{u, "--no-color", "--print-found"} }
	default:
		return nil
	}

	var firstErr error
	for _, user := range o.usernames(known) {
		if o.tools.Err() != nil {
			break
		}
		out, err := o.tool(tool, args(user)...)
		if err != nil && len(out) == 0 {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, u := range ParseProfileURLs(string(out)) {
			add(model.SocialProfile{Platform: platformOf(u), URL: u, Username: user})
		}
	}
	return firstErr
}

// usernames lists candidate handles: the known profile usernames, then
// the first label of the domain.
func (o *osintRun) usernames(known Known) []string {
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		u = strings.ToLower(strings.TrimSpace(u))
		if u == "" || seen[u] || len(out) >= maxUsernames {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	for _, sp := range o.report.SocialMedia {
		add(sp.Username)
	}
	for _, sp := range known.Social {
		add(extract.SocialUsername(sp.URL))
	}
	label, _, _ := strings.Cut(registrable(o.domain), ".")
	add(label)
	return out
}

// platformOf names the platform of a profile URL: a recognized social
// network, else the first label of its registered domain.
func platformOf(profileURL string) string {
	if p := extract.SocialPlatform(profileURL); p != "" {
		return p
	}
	u, err := url.Parse(profileURL)
	if err != nil {
		return ""
	}
	label, _, _ := strings.Cut(registrable(strings.ToLower(u.Hostname())), ".")
	return label
}
