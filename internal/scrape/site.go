// Package scrape turns a crawl of a company website into a unified
// scraper run: contacts, people, social profiles, technologies, images,
// site metadata and a short resume.
package scrape

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/crawl"
	"github.com/sells-group/prospect-intel/internal/extract"
	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/store"
)

// textBudget caps the site text kept for sector and size inference.
const textBudget = 200_000

// ProgressFunc receives a scraping_progress event after every page.
type ProgressFunc func(ev model.Event)

// Target identifies the company being scraped.
type Target struct {
	CompanyID int64
	Name      string
	Category  string
	URL       string
}

// Result is the unified outcome of scraping one site.
type Result struct {
	URL       string             `json:"url"`
	Visited   []crawl.VisitedURL `json:"visited"`
	Failures  []crawl.Failure    `json:"failures,omitempty"`
	Blocked   map[string]string  `json:"blocked,omitempty"`
	Stop      crawl.StopReason   `json:"stop"`
	Duration  time.Duration      `json:"duration"`
	Metadata  model.SiteMetadata `json:"metadata"`
	OpenGraph map[string]any     `json:"open_graph,omitempty"`
	SiteAge   *extract.SiteAge   `json:"site_age,omitempty"`
	Artifacts model.Artifacts    `json:"artifacts"`
	Counters  model.Counters     `json:"counters"`
	Resume    string             `json:"resume"`
}

// SiteScraper composes the crawler with the extractor battery.
type SiteScraper struct {
	crawler  *crawl.Crawler
	taxonomy *extract.Taxonomy
	sigs     *extract.Signatures
	now      func() time.Time
}

// NewSiteScraper creates a SiteScraper using the embedded taxonomy and
// technology signatures.
func NewSiteScraper(c *crawl.Crawler) *SiteScraper {
	return &SiteScraper{
		crawler:  c,
		taxonomy: extract.DefaultTaxonomy(),
		sigs:     extract.DefaultSignatures(),
		now:      time.Now,
	}
}

// pageData is what the extractor battery pulled from one page.
type pageData struct {
	url         string
	depth       int
	text        string
	emails      []string
	phones      []string
	social      map[string]string
	techs       []model.Technology
	people      []model.ScrapedPerson
	images      []model.Image
	responsible string
	founded     *int
	contact     string
	meta        model.SiteMetadata
	openGraph   map[string]any
	age         *extract.SiteAge
	home        *extract.Page
}

// Scrape crawls the target site and merges what every page yields. The
// merge runs over pages ordered by depth then URL, so identical sites
// produce identical results whatever the worker interleaving.
func (s *SiteScraper) Scrape(ctx context.Context, t Target, progress ProgressFunc) (*Result, error) {
	seed, err := fetcher.NormalizeURL(t.URL)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: target url")
	}
	log := zap.L().With(zap.Int64("company_id", t.CompanyID), zap.String("url", seed))
	start := s.now()

	var (
		mu      sync.Mutex
		pages   []pageData
		blocked = make(map[string]string)
		running = newTally()
	)
	total := s.crawler.Config().MaxPages

	visit := func(_ context.Context, v *crawl.Visit) {
		if ok, bt := DetectBlock(v.Fetched.StatusCode, v.Fetched.Header, v.Fetched.Body); ok {
			mu.Lock()
			blocked[v.URL] = string(bt)
			mu.Unlock()
			log.Warn("scrape: page blocked", zap.String("page", v.URL), zap.String("block", string(bt)))
			return
		}
		pd := s.extractPage(v)

		mu.Lock()
		pages = append(pages, pd)
		running.add(pd)
		current := len(pages)
		counters := running.counters()
		mu.Unlock()

		if progress != nil {
			progress(model.Event{
				Kind:       model.EventScrapingProgress,
				CompanyID:  t.CompanyID,
				Company:    t.Name,
				URL:        v.URL,
				Current:    current,
				Total:      total,
				Percentage: model.Percent(current, total),
				Message:    "Scraping " + v.URL,
				Counters:   &counters,
				Time:       s.now(),
			})
		}
	}

	cr, err := s.crawler.Crawl(ctx, seed, visit)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: crawl")
	}

	res := s.merge(t, pages)
	res.URL = seed
	res.Visited = cr.Visited
	res.Failures = cr.Failures
	res.Stop = cr.Stop
	res.Duration = s.now().Sub(start)
	if len(blocked) > 0 {
		res.Blocked = blocked
	}
	log.Info("scrape: finished",
		zap.Int("visited", len(res.Visited)),
		zap.Int("pages", len(pages)),
		zap.Int("emails", res.Counters.Emails),
		zap.Int("people", res.Counters.People),
		zap.String("stop", string(res.Stop)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (s *SiteScraper) extractPage(v *crawl.Visit) pageData {
	p := v.Page
	pd := pageData{
		url:         v.URL,
		depth:       v.Depth,
		text:        p.Text(),
		emails:      extract.PageEmails(p, ""),
		phones:      extract.ExtractPhones(p),
		social:      extract.ExtractSocialLinks(p),
		techs:       s.sigs.Detect(p, v.Fetched.Header),
		people:      extract.ExtractPeople(p),
		images:      extract.Images(p),
		responsible: extract.ExtractResponsible(p),
		founded:     extract.ExtractFoundedYear(p, s.now()),
		contact:     extract.FindContactPage(p),
	}
	if v.Depth == 0 {
		pd.meta = extract.Metadata(p)
		pd.openGraph = extract.OpenGraph(p)
		age := extract.AnalyzeSiteAge(p)
		pd.age = &age
		pd.home = p
	}
	return pd
}

func (s *SiteScraper) merge(t Target, pages []pageData) *Result {
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].depth != pages[j].depth {
			return pages[i].depth < pages[j].depth
		}
		return pages[i].url < pages[j].url
	})

	res := &Result{}
	var (
		emailSeen  = make(map[string]bool)
		phoneSeen  = make(map[string]bool)
		socialSeen = make(map[string]bool)
		techIdx    = make(map[string]int)
		imageSeen  = make(map[string]bool)
		people     = newPeople()
		votes      = make(map[string]int)
		voteOrder  []string
		text       strings.Builder
		home       *extract.Page
	)
	for _, pd := range pages {
		if pd.depth == 0 && res.SiteAge == nil {
			res.Metadata = pd.meta
			res.OpenGraph = pd.openGraph
			res.SiteAge = pd.age
			home = pd.home
		}
		for _, e := range pd.emails {
			if !emailSeen[e] {
				emailSeen[e] = true
				res.Artifacts.Emails = append(res.Artifacts.Emails, model.ScrapedEmail{Email: e, PageURL: pd.url})
			}
		}
		for _, ph := range pd.phones {
			if !phoneSeen[ph] {
				phoneSeen[ph] = true
				res.Artifacts.Phones = append(res.Artifacts.Phones, model.ScrapedPhone{Phone: ph, PageURL: pd.url})
			}
		}
		for _, platform := range sortedPlatforms(pd.social) {
			if socialSeen[platform] {
				continue
			}
			socialSeen[platform] = true
			u := pd.social[platform]
			res.Artifacts.Social = append(res.Artifacts.Social, model.SocialProfile{
				Platform: platform,
				URL:      u,
				Username: extract.SocialUsername(u),
			})
		}
		for _, tech := range pd.techs {
			key := tech.Category + "/" + tech.Name
			if i, ok := techIdx[key]; ok {
				if res.Artifacts.Technologies[i].Version == "" {
					res.Artifacts.Technologies[i].Version = tech.Version
				}
				continue
			}
			techIdx[key] = len(res.Artifacts.Technologies)
			res.Artifacts.Technologies = append(res.Artifacts.Technologies, tech)
		}
		for _, img := range pd.images {
			if !imageSeen[img.URL] {
				imageSeen[img.URL] = true
				res.Artifacts.Images = append(res.Artifacts.Images, img)
			}
		}
		for _, p := range pd.people {
			people.add(p)
		}
		if pd.responsible != "" {
			if votes[pd.responsible] == 0 {
				voteOrder = append(voteOrder, pd.responsible)
			}
			votes[pd.responsible]++
		}
		if res.Metadata.FoundedYear == nil && pd.founded != nil {
			res.Metadata.FoundedYear = pd.founded
		}
		if res.Metadata.ContactPage == "" && pd.contact != "" {
			res.Metadata.ContactPage = pd.contact
		}
		if text.Len() < textBudget {
			text.WriteString(pd.text)
			text.WriteByte(' ')
		}
	}

	for _, e := range res.Artifacts.Emails {
		people.addEmail(e.Email, e.PageURL)
	}
	for _, sp := range res.Artifacts.Social {
		if sp.Platform == "linkedin" && strings.Contains(sp.URL, "/in/") {
			people.linkLinkedIn(sp.URL)
		}
	}
	res.Artifacts.People = people.list

	siteText := text.String()
	res.Metadata.Responsible = mostVoted(votes, voteOrder)
	res.Metadata.Sector = s.taxonomy.Sector(t.Category, siteText, home)
	res.Metadata.Size = s.taxonomy.CompanySize(siteText, t.Category)
	sortTechnologies(res.Artifacts.Technologies)

	res.Counters = model.Counters{
		Emails:          len(res.Artifacts.Emails),
		People:          len(res.Artifacts.People),
		Phones:          len(res.Artifacts.Phones),
		SocialPlatforms: len(res.Artifacts.Social),
		Technologies:    len(res.Artifacts.Technologies),
		Metadata:        res.Metadata.Fields(),
		Images:          len(res.Artifacts.Images),
	}
	res.Resume = s.resume(t, res, siteText)
	return res
}

func sortedPlatforms(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortTechnologies(techs []model.Technology) {
	sort.SliceStable(techs, func(i, j int) bool {
		if techs[i].Category != techs[j].Category {
			return techs[i].Category < techs[j].Category
		}
		return techs[i].Name < techs[j].Name
	})
}

func mostVoted(votes map[string]int, order []string) string {
	best, n := "", 0
	for _, name := range order {
		if votes[name] > n {
			best, n = name, votes[name]
		}
	}
	return best
}

// people merges person mentions by case-insensitive name.
type people struct {
	list  []model.ScrapedPerson
	index map[string]int
}

func newPeople() *people {
	return &people{index: make(map[string]int)}
}

func (ps *people) add(p model.ScrapedPerson) {
	key := strings.ToLower(p.Name)
	if i, ok := ps.index[key]; ok {
		cur := &ps.list[i]
		if cur.Title == "" {
			cur.Title = p.Title
		}
		if cur.Email == "" {
			cur.Email = p.Email
		}
		return
	}
	ps.index[key] = len(ps.list)
	ps.list = append(ps.list, p)
}

func (ps *people) addEmail(email, pageURL string) {
	name := extract.NameFromEmail(email)
	if name == "" {
		return
	}
	ps.add(model.ScrapedPerson{Name: name, Email: email, PageURL: pageURL})
}

// linkLinkedIn attaches a LinkedIn profile to the person whose name
// matches its slug.
func (ps *people) linkLinkedIn(profile string) {
	slug := strings.ToLower(extract.SocialUsername(profile))
	if slug == "" {
		return
	}
	for i := range ps.list {
		p := &ps.list[i]
		if p.LinkedInURL != "" {
			continue
		}
		if strings.HasPrefix(slug, nameSlug(p.Name)) {
			p.LinkedInURL = profile
			return
		}
	}
}

func nameSlug(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "-"))
}

// tally keeps running distinct counts for progress events.
type tally struct {
	emails, phones, social, techs, people, images map[string]struct{}
}

func newTally() *tally {
	return &tally{
		emails: map[string]struct{}{},
		phones: map[string]struct{}{},
		social: map[string]struct{}{},
		techs:  map[string]struct{}{},
		people: map[string]struct{}{},
		images: map[string]struct{}{},
	}
}

func (t *tally) add(pd pageData) {
	for _, e := range pd.emails {
		t.emails[e] = struct{}{}
	}
	for _, p := range pd.phones {
		t.phones[p] = struct{}{}
	}
	for k := range pd.social {
		t.social[k] = struct{}{}
	}
	for _, tech := range pd.techs {
		t.techs[tech.Category+"/"+tech.Name] = struct{}{}
	}
	for _, p := range pd.people {
		t.people[strings.ToLower(p.Name)] = struct{}{}
	}
	for _, img := range pd.images {
		t.images[img.URL] = struct{}{}
	}
}

func (t *tally) counters() model.Counters {
	return model.Counters{
		Emails:          len(t.emails),
		People:          len(t.people),
		Phones:          len(t.phones),
		SocialPlatforms: len(t.social),
		Technologies:    len(t.techs),
		Images:          len(t.images),
	}
}

// Save persists a unified run, then copies the resume and site imagery
// onto the company and links the people found to its person records.
func Save(ctx context.Context, st store.Store, companyID int64, res *Result) (int64, error) {
	return SaveKind(ctx, st, companyID, res, model.ScraperUnified)
}

// SaveKind persists the part of res that a scraper of the given kind
// collects. Only unified runs update the company record.
func SaveKind(ctx context.Context, st store.Store, companyID int64, res *Result, kind model.ScraperKind) (int64, error) {
	if !kind.Valid() {
		return 0, eris.Errorf("scrape: unknown scraper kind %q", kind)
	}
	in := store.ScraperSave{
		CompanyID:   companyID,
		URL:         res.URL,
		Kind:        kind,
		VisitedURLs: len(res.Visited),
		Counters:    res.Counters,
		Duration:    res.Duration.Seconds(),
		Resume:      res.Resume,
		Metadata:    res.Metadata,
		Artifacts:   res.Artifacts,
	}
	switch kind {
	case model.ScraperEmails:
		in.Artifacts = model.Artifacts{Emails: res.Artifacts.Emails}
		in.Counters = model.Counters{Emails: res.Counters.Emails}
	case model.ScraperPhones:
		in.Artifacts = model.Artifacts{Phones: res.Artifacts.Phones}
		in.Counters = model.Counters{Phones: res.Counters.Phones}
	case model.ScraperSocial:
		in.Artifacts = model.Artifacts{Social: res.Artifacts.Social}
		in.Counters = model.Counters{SocialPlatforms: res.Counters.SocialPlatforms}
	case model.ScraperTechnologies:
		in.Artifacts = model.Artifacts{Technologies: res.Artifacts.Technologies}
		in.Counters = model.Counters{Technologies: res.Counters.Technologies}
	case model.ScraperPeople:
		in.Artifacts = model.Artifacts{People: res.Artifacts.People}
		in.Counters = model.Counters{People: res.Counters.People}
	case model.ScraperMetadata:
		in.Artifacts = model.Artifacts{Images: res.Artifacts.Images}
		in.Counters = model.Counters{Metadata: res.Counters.Metadata, Images: res.Counters.Images}
	}

	id, err := st.SaveScraper(ctx, in)
	if err != nil {
		return 0, eris.Wrap(err, "scrape: save run")
	}
	if kind != model.ScraperUnified && kind != model.ScraperGlobal {
		return id, nil
	}

	e := model.Enrichment{
		Summary: res.Resume,
		Logo:    res.Metadata.Logo,
		Favicon: res.Metadata.Favicon,
		OGImage: res.Metadata.OGImage,
	}
	if res.SiteAge != nil {
		score := res.SiteAge.Score
		e.SiteAgeScore = &score
	}
	if err := st.UpdateEnrichment(ctx, companyID, e); err != nil {
		return id, eris.Wrap(err, "scrape: update company")
	}
	if _, err := st.LinkScraperPeople(ctx, companyID); err != nil {
		return id, eris.Wrap(err, "scrape: link people")
	}
	return id, nil
}
