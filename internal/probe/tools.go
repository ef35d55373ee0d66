package probe

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Parsers for the output of the optional CLI tools. Each tolerates noise
// and partial output.

var (
	nmapPortRe = regexp.MustCompile(`^(\d+)/(tcp|udp)\s+(open|filtered|open\|filtered)\s+(\S+)\s*(.*)$`)
	nmapOSRe   = regexp.MustCompile(`^(?:OS details|Running|Aggressive OS guesses):\s*(.+)$`)
)

// ParseNmap extracts open ports and the OS guess from nmap's normal output.
func ParseNmap(out string) ([]model.Port, string) {
	var (
		ports   []model.Port
		osGuess string
	)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if m := nmapPortRe.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			ports = append(ports, model.Port{
				Port:     n,
				Protocol: m[2],
				State:    m[3],
				Service:  m[4],
				Version:  strings.TrimSpace(m[5]),
			})
			continue
		}
		if m := nmapOSRe.FindStringSubmatch(line); m != nil && osGuess == "" {
			osGuess = strings.TrimSpace(strings.Split(m[1], ",")[0])
		}
	}
	return ports, osGuess
}

// ParseSubdomains returns the distinct hosts under domain mentioned in
// tool output, sorted.
func ParseSubdomains(out, domain string) []string {
	domain = strings.ToLower(domain)
	re := regexp.MustCompile(`(?i)\b((?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+` + regexp.QuoteMeta(domain) + `)\b`)
	seen := map[string]bool{}
	for _, m := range re.FindAllStringSubmatchIndex(out, -1) {
		// "a.example.com.cdn.net" belongs to another domain.
		if end := m[3]; end+1 < len(out) && out[end] == '.' && isHostByte(out[end+1]) {
			continue
		}
		host := strings.ToLower(out[m[2]:m[3]])
		if host != domain {
			seen[host] = true
		}
	}
	subs := make([]string, 0, len(seen))
	for h := range seen {
		subs = append(subs, h)
	}
	sort.Strings(subs)
	return subs
}

func isHostByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-'
}

var harvestEmailRe = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)

// ParseHarvestedEmails returns the lowercased addresses on domain (or one
// of its subdomains) found in tool output, sorted.
func ParseHarvestedEmails(out, domain string) []string {
	domain = strings.ToLower(domain)
	seen := map[string]bool{}
	var emails []string
	for _, e := range harvestEmailRe.FindAllString(out, -1) {
		e = strings.ToLower(e)
		host := e[strings.LastIndexByte(e, '@')+1:]
		if host != domain && !strings.HasSuffix(host, "."+domain) {
			continue
		}
		if !seen[e] {
			seen[e] = true
			emails = append(emails, e)
		}
	}
	sort.Strings(emails)
	return emails
}

// linkedInLineRe matches "Name - Title - https://..." lines.
var linkedInLineRe = regexp.MustCompile(`([A-Z][\p{L}'-]+(?:\s+[A-Z][\p{L}'-]+)+)\s+-\s+([^-\n]+?)\s+-\s+(https?://\S*linkedin\.com/\S+)`)

// ParseLinkedInPeople extracts people from LinkedIn harvest output.
func ParseLinkedInPeople(out string) []model.OSINTPerson {
	var people []model.OSINTPerson
	seen := map[string]bool{}
	for _, m := range linkedInLineRe.FindAllStringSubmatch(out, -1) {
		key := strings.ToLower(m[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		people = append(people, model.OSINTPerson{
			Name:        strings.TrimSpace(m[1]),
			Title:       strings.TrimSpace(m[2]),
			LinkedInURL: strings.TrimSpace(m[3]),
			Source:      "linkedin",
		})
	}
	return people
}

var profileURLRe = regexp.MustCompile(`https?://[^\s"'<>]+`)

// ParseProfileURLs returns the profile URLs reported by a username
// search tool such as sherlock.
func ParseProfileURLs(out string) []string {
	var urls []string
	seen := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "[+]") && !strings.Contains(line, "Found") {
			continue
		}
		if u := profileURLRe.FindString(line); u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

type lighthouseReport struct {
	Categories map[string]struct {
		Score *float64 `json:"score"`
	} `json:"categories"`
}

// ParseLighthouse reads the SEO and performance category scores of a
// Lighthouse JSON report.
func ParseLighthouse(out []byte) (*model.LighthouseScores, error) {
	var r lighthouseReport
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, eris.Wrap(err, "probe: parse lighthouse report")
	}
	scores := &model.LighthouseScores{
		SEO:         r.Categories["seo"].Score,
		Performance: r.Categories["performance"].Score,
	}
	if scores.SEO == nil && scores.Performance == nil {
		return nil, eris.New("probe: lighthouse report has no scores")
	}
	return scores, nil
}
