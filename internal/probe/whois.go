package probe

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

// WhoisClient looks up domain registration data.
type WhoisClient interface {
	Lookup(ctx context.Context, domain string) (*model.WhoisInfo, error)
}

// NetWhois speaks the WHOIS protocol on port 43. It asks the root server
// which registry serves the TLD, then follows at most one registrar
// referral.
type NetWhois struct {
	// Root is the referral server. Empty means whois.iana.org.
	Root    string
	Timeout time.Duration
	// Dial overrides the TCP dialer, mainly for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

const maxWhoisResponse = 256 << 10

func (w *NetWhois) Lookup(ctx context.Context, domain string) (*model.WhoisInfo, error) {
	domain = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	if domain == "" {
		return nil, eris.New("whois: empty domain")
	}
	root := w.Root
	if root == "" {
		root = "whois.iana.org"
	}

	tld := domain[strings.LastIndexByte(domain, '.')+1:]
	iana, err := w.query(ctx, root, tld)
	if err != nil {
		return nil, err
	}
	server := referral(iana, "refer", "whois")
	if server == "" {
		return nil, eris.Errorf("whois: no registry for .%s", tld)
	}

	text, err := w.query(ctx, server, domain)
	if err != nil {
		return nil, err
	}
	if next := referral(text, "registrar whois server"); next != "" && !strings.EqualFold(next, server) {
		if more, err := w.query(ctx, next, domain); err == nil {
			text = more + "\n" + text
		}
	}

	info := ParseWhois(text)
	if info == nil {
		return nil, eris.Errorf("whois: no data for %s", domain)
	}
	return info, nil
}

func (w *NetWhois) query(ctx context.Context, server, q string) (string, error) {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := w.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	addr := server
	if _, _, err := net.SplitHostPort(server); err != nil {
		addr = net.JoinHostPort(server, "43")
	}
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return "", eris.Wrapf(err, "whois: dial %s", server)
	}
	defer conn.Close() //nolint:errcheck

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	if _, err := io.WriteString(conn, q+"\r\n"); err != nil {
		return "", eris.Wrapf(err, "whois: write %s", server)
	}
	body, err := io.ReadAll(io.LimitReader(conn, maxWhoisResponse))
	if err != nil && len(body) == 0 {
		return "", eris.Wrapf(err, "whois: read %s", server)
	}
	return string(body), nil
}

// referral returns the first value of the named keys.
func referral(text string, keys ...string) string {
	for _, kv := range whoisPairs(text) {
		for _, k := range keys {
			if kv[0] == k && kv[1] != "" {
				v := strings.TrimPrefix(strings.TrimPrefix(kv[1], "whois://"), "rwhois://")
				return strings.TrimSuffix(v, "/")
			}
		}
	}
	return ""
}

var whoisFields = map[string]string{
	"registrar":                              "registrar",
	"registrar name":                         "registrar",
	"sponsoring registrar":                   "registrar",
	"creation date":                          "created",
	"created":                                "created",
	"created on":                             "created",
	"registered on":                          "created",
	"registration time":                      "created",
	"registry expiry date":                   "expires",
	"registrar registration expiration date": "expires",
	"expiry date":                            "expires",
	"expiration date":                        "expires",
	"expires":                                "expires",
	"paid-till":                              "expires",
	"updated date":                           "updated",
	"last-update":                            "updated",
	"last updated":                           "updated",
	"changed":                                "updated",
	"name server":                            "ns",
	"nserver":                                "ns",
	"nameserver":                             "ns",
	"registrant organization":                "registrant",
	"registrant":                             "registrant",
	"registrant name":                        "registrant",
	"org":                                    "registrant",
	"registrant country":                     "country",
	"country":                                "country",
}

// ParseWhois extracts registration fields from a WHOIS response. The
// first occurrence of each field wins. It returns nil when nothing was
// recognized.
func ParseWhois(text string) *model.WhoisInfo {
	var (
		info  model.WhoisInfo
		found bool
		seen  = map[string]bool{}
	)
	for _, kv := range whoisPairs(text) {
		field, ok := whoisFields[kv[0]]
		if !ok || kv[1] == "" {
			continue
		}
		found = true
		switch field {
		case "ns":
			ns := strings.ToLower(strings.TrimSuffix(strings.Fields(kv[1])[0], "."))
			if !seen[ns] {
				seen[ns] = true
				info.NameServers = append(info.NameServers, ns)
			}
		case "registrar":
			setOnce(&info.Registrar, kv[1])
		case "created":
			setOnce(&info.Created, kv[1])
		case "expires":
			setOnce(&info.Expires, kv[1])
		case "updated":
			setOnce(&info.Updated, kv[1])
		case "registrant":
			setOnce(&info.Registrant, kv[1])
		case "country":
			setOnce(&info.Country, strings.ToUpper(kv[1]))
		}
	}
	if !found {
		return nil
	}
	return &info
}

// whoisPairs splits a response into lowercased key / trimmed value pairs,
// skipping comments.
func whoisPairs(text string) [][2]string {
	var out [][2]string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64<<10), maxWhoisResponse)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '%' || line[0] == '#' || strings.HasPrefix(line, ">>>") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out = append(out, [2]string{strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)})
	}
	return out
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
