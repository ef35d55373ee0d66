package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"math"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/publicsuffix"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Resolver is the subset of *net.Resolver used by the probes.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

var _ Resolver = (*net.Resolver)(nil)

// CertInspector reads the TLS certificate presented by a host.
type CertInspector interface {
	Inspect(ctx context.Context, host string) (*model.SSLInfo, error)
}

// TLSInspector dials host:443 and reports the leaf certificate. An
// untrusted certificate is still reported, with Valid false.
type TLSInspector struct {
	Timeout time.Duration
	Now     func() time.Time
	// Port overrides 443, mainly for tests.
	Port string
	// RootCAs overrides the system pool, mainly for tests.
	RootCAs *x509.CertPool
}

func (t *TLSInspector) Inspect(ctx context.Context, host string) (*model.SSLInfo, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	port := t.Port
	if port == "" {
		port = "443"
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	addr := net.JoinHostPort(host, port)

	dial := func(skipVerify bool) (*tls.ConnectionState, error) {
		d := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: timeout},
			Config: &tls.Config{
				ServerName:         host,
				RootCAs:            t.RootCAs,
				InsecureSkipVerify: skipVerify, //nolint:gosec
			},
		}
		dctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := d.DialContext(dctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		defer conn.Close() //nolint:errcheck
		cs := conn.(*tls.Conn).ConnectionState()
		return &cs, nil
	}

	cs, err := dial(false)
	if err == nil {
		return SSLFromState(cs, now()), nil
	}
	verifyErr := err
	if !isCertError(err) {
		return nil, eris.Wrapf(err, "probe: tls dial %s", addr)
	}
	cs, err = dial(true)
	if err != nil {
		return nil, eris.Wrapf(err, "probe: tls dial %s", addr)
	}
	info := SSLFromState(cs, now())
	info.Valid = false
	info.Error = verifyErr.Error()
	return info, nil
}

func isCertError(err error) bool {
	var (
		certErr *tls.CertificateVerificationError
		unkAuth x509.UnknownAuthorityError
		host    x509.HostnameError
		inval   x509.CertificateInvalidError
	)
	return errors.As(err, &certErr) || errors.As(err, &unkAuth) || errors.As(err, &host) || errors.As(err, &inval)
}

// SSLFromState describes the leaf certificate of a verified connection.
func SSLFromState(cs *tls.ConnectionState, now time.Time) *model.SSLInfo {
	if cs == nil || len(cs.PeerCertificates) == 0 {
		return nil
	}
	leaf := cs.PeerCertificates[0]
	days := int(math.Floor(leaf.NotAfter.Sub(now).Hours() / 24))
	return &model.SSLInfo{
		Valid:        now.After(leaf.NotBefore) && now.Before(leaf.NotAfter),
		Issuer:       certName(leaf.Issuer.Organization, leaf.Issuer.CommonName),
		Subject:      leaf.Subject.CommonName,
		NotBefore:    leaf.NotBefore.UTC(),
		NotAfter:     leaf.NotAfter.UTC(),
		DaysToExpiry: days,
		Protocol:     tls.VersionName(cs.Version),
	}
}

func certName(orgs []string, cn string) string {
	if len(orgs) > 0 && orgs[0] != "" {
		return orgs[0]
	}
	return cn
}

// Domain returns the bare host of rawURL without a leading "www.".
func Domain(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrapf(err, "probe: parse %q", rawURL)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", eris.Errorf("probe: no host in %q", rawURL)
	}
	return strings.TrimPrefix(host, "www."), nil
}

// registrable returns the registered domain of host (eTLD+1), or host.
func registrable(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	if reg, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return reg
	}
	return host
}

// hostingProviders maps reverse-DNS keywords to provider names.
var hostingProviders = []struct{ keyword, name string }{
	{"ovh", "OVH"},
	{"amazonaws", "AWS"},
	{"googleusercontent", "Google Cloud"},
	{"1e100.net", "Google Cloud"},
	{"azure", "Azure"},
	{"cloudapp.net", "Azure"},
	{"hetzner", "Hetzner"},
	{"your-server.de", "Hetzner"},
	{"scaleway", "Scaleway"},
	{"online.net", "Scaleway"},
	{"ionos", "IONOS"},
	{"1and1", "IONOS"},
	{"gandi", "Gandi"},
	{"infomaniak", "Infomaniak"},
	{"o2switch", "o2switch"},
	{"cloudflare", "Cloudflare"},
	{"digitalocean", "DigitalOcean"},
	{"linode", "Linode"},
}

// HostingFromPTR guesses the hosting provider from a reverse-DNS name.
func HostingFromPTR(ptr string) string {
	ptr = strings.ToLower(ptr)
	for _, h := range hostingProviders {
		if strings.Contains(ptr, h.keyword) {
			return h.name
		}
	}
	return ""
}
