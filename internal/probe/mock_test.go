package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/prospect-intel/internal/fetcher/fetchertest"
	"github.com/sells-group/prospect-intel/internal/model"
)

// mockRunner answers tool invocations from canned output keyed by tool
// name, or by "tool arg1 arg2..." when a specific command line matters.
type mockRunner struct {
	installed map[string]bool
	outputs   map[string]string
	errs      map[string]error

	mu    sync.Mutex
	calls []string
}

func (m *mockRunner) LookPath(_ context.Context, name string) bool {
	return m.installed[name]
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	m.mu.Lock()
	m.calls = append(m.calls, line)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, &ToolError{Tool: name, Timeout: true, Err: err}
	}
	if err, ok := m.errs[line]; ok {
		return nil, err
	}
	if err, ok := m.errs[name]; ok {
		return nil, err
	}
	if out, ok := m.outputs[line]; ok {
		return []byte(out), nil
	}
	return []byte(m.outputs[name]), nil
}

func (m *mockRunner) called(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// mockResolver serves fixed DNS answers. Missing entries fail like an
// NXDOMAIN.
type mockResolver struct {
	ips   map[string][]string
	ptr   map[string][]string
	mx    map[string][]string
	ns    map[string][]string
	txt   map[string][]string
	cname map[string]string
}

func notFound(name string) error {
	return &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (m *mockResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if ips, ok := m.ips[host]; ok {
		return ips, nil
	}
	return nil, notFound(host)
}

func (m *mockResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := m.ips[host]
	if !ok {
		return nil, notFound(host)
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func (m *mockResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	if names, ok := m.ptr[addr]; ok {
		return names, nil
	}
	return nil, notFound(addr)
}

func (m *mockResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	hosts, ok := m.mx[name]
	if !ok {
		return nil, notFound(name)
	}
	out := make([]*net.MX, 0, len(hosts))
	for i, h := range hosts {
		out = append(out, &net.MX{Host: h + ".", Pref: uint16(10 * (i + 1))})
	}
	return out, nil
}

func (m *mockResolver) LookupNS(_ context.Context, name string) ([]*net.NS, error) {
	hosts, ok := m.ns[name]
	if !ok {
		return nil, notFound(name)
	}
	out := make([]*net.NS, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, &net.NS{Host: h + "."})
	}
	return out, nil
}

func (m *mockResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if txt, ok := m.txt[name]; ok {
		return txt, nil
	}
	return nil, notFound(name)
}

func (m *mockResolver) LookupCNAME(_ context.Context, host string) (string, error) {
	if c, ok := m.cname[host]; ok {
		return c + ".", nil
	}
	return host + ".", nil
}

type mockWhois struct {
	info *model.WhoisInfo
	err  error
	got  []string
}

func (m *mockWhois) Lookup(_ context.Context, domain string) (*model.WhoisInfo, error) {
	m.got = append(m.got, domain)
	return m.info, m.err
}

type mockCerts struct {
	info *model.SSLInfo
	err  error
}

func (m *mockCerts) Inspect(context.Context, string) (*model.SSLInfo, error) {
	if m.info == nil && m.err == nil {
		return nil, errors.New("connection refused")
	}
	return m.info, m.err
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestProber wires a Prober to in-memory collaborators. Fields left nil
// get inert defaults.
func newTestProber(f *fetchertest.Fake, d Deps) *Prober {
	d.Fetcher = f
	if d.Runner == nil {
		d.Runner = &mockRunner{}
	}
	if d.Resolver == nil {
		d.Resolver = &mockResolver{}
	}
	if d.Whois == nil {
		d.Whois = &mockWhois{err: errors.New("whois unavailable")}
	}
	if d.Certs == nil {
		d.Certs = &mockCerts{}
	}
	d.Now = func() time.Time { return fixedNow }
	return New(d)
}

// collect records progress events.
type collect struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *collect) add(e model.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collect) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Message)
	}
	return out
}
