package probe

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Optional CLI tools used by the probes.
const (
	ToolDNSRecon   = "dnsrecon"
	ToolHarvester  = "theHarvester"
	ToolSublist3r  = "sublist3r"
	ToolAmass      = "amass"
	ToolWhatWeb    = "whatweb"
	ToolSSLScan    = "sslscan"
	ToolSherlock   = "sherlock"
	ToolMaigret    = "maigret"
	ToolNmap       = "nmap"
	ToolLighthouse = "lighthouse"
)

// KnownTools lists every optional tool in detection order.
func KnownTools() []string {
	return []string{
		ToolDNSRecon, ToolHarvester, ToolSublist3r, ToolAmass, ToolWhatWeb,
		ToolSSLScan, ToolSherlock, ToolMaigret, ToolNmap, ToolLighthouse,
	}
}

// Capabilities is the set of tools found at startup. A nil *Capabilities
// has no tools.
type Capabilities struct {
	avail map[string]bool
}

// NewCapabilities builds a set from explicit availability flags.
func NewCapabilities(avail map[string]bool) *Capabilities {
	c := &Capabilities{avail: make(map[string]bool, len(avail))}
	for k, v := range avail {
		c.avail[k] = v
	}
	return c
}

// DetectCapabilities probes every known tool concurrently through r.
// Tools named in disabled are reported unavailable without a lookup.
func DetectCapabilities(ctx context.Context, r Runner, disabled []string) *Capabilities {
	off := make(map[string]bool, len(disabled))
	for _, d := range disabled {
		off[strings.ToLower(strings.TrimSpace(d))] = true
	}

	tools := KnownTools()
	found := make([]bool, len(tools))
	var wg sync.WaitGroup
	for i, name := range tools {
		if off[strings.ToLower(name)] {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			found[i] = r.LookPath(ctx, name)
		}()
	}
	wg.Wait()

	c := &Capabilities{avail: make(map[string]bool, len(tools))}
	for i, name := range tools {
		c.avail[name] = found[i]
	}
	zap.L().Info("probe: tool capabilities", zap.Strings("available", c.Available()))
	return c
}

// Has reports whether tool is usable.
func (c *Capabilities) Has(tool string) bool {
	return c != nil && c.avail[tool]
}

// Available returns the usable tools, sorted.
func (c *Capabilities) Available() []string {
	if c == nil {
		return nil
	}
	var out []string
	for name, ok := range c.avail {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the availability of the named tools, as recorded in a
// probe diagnostic.
func (c *Capabilities) Snapshot(tools ...string) map[string]bool {
	out := make(map[string]bool, len(tools))
	for _, t := range tools {
		out[t] = c.Has(t)
	}
	return out
}
