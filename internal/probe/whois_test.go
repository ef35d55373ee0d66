package probe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const afnicResponse = `%%
%% This is the AFNIC Whois server.
%%

domain:                        acme.fr
status:                        ACTIVE
registrar:                     OVH
Expiry Date:                   2025-03-14T10:00:00Z
created:                       2004-03-14T10:00:00Z
last-update:                   2024-02-20T08:12:44Z
nserver:                       dns10.ovh.net
nserver:                       ns10.ovh.net
nserver:                       DNS10.OVH.NET.

registrar:                     Should Not Win
country:                       fr
`

func TestParseWhois(t *testing.T) {
	info := ParseWhois(afnicResponse)
	require.NotNil(t, info)
	assert.Equal(t, "OVH", info.Registrar)
	assert.Equal(t, "2004-03-14T10:00:00Z", info.Created)
	assert.Equal(t, "2025-03-14T10:00:00Z", info.Expires)
	assert.Equal(t, "2024-02-20T08:12:44Z", info.Updated)
	assert.Equal(t, []string{"dns10.ovh.net", "ns10.ovh.net"}, info.NameServers)
	assert.Equal(t, "FR", info.Country)
}

func TestParseWhois_NothingRecognized(t *testing.T) {
	assert.Nil(t, ParseWhois("% No entries found for the selected source(s).\n"))
}

// whoisServers fakes port-43 servers keyed by host.
type whoisServers struct {
	mu      sync.Mutex
	replies map[string]string
	queries []string
}

func (w *whoisServers) dial(_ context.Context, _, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	reply, ok := w.replies[host]
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", addr)
	}
	client, server := net.Pipe()
	go func() {
		defer server.Close() //nolint:errcheck
		line, _ := bufio.NewReader(server).ReadString('\n')
		w.mu.Lock()
		w.queries = append(w.queries, host+" "+strings.TrimSpace(line))
		w.mu.Unlock()
		_, _ = io.WriteString(server, reply)
	}()
	return client, nil
}

func TestNetWhois_FollowsReferrals(t *testing.T) {
	srv := &whoisServers{replies: map[string]string{
		"whois.iana.org": "domain:       COM\nrefer:        whois.verisign-grs.com\n",
		"whois.verisign-grs.com": "   Domain Name: EXAMPLE.COM\n" +
			"   Registrar WHOIS Server: whois.registrar.test\n" +
			"   Registrar: Thin Registry Name\n" +
			"   Creation Date: 1995-08-14T04:00:00Z\n" +
			"   Name Server: A.IANA-SERVERS.NET\n",
		"whois.registrar.test": "Registrar: Example Registrar, Inc.\nRegistrant Organization: Example Corp\n",
	}}
	w := &NetWhois{Dial: srv.dial}

	info, err := w.Lookup(context.Background(), "Example.com.")
	require.NoError(t, err)
	assert.Equal(t, "Example Registrar, Inc.", info.Registrar)
	assert.Equal(t, "Example Corp", info.Registrant)
	assert.Equal(t, "1995-08-14T04:00:00Z", info.Created)
	assert.Equal(t, []string{"a.iana-servers.net"}, info.NameServers)
	assert.Equal(t, []string{
		"whois.iana.org com",
		"whois.verisign-grs.com example.com",
		"whois.registrar.test example.com",
	}, srv.queries)
}

func TestNetWhois_Errors(t *testing.T) {
	t.Run("empty domain", func(t *testing.T) {
		_, err := (&NetWhois{}).Lookup(context.Background(), " ")
		assert.Error(t, err)
	})
	t.Run("no registry", func(t *testing.T) {
		srv := &whoisServers{replies: map[string]string{"whois.iana.org": "% no referral\n"}}
		_, err := (&NetWhois{Dial: srv.dial}).Lookup(context.Background(), "acme.zz")
		assert.ErrorContains(t, err, "no registry")
	})
	t.Run("registry down", func(t *testing.T) {
		srv := &whoisServers{replies: map[string]string{"whois.iana.org": "refer: whois.nic.fr\n"}}
		_, err := (&NetWhois{Dial: srv.dial}).Lookup(context.Background(), "acme.fr")
		assert.ErrorContains(t, err, "connection refused")
	})
}
