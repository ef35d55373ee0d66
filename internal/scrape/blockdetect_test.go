package scrape

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		header  http.Header
		body    string
		blocked bool
		want    BlockType
	}{
		{name: "cloudflare 403", status: 403, header: http.Header{"Cf-Ray": {"abc123"}}, blocked: true, want: BlockCloudflare},
		{name: "cloudflare 503 server", status: 503, header: http.Header{"Server": {"cloudflare"}}, blocked: true, want: BlockCloudflare},
		{name: "challenge page", status: 200, body: "<html>Checking your browser before accessing</html>", blocked: true, want: BlockCloudflare},
		{name: "captcha", status: 200, body: "<html><body>Please complete the reCAPTCHA to continue</body></html>", blocked: true, want: BlockCaptcha},
		{name: "js shell", status: 200, body: "<html><noscript>Enable JavaScript to continue</noscript></html>", blocked: true, want: BlockJSShell},
		{name: "meta refresh", status: 200, body: `<html><meta http-equiv="refresh" content="0;url=/x"></html>`, blocked: true, want: BlockJSShell},
		{name: "normal page", status: 200, body: "<html><body><h1>Boulangerie Martin</h1></body></html>"},
		{name: "403 without markers", status: 403, header: http.Header{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			blocked, bt := DetectBlock(tt.status, h, []byte(tt.body))
			assert.Equal(t, tt.blocked, blocked)
			assert.Equal(t, tt.want, bt)
		})
	}
}

func TestDetectBlock_LargePageWithCaptchaForm(t *testing.T) {
	t.Parallel()

	body := "<html><body>" + strings.Repeat("<p>Nos services de plomberie.</p>", 200) +
		`<form><div class="g-recaptcha"></div></form></body></html>`
	blocked, _ := DetectBlock(200, http.Header{}, []byte(body))
	assert.False(t, blocked)
}
