package scrape

import (
	"bytes"
	"net/http"
)

// BlockType describes the kind of anti-bot wall a page put up.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// DetectBlock checks a fetched page for signs of anti-bot protection.
// Challenge pages are often served with a 200, so the body is checked
// regardless of status.
func DetectBlock(status int, header http.Header, body []byte) (bool, BlockType) {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("Cf-Ray") != "" || header.Get("Cf-Cache-Status") != "" {
			return true, BlockCloudflare
		}
		if bytes.EqualFold([]byte(header.Get("Server")), []byte("cloudflare")) {
			return true, BlockCloudflare
		}
	}

	lower := bytes.ToLower(body)
	if bytes.Contains(lower, []byte("checking your browser")) ||
		bytes.Contains(lower, []byte("cf-browser-verification")) ||
		bytes.Contains(lower, []byte("cloudflare")) && bytes.Contains(lower, []byte("challenge")) {
		return true, BlockCloudflare
	}

	// Only small pages: a contact form may legitimately embed a captcha.
	if len(body) < 4000 && (bytes.Contains(lower, []byte("captcha")) || bytes.Contains(lower, []byte("hcaptcha"))) {
		return true, BlockCaptcha
	}

	if len(body) < 2000 {
		if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
			return true, BlockJSShell
		}
		if bytes.Contains(lower, []byte(`http-equiv="refresh"`)) {
			return true, BlockJSShell
		}
	}
	return false, BlockNone
}
