package cf

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gocolly/colly"
)

type CfInfo struct {
	StatusCode int
	Reason     string
	Indicators []string

	RayID        string
	MetaRedirect string
	FormAction   string
	Turnstile    bool
	ServerHeader string
	IsBIC        bool // Browser Integrity Check
}

// Each of these alone marks a challenge page.
var strongIndicators = []struct{ needle, reason string }{
	{"cloudflare-browser-verification", "JS browser verification challenge"},
	{"challenge-form", "Cloudflare challenge form"},
	{"cf-chl-", "Cloudflare challenge token"},
	{"attention required", "Cloudflare BIC"},
	{"checking your browser", "Cloudflare browser check"},
	{"verify you are human", "Cloudflare human verification"},
	{"cf-turnstile", "Turnstile CAPTCHA"},
}

var (
	// real challenge pages carry the phrase in the title; comment
	// sections on ordinary chapter pages carry it in the body
	justAMomentRe  = regexp.MustCompile(`(?i)<title[^>]*>[^<]*just a moment[^<]*</title>`)
	formActionRe   = regexp.MustCompile(`<form[^>]+id="challenge-form"[^>]+action="([^"]+)"`)
	metaRedirectRe = regexp.MustCompile(`<meta[^>]+url=([^">]+)`)
)

// DetectBody runs the challenge heuristics over an already-read response.
// header may be nil, as it is for rendered browser documents.
func DetectBody(status int, header http.Header, body []byte) (bool, *CfInfo) {
	if header == nil {
		header = http.Header{}
	}
	lower := strings.ToLower(string(body))

	info := &CfInfo{
		StatusCode:   status,
		ServerHeader: header.Get("Server"),
		RayID:        header.Get("CF-Ray"),
	}
	LogCFResponse(status, len(body), header)

	match := false
	mark := func(reason string) {
		info.Indicators = append(info.Indicators, reason)
		match = true
		logCF("  Indicator: %s", reason)
	}

	switch status {
	case http.StatusForbidden:
		mark("403 Forbidden")
	case http.StatusServiceUnavailable:
		mark("503 Service Unavailable")
	}

	cfCookie := false
	for _, cookie := range header.Values("Set-Cookie") {
		if strings.Contains(cookie, "cf_clearance") {
			mark("New cf_clearance cookie in response")
			cfCookie = true
		}
	}

	strong := false
	for _, ind := range strongIndicators {
		if strings.Contains(lower, ind.needle) {
			mark(ind.reason)
			strong = true
		}
	}
	if justAMomentRe.MatchString(lower) {
		mark("Cloudflare challenge page")
		strong = true
	}

	// the challenge-platform script is embedded on ordinary CF-proxied
	// pages too, so it only counts next to a strong signal
	if strong && strings.Contains(lower, "/cdn-cgi/challenge-platform/") {
		info.Indicators = append(info.Indicators, "Cloudflare challenge JS")
	}

	// a 403/503 from something other than Cloudflare is an ordinary error
	if !strong && (status == http.StatusForbidden || status == http.StatusServiceUnavailable) &&
		!cfCookie && !strings.Contains(strings.ToLower(info.ServerHeader), "cloudflare") && info.RayID == "" {
		match = false
		logCF("  %d without Cloudflare markers, not a challenge", status)
	}

	info.IsBIC = strings.Contains(lower, "verify you are human")
	info.Turnstile = strings.Contains(lower, "cf-turnstile")
	if m := formActionRe.FindStringSubmatch(lower); len(m) > 1 {
		info.FormAction = m[1]
	}
	if m := metaRedirectRe.FindStringSubmatch(lower); len(m) > 1 {
		info.MetaRedirect = m[1]
	}

	if match {
		info.Reason = "Cloudflare anti-bot challenge detected"
		LogCFDetection(true, info)
		return true, info
	}
	LogCFDetection(false, nil)
	return false, nil
}

// DetectFromColly wraps DetectBody for colly responses
func DetectFromColly(r *colly.Response) (bool, *CfInfo) {
	if r == nil {
		return false, nil
	}
	var header http.Header
	if r.Headers != nil {
		header = *r.Headers
	}
	return DetectBody(r.StatusCode, header, r.Body)
}

// GetChallengeURL picks the URL a browser should open to face the
// challenge directly.
func GetChallengeURL(info *CfInfo, originalURL string) string {
	if info == nil {
		return originalURL
	}
	if info.MetaRedirect != "" {
		return info.MetaRedirect
	}
	if info.FormAction != "" {
		return info.FormAction
	}
	return originalURL
}
