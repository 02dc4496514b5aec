package cf

import (
	"net/http"
	"time"
)

// ProtectionType indicates which cf protection the captured data covers
type ProtectionType string

const (
	ProtectionNone      ProtectionType = "none"
	ProtectionCookie    ProtectionType = "cookie"    // cf_clearance based
	ProtectionTurnstile ProtectionType = "turnstile" // token only, cannot be replayed from the server
)

// Cookie is a browser cookie as exported by the capture extension
type Cookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	Secure         bool    `json:"secure"`
	HTTPOnly       bool    `json:"httpOnly"`
	SameSite       string  `json:"sameSite"`
	ExpirationDate float64 `json:"expirationDate"` // Unix timestamp
}

// Entropy is the subset of the browser fingerprint we replay
type Entropy struct {
	UserAgent string   `json:"userAgent"`
	Language  string   `json:"language"`
	Languages []string `json:"languages"`
	Platform  string   `json:"platform"`
}

// CfClearanceCookie represents a structured cf_clearance cookie
type CfClearanceCookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain,omitempty"`
	Path     string     `json:"path,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	HttpOnly bool       `json:"httpOnly"`
	Secure   bool       `json:"secure"`
	SameSite string     `json:"sameSite,omitempty"`
}

// BypassData is a captured browser session for one domain, imported by
// the operator and persisted under the data directory.
type BypassData struct {
	Type       ProtectionType `json:"type"`
	CapturedAt string         `json:"capturedAt"`
	URL        string         `json:"url"`
	Domain     string         `json:"domain"`

	Cookies    []Cookie `json:"cookies,omitempty"`
	AllCookies []Cookie `json:"allCookies,omitempty"`

	TurnstileToken    string            `json:"turnstileToken,omitempty"`
	TurnstileFormData map[string]string `json:"turnstileFormData,omitempty"`

	Entropy Entropy           `json:"entropy"`
	Headers map[string]string `json:"headers"`

	CfClearance       string             `json:"cfClearance,omitempty"`
	CfClearanceStruct *CfClearanceCookie `json:"cfClearanceStruct,omitempty"`
}

// IsExpired checks if the bypass data is older than maxAge
func (b *BypassData) IsExpired(maxAge time.Duration) bool {
	capturedTime, err := time.Parse(time.RFC3339, b.CapturedAt)
	if err != nil {
		return true
	}
	return time.Since(capturedTime) > maxAge
}

// HasCookies returns true if cookie-based bypass data exists
func (b *BypassData) HasCookies() bool {
	return len(b.AllCookies) > 0 || b.CfClearanceStruct != nil
}

// HasTurnstile returns true if Turnstile bypass data exists
func (b *BypassData) HasTurnstile() bool {
	return b.TurnstileToken != "" && len(b.TurnstileFormData) > 0
}

// DetermineProtectionType prefers cookies, they are the only form the
// fetch paths can replay.
func (b *BypassData) DetermineProtectionType() ProtectionType {
	if b.HasCookies() {
		return ProtectionCookie
	}
	if b.HasTurnstile() {
		return ProtectionTurnstile
	}
	return ProtectionNone
}

// CookieMap flattens the captured cookies into name=value pairs. An
// explicit cf_clearance struct wins over the copy in AllCookies.
func (b *BypassData) CookieMap() map[string]string {
	out := make(map[string]string, len(b.AllCookies)+1)
	now := time.Now()
	for _, c := range b.AllCookies {
		if c.ExpirationDate > 0 && now.After(time.Unix(int64(c.ExpirationDate), 0)) {
			continue
		}
		out[c.Name] = c.Value
	}
	if b.CfClearanceStruct != nil && b.CfClearanceStruct.Value != "" {
		out["cf_clearance"] = b.CfClearanceStruct.Value
	}
	return out
}

// ToHTTPCookies converts a name=value map into request cookies.
func ToHTTPCookies(cookies map[string]string) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	return out
}
