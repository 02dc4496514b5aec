package cf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoBypassData is returned when nothing is stored for a domain.
var ErrNoBypassData = errors.New("no cf data stored for domain")

// BypassStore persists imported bypass data as one JSON file per domain.
type BypassStore struct {
	Dir    string
	MaxAge time.Duration // zero disables the age check
}

// NewBypassStore returns a store rooted at dir.
func NewBypassStore(dir string, maxAge time.Duration) *BypassStore {
	return &BypassStore{Dir: dir, MaxAge: maxAge}
}

func (s *BypassStore) path(domain string) string {
	return filepath.Join(s.Dir, domain+".json")
}

// ParseCfClearanceCookie parses a raw "cf_clearance=...; Path=/; ..." string
func ParseCfClearanceCookie(raw string) (*CfClearanceCookie, error) {
	if raw == "" {
		return nil, fmt.Errorf("cfClearance string is empty")
	}

	parts := strings.Split(raw, ";")
	first := strings.TrimSpace(parts[0])
	if !strings.HasPrefix(first, "cf_clearance=") {
		logCF("ParseCfClearanceCookie: invalid format, missing cf_clearance= prefix")
		return nil, fmt.Errorf("invalid cf_clearance format")
	}
	cookie := &CfClearanceCookie{
		Name:  "cf_clearance",
		Value: strings.TrimPrefix(first, "cf_clearance="),
	}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		key, value, _ := strings.Cut(part, "=")
		switch strings.ToLower(key) {
		case "httponly":
			cookie.HttpOnly = true
		case "secure":
			cookie.Secure = true
		case "path":
			cookie.Path = value
		case "domain":
			cookie.Domain = value
		case "samesite":
			cookie.SameSite = value
		case "expires":
			if t, err := time.Parse(time.RFC1123, value); err == nil {
				cookie.Expires = &t
			} else {
				logCF("ParseCfClearanceCookie: bad Expires %q: %v", value, err)
			}
		}
	}
	return cookie, nil
}

// ParseCapturedData parses exported capture JSON into BypassData
func ParseCapturedData(jsonData string) (*BypassData, error) {
	var data BypassData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if data.Domain == "" {
		return nil, fmt.Errorf("domain is empty")
	}

	rawCF := data.Headers["cfClearance"]
	if rawCF == "" {
		rawCF = data.CfClearance
	}
	if rawCF != "" && data.CfClearanceStruct == nil {
		if strings.HasPrefix(rawCF, "cf_clearance=") {
			cookie, err := ParseCfClearanceCookie(rawCF)
			if err != nil {
				logCF("ParseCapturedData: failed to parse cfClearance: %v", err)
			} else {
				data.CfClearanceStruct = cookie
				data.CfClearance = cookie.Value
			}
		} else {
			data.CfClearanceStruct = &CfClearanceCookie{Name: "cf_clearance", Value: rawCF, Domain: data.Domain}
		}
	}

	data.Type = data.DetermineProtectionType()
	if data.Type == ProtectionNone {
		return nil, fmt.Errorf("no valid bypass data found (no cookies or turnstile tokens)")
	}
	if data.CapturedAt == "" {
		data.CapturedAt = time.Now().Format(time.RFC3339)
	}
	if data.Headers == nil {
		data.Headers = map[string]string{}
	}

	logCF("ParseCapturedData: domain=%s type=%s cookies=%d", data.Domain, data.Type, len(data.AllCookies))
	return &data, nil
}

// Save writes the captured data for its domain
func (s *BypassStore) Save(data *BypassData) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := os.WriteFile(s.path(data.Domain), jsonData, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	logCF("Save: stored %d bytes for domain=%s", len(jsonData), data.Domain)
	return nil
}

// Load reads and validates the stored data for a domain
func (s *BypassStore) Load(domain string) (*BypassData, error) {
	jsonData, err := os.ReadFile(s.path(domain))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoBypassData, domain)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var data BypassData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := s.Validate(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Validate checks if stored cookie data is still usable
func (s *BypassStore) Validate(data *BypassData) error {
	if data == nil {
		return fmt.Errorf("bypass data is nil")
	}
	if data.Type != ProtectionCookie {
		return fmt.Errorf("protection type %q cannot be replayed", data.Type)
	}
	if s.MaxAge > 0 && data.IsExpired(s.MaxAge) {
		return fmt.Errorf("bypass data for %s is older than %v", data.Domain, s.MaxAge)
	}
	if c := data.CfClearanceStruct; c != nil && c.Expires != nil && time.Now().After(*c.Expires) {
		return fmt.Errorf("cf_clearance cookie expired at %v", c.Expires.Format(time.RFC3339))
	}

	// a cookie that just failed needs a fresh capture, not a retry
	if failedAt, ok := data.Headers["_failed_at"]; ok {
		if t, err := time.Parse(time.RFC3339, failedAt); err == nil && time.Since(t) < 5*time.Minute {
			return fmt.Errorf("cookie failed %v ago, needs manual re-capture", time.Since(t).Round(time.Second))
		}
	}
	return nil
}

// MarkFailed stamps the stored data so Load rejects it for a while
func (s *BypassStore) MarkFailed(domain string) error {
	jsonData, err := os.ReadFile(s.path(domain))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNoBypassData, domain)
	}
	var data BypassData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	if data.Headers == nil {
		data.Headers = map[string]string{}
	}
	data.Headers["_failed_at"] = time.Now().Format(time.RFC3339)
	logCF("MarkFailed: domain=%s", domain)
	return s.Save(&data)
}

// List returns all domains that have stored data, sorted
func (s *BypassStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	domains := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			domains = append(domains, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	sort.Strings(domains)
	return domains, nil
}

// Delete removes stored data for a domain
func (s *BypassStore) Delete(domain string) error {
	if err := os.Remove(s.path(domain)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoBypassData, domain)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	logCF("Delete: removed data for domain=%s", domain)
	return nil
}
