package cf

import (
	"net"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/net/publicsuffix"
)

// SessionStore caches harvested cookie sets per registrable domain.
// Entries expire after the configured TTL so a stale clearance is
// re-harvested rather than replayed forever. Imported bypass data acts as
// a fallback when nothing fresh is cached.
type SessionStore struct {
	cache  *cache.Cache
	bypass *BypassStore
}

type session struct {
	cookies   map[string]string
	userAgent string
}

// NewSessionStore creates a store with the given TTL. bypass may be nil.
func NewSessionStore(ttl time.Duration, bypass *BypassStore) *SessionStore {
	return &SessionStore{
		cache:  cache.New(ttl, ttl/2+time.Second),
		bypass: bypass,
	}
}

// NormalizeDomain reduces a host (or host:port) to its registrable domain
// so "www.toonily.com" and "toonily.com" share cookies. IPs and hosts
// without a public suffix are returned lowercased.
func NormalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if net.ParseIP(host) != nil {
		return host
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// Get returns the cookies for a domain, consulting imported bypass data
// when the cache has nothing.
func (s *SessionStore) Get(domain string) (map[string]string, bool) {
	domain = NormalizeDomain(domain)
	if v, ok := s.cache.Get(domain); ok {
		return copyCookies(v.(session).cookies), true
	}
	if s.bypass == nil {
		return nil, false
	}
	data, err := s.bypass.Load(domain)
	if err != nil {
		logCF("SessionStore: no usable bypass data for %s: %v", domain, err)
		return nil, false
	}
	cookies := data.CookieMap()
	if len(cookies) == 0 {
		return nil, false
	}
	s.cache.SetDefault(domain, session{cookies: cookies, userAgent: data.Entropy.UserAgent})
	return copyCookies(cookies), true
}

// UserAgent returns the user agent the cookies were issued to, if known.
// Clearance cookies are bound to it.
func (s *SessionStore) UserAgent(domain string) string {
	if v, ok := s.cache.Get(NormalizeDomain(domain)); ok {
		return v.(session).userAgent
	}
	return ""
}

// Put stores a cookie set with the default TTL.
func (s *SessionStore) Put(domain string, cookies map[string]string, userAgent string) {
	if len(cookies) == 0 {
		return
	}
	domain = NormalizeDomain(domain)
	s.cache.SetDefault(domain, session{cookies: copyCookies(cookies), userAgent: userAgent})
	logCF("SessionStore: cached %d cookies for %s", len(cookies), domain)
}

// Invalidate drops the cached cookies for a domain, typically after the
// site answered them with a fresh challenge.
func (s *SessionStore) Invalidate(domain string) {
	domain = NormalizeDomain(domain)
	s.cache.Delete(domain)
	if s.bypass != nil {
		if err := s.bypass.MarkFailed(domain); err == nil {
			logCF("SessionStore: marked stored bypass data for %s as failed", domain)
		}
	}
}

func copyCookies(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
