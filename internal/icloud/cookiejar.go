package icloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Jar is a persistent http.CookieJar. Unlike net/http/cookiejar it can
// round-trip its entries through a JSON file, which is what keeps a login
// valid across runs. Matching implements the subset of RFC 6265 the
// provider's two domains (icloud.com, apple.com) need: domain suffix match,
// path prefix match, Secure, and expiry.
//
// Session cookies (no Expires) are persisted too. The provider's web auth
// tokens arrive as session cookies and must survive process restarts.
type Jar struct {
	mu      sync.Mutex
	entries []cookieEntry
}

type cookieEntry struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
	HostOnly bool      `json:"host_only,omitempty"`
}

// NewJar returns an empty jar.
func NewJar() *Jar {
	return &Jar{}
}

// LoadJar reads a jar previously written by Save. A missing file is not an
// error: it returns an empty jar, supporting the first-run experience.
func LoadJar(path string) (*Jar, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewJar(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading cookie jar: %w", err)
	}

	var entries []cookieEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing cookie jar %s: %w", path, err)
	}

	return &Jar{entries: entries}, nil
}

// Save writes the jar atomically with owner-only permissions. Cookies are
// credentials; a torn write must never corrupt them and other users must
// not read them.
func (j *Jar) Save(path string) error {
	j.mu.Lock()
	data, err := json.MarshalIndent(j.entries, "", "  ")
	j.mu.Unlock()

	if err != nil {
		return fmt.Errorf("encoding cookie jar: %w", err)
	}

	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing cookie jar: %w", err)
	}

	return nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	host := u.Hostname()
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, c := range cookies {
		if c.Name == "" {
			continue
		}

		e := cookieEntry{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   strings.TrimPrefix(c.Domain, "."),
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}

		if e.Domain == "" {
			e.Domain = host
			e.HostOnly = true
		}

		if e.Path == "" {
			e.Path = defaultPath(u.Path)
		}

		switch {
		case c.MaxAge < 0:
			e.Expires = now.Add(-time.Second)
		case c.MaxAge > 0:
			e.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		default:
			e.Expires = c.Expires
		}

		j.replace(e, now)
	}
}

// replace updates or inserts the entry identified by (domain, path, name).
// An already-expired entry is a deletion order from the server.
func (j *Jar) replace(e cookieEntry, now time.Time) {
	for i, old := range j.entries {
		if old.Domain == e.Domain && old.Path == e.Path && old.Name == e.Name {
			if expired(e, now) {
				j.entries = append(j.entries[:i], j.entries[i+1:]...)
			} else {
				j.entries[i] = e
			}

			return
		}
	}

	if !expired(e, now) {
		j.entries = append(j.entries, e)
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	host := u.Hostname()
	secure := u.Scheme == "https"
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	var matched []cookieEntry

	for _, e := range j.entries {
		if expired(e, now) {
			continue
		}

		if e.Secure && !secure {
			continue
		}

		if !domainMatch(host, e.Domain, e.HostOnly) || !pathMatch(u.Path, e.Path) {
			continue
		}

		matched = append(matched, e)
	}

	// Longest path first, per RFC 6265 §5.4.
	sort.SliceStable(matched, func(a, b int) bool {
		return len(matched[a].Path) > len(matched[b].Path)
	})

	cookies := make([]*http.Cookie, 0, len(matched))
	for _, e := range matched {
		cookies = append(cookies, &http.Cookie{Name: e.Name, Value: e.Value})
	}

	return cookies
}

func expired(e cookieEntry, now time.Time) bool {
	return !e.Expires.IsZero() && !e.Expires.After(now)
}

func domainMatch(host, domain string, hostOnly bool) bool {
	if host == domain {
		return true
	}

	return !hostOnly && strings.HasSuffix(host, "."+domain)
}

func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == "" {
		reqPath = "/"
	}

	if reqPath == cookiePath {
		return true
	}

	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}

	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

// defaultPath computes the cookie default-path for a request path,
// per RFC 6265 §5.1.4.
func defaultPath(reqPath string) string {
	if reqPath == "" || reqPath[0] != '/' {
		return "/"
	}

	i := strings.LastIndexByte(reqPath, '/')
	if i == 0 {
		return "/"
	}

	return reqPath[:i]
}
