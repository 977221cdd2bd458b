package cookie

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

// Manager is a per-host cookie jar. It satisfies http.CookieJar so it can be
// plugged into an http.Client, and adds host-scoped helpers used when
// cookies must be copied between the web and API hosts.
type Manager struct {
	jar    *cookiejar.Jar
	mu     sync.Mutex
	known  map[string]bool
	logger zerolog.Logger
}

// fileCookie is the JSON representation of a stored cookie
type fileCookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires"`
	Secure   bool   `json:"secure"`
	HttpOnly bool   `json:"httpOnly"`
}

// NewManager creates a new cookie manager
func NewManager(logger zerolog.Logger) *Manager {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &Manager{
		jar:    jar,
		known:  make(map[string]bool),
		logger: logger.With().Str("component", "cookie_manager").Logger(),
	}
}

// SetCookies implements http.CookieJar
func (m *Manager) SetCookies(u *url.URL, cookies []*http.Cookie) {
	m.mu.Lock()
	m.known[u.Hostname()] = true
	m.mu.Unlock()
	m.jar.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar
func (m *Manager) Cookies(u *url.URL) []*http.Cookie {
	return m.jar.Cookies(u)
}

// Set stores a host-only cookie for the given host
func (m *Manager) Set(host, name, value string) {
	m.SetCookies(hostURL(host), []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

// Get returns the value of the named cookie as seen by requests to host
func (m *Manager) Get(host, name string) (string, bool) {
	for _, c := range m.jar.Cookies(hostURL(host)) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Mirror copies the named cookie from one host to another. It reports
// whether the cookie existed on the source host.
func (m *Manager) Mirror(name, fromHost, toHost string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.Get(fromHost, name)
	if !ok {
		return false
	}
	m.jar.SetCookies(hostURL(toHost), []*http.Cookie{{Name: name, Value: value, Path: "/"}})
	m.known[toHost] = true
	return true
}

// SetCookiesFromString sets cookies for host from a "k=v; k2=v2" header string
func (m *Manager) SetCookiesFromString(host, cookieString string) error {
	if strings.TrimSpace(cookieString) == "" {
		return fmt.Errorf("empty cookie string")
	}

	var cookies []*http.Cookie
	for _, pair := range strings.Split(cookieString, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		cookies = append(cookies, &http.Cookie{
			Name:  strings.TrimSpace(parts[0]),
			Value: strings.TrimSpace(parts[1]),
			Path:  "/",
		})
	}

	if len(cookies) == 0 {
		return fmt.Errorf("no cookies found in cookie string")
	}

	m.SetCookies(hostURL(host), cookies)
	return nil
}

// LoadCookiesFromFile loads cookies from a JSON export or a Netscape cookies.txt file
func (m *Manager) LoadCookiesFromFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var cookies []fileCookie
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &cookies); err != nil {
			return 0, fmt.Errorf("failed to unmarshal cookies: %w", err)
		}
	} else {
		cookies, err = parseNetscape(data)
		if err != nil {
			return 0, err
		}
	}

	for _, fc := range cookies {
		m.addFileCookie(fc)
	}

	m.logger.Debug().Str("path", path).Int("count", len(cookies)).Msg("Loaded cookies")
	return len(cookies), nil
}

// SaveCookiesToFile writes every cookie known to the jar as JSON
func (m *Manager) SaveCookiesToFile(path string) error {
	var out []fileCookie
	for _, host := range m.Hosts() {
		for _, c := range m.jar.Cookies(hostURL(host)) {
			out = append(out, fileCookie{Name: c.Name, Value: c.Value, Domain: host, Path: "/", Secure: true})
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}

	return nil
}

// Hosts returns the hosts cookies have been set for
func (m *Manager) Hosts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	hosts := make([]string, 0, len(m.known))
	for host := range m.known {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// HeaderFor returns the Cookie header value a request to host would carry
func (m *Manager) HeaderFor(host string) string {
	var parts []string
	for _, c := range m.jar.Cookies(hostURL(host)) {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func (m *Manager) addFileCookie(fc fileCookie) {
	host := strings.TrimPrefix(fc.Domain, ".")
	if host == "" || fc.Name == "" {
		return
	}

	c := &http.Cookie{
		Name:     fc.Name,
		Value:    fc.Value,
		Path:     fc.Path,
		Secure:   fc.Secure,
		HttpOnly: fc.HttpOnly,
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if strings.HasPrefix(fc.Domain, ".") {
		c.Domain = fc.Domain
	}
	if fc.Expires > 0 {
		c.Expires = time.Unix(fc.Expires, 0)
	}

	m.SetCookies(hostURL(host), []*http.Cookie{c})
}

// parseNetscape parses the tab separated cookies.txt format
func parseNetscape(data []byte) ([]fileCookie, error) {
	var cookies []fileCookie

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		httpOnly := false
		if strings.HasPrefix(line, "#HttpOnly_") {
			line = strings.TrimPrefix(line, "#HttpOnly_")
			httpOnly = true
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("invalid cookies.txt line: %q", line)
		}

		expires, _ := strconv.ParseInt(fields[4], 10, 64)
		cookies = append(cookies, fileCookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Expires:  expires,
			Name:     fields[5],
			Value:    fields[6],
			HttpOnly: httpOnly,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cookies.txt: %w", err)
	}

	return cookies, nil
}

func hostURL(host string) *url.URL {
	return &url.URL{Scheme: "https", Host: host, Path: "/"}
}
