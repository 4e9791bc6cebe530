package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"sync"

	"github.com/google/renameio/v2"
)

const defaultUserAgent = "Opera/9.52 (X11; Linux i686; U; en)"

// headerData maps provider response headers to session state fields. The
// signin endpoints return rotating tokens in headers; each response may
// replace any of them.
var headerData = map[string]func(*sessionState, string){
	"X-Apple-ID-Account-Country": func(s *sessionState, v string) { s.AccountCountry = v },
	"X-Apple-ID-Session-Id":      func(s *sessionState, v string) { s.SessionID = v },
	"X-Apple-Session-Token":      func(s *sessionState, v string) { s.SessionToken = v },
	"X-Apple-TwoSV-Trust-Token":  func(s *sessionState, v string) { s.TrustToken = v },
	"scnt":                       func(s *sessionState, v string) { s.Scnt = v },
}

// sessionState is the non-cookie half of a login: the rotating tokens the
// signin endpoints deliver via response headers. Persisted as a JSON sidecar
// next to the cookie jar, with the original field names, so an existing
// session directory keeps working.
type sessionState struct {
	ClientID       string `json:"client_id"`
	AccountCountry string `json:"account_country,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	SessionToken   string `json:"session_token,omitempty"`
	Scnt           string `json:"scnt,omitempty"`
	TrustToken     string `json:"trust_token,omitempty"`
}

// Session executes HTTP requests against the provider with a persistent
// cookie jar and classifies every response. It is the single transport
// shared by the auth controller, the photo service, and the download
// workers; workers only read it, and re-authentication happens while they
// are parked.
type Session struct {
	httpClient *http.Client
	jar        *Jar
	logger     *slog.Logger
	userAgent  string

	cookiePath string // "" disables persistence
	statePath  string

	mu    sync.Mutex
	state sessionState
}

// NewSession builds a session around httpClient, installing jar as its
// cookie jar. cookiePath and statePath name the persistence files; empty
// paths keep the session memory-only. A state file from a previous run is
// loaded eagerly.
func NewSession(httpClient *http.Client, jar *Jar, cookiePath, statePath string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if jar == nil {
		jar = NewJar()
	}

	// Shallow copy so installing the jar does not mutate a shared client.
	hc := *httpClient
	hc.Jar = jar

	s := &Session{
		httpClient: &hc,
		jar:        jar,
		logger:     logger,
		userAgent:  defaultUserAgent,
		cookiePath: cookiePath,
		statePath:  statePath,
	}

	if statePath != "" {
		if err := s.loadState(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// SetUserAgent replaces the User-Agent sent on every request. An empty ua
// restores the default.
func (s *Session) SetUserAgent(ua string) {
	if ua == "" {
		ua = defaultUserAgent
	}

	s.userAgent = ua
}

// Do executes one HTTP request. JSON responses are read in full, examined
// for the provider's error envelope, and handed back with a replayable
// body. Non-JSON responses (media byte streams) pass through unread so
// downloads stay streamed. A non-nil error means the response carried an
// error; the returned response is then nil and its body already closed.
func (s *Session) Do(ctx context.Context, method, url string, hdr http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("icloud: creating request: %w", err)
	}

	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json, text/javascript")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, vs := range hdr {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("icloud: %s %s: %w", method, req.URL.Host, err)
	}

	s.harvestHeaders(resp)
	s.persist()

	if !isJSONResponse(resp) {
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		resp.Body.Close()

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
			Err:        classifyBareStatus(resp.StatusCode),
		}
	}

	payload, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		return nil, fmt.Errorf("icloud: reading response from %s: %w", req.URL.Host, readErr)
	}

	if apiErr := classifyEnvelope(resp.StatusCode, payload); apiErr != nil {
		return nil, apiErr
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
			Err:        classifyBareStatus(resp.StatusCode),
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(payload))

	return resp, nil
}

// classifyBareStatus maps a status code without a JSON envelope to a
// sentinel. 421 and 450 are the provider's "web session expired" statuses
// on service endpoints; 5xx is its internal failure.
func classifyBareStatus(code int) error {
	switch {
	case code == http.StatusMisdirectedRequest || code == 450:
		return ErrSessionInvalid
	case code >= http.StatusInternalServerError:
		return ErrInternal
	default:
		return ErrAPIResponse
	}
}

func isJSONResponse(resp *http.Response) bool {
	ct, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false
	}

	return ct == "application/json" || ct == "text/json"
}

// harvestHeaders copies the rotating token headers from a response into the
// session state.
func (s *Session) harvestHeaders(resp *http.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, apply := range headerData {
		if v := resp.Header.Get(name); v != "" {
			apply(&s.state, v)
		}
	}
}

// persist writes the cookie jar and the state sidecar when persistence is
// configured. Failures are logged, not returned: a request that succeeded
// should not fail because the jar could not be flushed.
func (s *Session) persist() {
	if s.cookiePath == "" {
		return
	}

	if err := s.jar.Save(s.cookiePath); err != nil {
		s.logger.Warn("failed to save cookie jar", slog.String("error", err.Error()))
	}

	if err := s.saveState(); err != nil {
		s.logger.Warn("failed to save session state", slog.String("error", err.Error()))
	}
}

func (s *Session) loadState() error {
	data, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("reading session state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := json.Unmarshal(data, &s.state); err != nil {
		return fmt.Errorf("parsing session state %s: %w", s.statePath, err)
	}

	return nil
}

func (s *Session) saveState() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.state, "", "  ")
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("encoding session state: %w", err)
	}

	if err := renameio.WriteFile(s.statePath, data, 0o600); err != nil {
		return fmt.Errorf("writing session state: %w", err)
	}

	return nil
}

// SessionToken returns the web auth token from the last signin, or "".
func (s *Session) SessionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.SessionToken
}

// TrustToken returns the trusted-device token, or "".
func (s *Session) TrustToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.TrustToken
}

// ClientID returns the persisted per-installation client id, or "".
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.ClientID
}

// SetClientID records the per-installation client id for persistence.
func (s *Session) SetClientID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.ClientID = id
}

func (s *Session) accountCountry() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.AccountCountry
}

// authHeaders returns the headers the signin endpoints require on follow-up
// calls: the rotating session id and scnt anti-replay token.
func (s *Session) authHeaders() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := http.Header{}
	if s.state.SessionID != "" {
		h.Set("X-Apple-ID-Session-Id", s.state.SessionID)
	}

	if s.state.Scnt != "" {
		h.Set("scnt", s.state.Scnt)
	}

	return h
}

// reset clears the token state. Cookies are left in place; the next
// authenticate decides whether they are still usable.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientID := s.state.ClientID
	s.state = sessionState{ClientID: clientID}
}
