package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Provider endpoints. The China partition runs a separate deployment of the
// home and setup services; the signin service is shared.
const (
	authEndpointDefault = "https://idmsa.apple.com/appleauth/auth"

	homeEndpointCom  = "https://www.icloud.com"
	setupEndpointCom = "https://setup.icloud.com/setup/ws/1"
	homeEndpointCN   = "https://www.icloud.com.cn"
	setupEndpointCN  = "https://setup.icloud.com.cn/setup/ws/1"
)

// oauthClientID identifies the first-party web client to the signin
// service. Fixed value, shared by all installations.
const oauthClientID = "d39ba9916b7251055b22c7f910e2ea796ee65e98b2ddecea8f5dde8d9d1a815d"

// Setup-service build identifiers sent on every request.
const (
	clientBuildNumber     = "17DHotfix5"
	clientMasteringNumber = "17DHotfix5"
	ckjsBuildVersion      = "17DProjectDev77"
)

// MFAPrompter supplies a verification code when the provider demands
// two-factor confirmation. Implementations may read a terminal; a nil
// prompter makes two-factor logins fail with ErrRequiresInteractive, which
// is what unattended runs need.
type MFAPrompter interface {
	Code(ctx context.Context) (string, error)
}

// Config carries the credentials and identity for a Client.
type Config struct {
	Username string
	Password string

	// Domain selects the provider partition: "com" (default) or "cn".
	Domain string

	// ClientID is the per-installation UUID. When empty, a previously
	// persisted id is reused, and failing that a fresh one is generated
	// and persisted.
	ClientID string

	// MFA handles two-factor challenges. Optional.
	MFA MFAPrompter
}

// webService is one entry of the per-account service directory returned by
// accountLogin and validate.
type webService struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

type accountInfo struct {
	DsInfo struct {
		Dsid string `json:"dsid"`
	} `json:"dsInfo"`
	Webservices map[string]webService `json:"webservices"`
}

// Client is the authenticated provider client: it owns the signin state
// machine and the per-account service directory. All HTTP goes through the
// injected Session.
type Client struct {
	session  *Session
	logger   *slog.Logger
	username string
	password string
	clientID string
	home     string
	setup    string
	authRoot string
	mfa      MFAPrompter

	mu      sync.Mutex
	account accountInfo
}

// NewClient builds a provider client. The session carries any persisted
// cookies and tokens; NewClient itself performs no network I/O.
func NewClient(cfg Config, session *Session, logger *slog.Logger) (*Client, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("icloud: username is required")
	}

	if session == nil {
		return nil, fmt.Errorf("icloud: session is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	home, setup, err := endpoints(cfg.Domain)
	if err != nil {
		return nil, err
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = session.ClientID()
	}

	if clientID == "" {
		clientID = strings.ToUpper(uuid.NewString())
	}

	session.SetClientID(clientID)

	return &Client{
		session:  session,
		logger:   logger,
		username: cfg.Username,
		password: cfg.Password,
		clientID: clientID,
		home:     home,
		setup:    setup,
		authRoot: authEndpointDefault,
		mfa:      cfg.MFA,
	}, nil
}

func endpoints(domain string) (home, setup string, err error) {
	switch domain {
	case "", "com":
		return homeEndpointCom, setupEndpointCom, nil
	case "cn":
		return homeEndpointCN, setupEndpointCN, nil
	default:
		return "", "", fmt.Errorf("icloud: unsupported domain %q (want com or cn)", domain)
	}
}

// Username returns the account name the client signs in as.
func (c *Client) Username() string {
	return c.username
}

// ClientID returns the per-installation UUID used on every setup request.
func (c *Client) ClientID() string {
	return c.clientID
}

// Session exposes the underlying transport for services bound to the same
// login, such as the photo library.
func (c *Client) Session() *Session {
	return c.session
}

// DSID returns the account's directory service id, available after a
// successful Authenticate.
func (c *Client) DSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.account.DsInfo.Dsid
}

// ServiceURL returns the per-account endpoint of a named webservice
// ("ckdatabasews" for the photo library). The service directory is filled
// by Authenticate; a service that is absent or not active means the user
// never finished setting it up on the provider side.
func (c *Client) ServiceURL(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ws, ok := c.account.Webservices[name]
	if !ok || ws.URL == "" {
		return "", fmt.Errorf("%w: %s", ErrServiceNotActivated, name)
	}

	return ws.URL, nil
}

// SetupParams returns the query parameters every setup-service and photo
// request carries.
func (c *Client) SetupParams() url.Values {
	v := url.Values{}
	v.Set("clientBuildNumber", clientBuildNumber)
	v.Set("clientMasteringNumber", clientMasteringNumber)
	v.Set("ckjsBuildVersion", ckjsBuildVersion)
	v.Set("clientId", c.clientID)

	if dsid := c.DSID(); dsid != "" {
		v.Set("dsid", dsid)
	}

	return v
}

// Invalidate clears the in-memory login so the next Authenticate performs a
// full signin regardless of what is persisted.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.account = accountInfo{}
	c.mu.Unlock()

	c.session.reset()
}

// nonWord strips everything but word characters from a username when
// deriving persistence filenames ("jdoe@gmail.com" -> "jdoegmailcom").
var nonWord = regexp.MustCompile(`\W`)

// SessionPaths returns the cookie-jar and state-file paths for a username
// inside cookieDir. The flattened username keys the files so accounts do
// not clobber each other.
func SessionPaths(cookieDir, username string) (cookiePath, statePath string) {
	base := nonWord.ReplaceAllString(username, "")
	cookiePath = filepath.Join(cookieDir, base)

	return cookiePath, cookiePath + ".session"
}
