package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Authenticate brings the client to the Ready state: a valid cookie set plus
// a filled service directory. With forceRefresh false a persisted session is
// probed first and reused when the provider still accepts it; otherwise the
// full signin flow runs, including the two-factor challenge when the
// provider demands one.
func (c *Client) Authenticate(ctx context.Context, forceRefresh bool) error {
	c.logger.Debug("Authenticating as " + c.username)

	if !forceRefresh && c.session.SessionToken() != "" {
		if err := c.validateToken(ctx); err == nil {
			return nil
		}

		c.logger.Debug("Invalid authentication token, will log in from scratch")
	}

	if c.password == "" {
		return fmt.Errorf("%w: no password available", ErrLoginRejected)
	}

	err := c.signin(ctx)

	switch {
	case errors.Is(err, ErrMFARequired):
		if err := c.completeMFA(ctx); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if err := c.accountLogin(ctx); err != nil {
		return err
	}

	c.logger.Debug("Authentication completed successfully")

	return nil
}

// validateToken probes the setup service with the persisted cookies. On
// success it also refreshes the service directory, so a reused session is
// as complete as a fresh login.
func (c *Client) validateToken(ctx context.Context) error {
	c.logger.Debug("Checking session token validity")

	resp, err := c.session.Do(ctx, http.MethodPost, c.setupURL("validate"), nil, nil)
	if err != nil {
		return fmt.Errorf("icloud: validate: %w", err)
	}

	if err := c.readAccount(resp); err != nil {
		return err
	}

	c.logger.Debug("Session token is still valid")

	return nil
}

// signin posts the credentials to the signin service. A 409 means the
// password was accepted and a two-factor challenge follows; the rotating
// tokens (session token, session id, scnt) arrive via response headers and
// are harvested by the session.
func (c *Client) signin(ctx context.Context) error {
	trustTokens := []string{}
	if t := c.session.TrustToken(); t != "" {
		trustTokens = append(trustTokens, t)
	}

	body, err := encodeJSON(map[string]any{
		"accountName": c.username,
		"password":    c.password,
		"rememberMe":  true,
		"trustTokens": trustTokens,
	})
	if err != nil {
		return err
	}

	resp, err := c.session.Do(ctx, http.MethodPost,
		c.authRoot+"/signin?isRememberMeEnabled=true", c.oauthHeaders(), body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusConflict:
				return ErrMFARequired
			case http.StatusUnauthorized, http.StatusForbidden:
				return ErrLoginRejected
			}
		}

		return fmt.Errorf("icloud: signin: %w", err)
	}

	resp.Body.Close()

	return nil
}

// completeMFA runs the two-factor exchange: obtain a code from the
// prompter, verify it, then ask the provider to trust this client so the
// next signin can skip the challenge.
func (c *Client) completeMFA(ctx context.Context) error {
	if c.mfa == nil {
		return ErrRequiresInteractive
	}

	c.logger.Info("Two-factor authentication is required")

	code, err := c.mfa.Code(ctx)
	if err != nil {
		return fmt.Errorf("icloud: obtaining verification code: %w", err)
	}

	if err := c.validateCode(ctx, code); err != nil {
		return err
	}

	if err := c.trustSession(ctx); err != nil {
		// A login without device trust still works; it just prompts again
		// once the session expires.
		c.logger.Warn("Failed to trust this device", "error", err.Error())
	}

	return nil
}

// validateCode submits the two-factor verification code.
func (c *Client) validateCode(ctx context.Context, code string) error {
	body, err := encodeJSON(map[string]any{
		"securityCode": map[string]string{"code": code},
	})
	if err != nil {
		return err
	}

	resp, err := c.session.Do(ctx, http.MethodPost,
		c.authRoot+"/verify/trusteddevice/securitycode", c.oauthHeaders(), body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return ErrMFARejected
		}

		return fmt.Errorf("icloud: verifying code: %w", err)
	}

	resp.Body.Close()

	return nil
}

// trustSession asks the signin service to mark this client trusted. The
// trust token it returns extends future sessions past the two-factor
// challenge.
func (c *Client) trustSession(ctx context.Context) error {
	resp, err := c.session.Do(ctx, http.MethodGet,
		c.authRoot+"/2sv/trust", c.oauthHeaders(), nil)
	if err != nil {
		return fmt.Errorf("icloud: trusting session: %w", err)
	}

	resp.Body.Close()

	return nil
}

// accountLogin exchanges the signin session token for the service cookies
// and the per-account service directory.
func (c *Client) accountLogin(ctx context.Context) error {
	token := c.session.SessionToken()
	if token == "" {
		return fmt.Errorf("icloud: account login without session token")
	}

	payload := map[string]any{
		"dsWebAuthToken": token,
		"extended_login": true,
	}

	if cc := c.session.accountCountry(); cc != "" {
		payload["accountCountryCode"] = cc
	}

	if t := c.session.TrustToken(); t != "" {
		payload["trustToken"] = t
	}

	body, err := encodeJSON(payload)
	if err != nil {
		return err
	}

	resp, err := c.session.Do(ctx, http.MethodPost, c.setupURL("accountLogin"), nil, body)
	if err != nil {
		return fmt.Errorf("icloud: account login: %w", err)
	}

	return c.readAccount(resp)
}

// readAccount decodes a setup-service response into the client's account
// state.
func (c *Client) readAccount(resp *http.Response) error {
	defer resp.Body.Close()

	var info accountInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("icloud: decoding account info: %w", err)
	}

	c.mu.Lock()
	c.account = info
	c.mu.Unlock()

	return nil
}

// oauthHeaders returns the static first-party-client headers plus the
// rotating per-session headers the signin service requires.
func (c *Client) oauthHeaders() http.Header {
	h := c.session.authHeaders()
	h.Set("X-Apple-OAuth-Client-Id", oauthClientID)
	h.Set("X-Apple-OAuth-Client-Type", "firstPartyAuth")
	h.Set("X-Apple-OAuth-Redirect-URI", c.home)
	h.Set("X-Apple-OAuth-Require-Grant-Code", "true")
	h.Set("X-Apple-OAuth-Response-Mode", "web_message")
	h.Set("X-Apple-OAuth-Response-Type", "code")
	h.Set("X-Apple-OAuth-State", "auth-"+c.clientID)
	h.Set("X-Apple-Widget-Key", oauthClientID)
	h.Set("Origin", "https://idmsa.apple.com")
	h.Set("Referer", "https://idmsa.apple.com/")

	return h
}

func (c *Client) setupURL(op string) string {
	return c.setup + "/" + op + "?" + c.SetupParams().Encode()
}

func encodeJSON(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("icloud: encoding request: %w", err)
	}

	return bytes.NewReader(data), nil
}
