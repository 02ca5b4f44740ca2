package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
)

const (
	// DefaultService is the PDS entryway used when none is configured.
	DefaultService = "https://bsky.social"

	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 4 << 20
)

// Session is the authenticated account state returned by createSession.
type Session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

// Client talks XRPC to a PDS on behalf of a single account. It is safe for
// concurrent use; the session is swapped atomically on refresh.
type Client struct {
	service string
	http    *http.Client
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	session  *Session
	identity string
	password string
}

// NewClient creates a client for the given service URL. A nil httpClient
// gets a client with DefaultTimeout.
func NewClient(service string, httpClient *http.Client, log zerolog.Logger) *Client {
	service = strings.TrimRight(strings.TrimSpace(service), "/")
	if service == "" {
		service = DefaultService
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		service: service,
		http:    httpClient,
		log:     log.With().Str("component", "bsky").Logger(),
		now:     time.Now,
	}
}

// Login creates a session with an identifier (handle or DID) and an app password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	var sess Session
	payload, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return err
	}
	if err := c.send(ctx, http.MethodPost, "com.atproto.server.createSession", nil, payload, "application/json", "", &sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.mu.Lock()
	c.session = &sess
	c.identity, c.password = identifier, password
	c.mu.Unlock()
	c.log.Info().Str("handle", sess.Handle).Str("did", sess.DID).Msg("Authenticated with PDS")
	return nil
}

// Session returns a copy of the current session, or nil before Login.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	sess := *c.session
	return &sess
}

func (c *Client) setSession(sess *Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

func (c *Client) tokens() (access, refresh string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return "", ""
	}
	return c.session.AccessJwt, c.session.RefreshJwt
}

// refresh rotates the session with the refresh token. When that is rejected
// too, it logs in again with the credentials from the last Login.
func (c *Client) refresh(ctx context.Context) error {
	_, refreshJwt := c.tokens()
	err := ErrNotAuthenticated
	if refreshJwt != "" {
		var sess Session
		err = c.send(ctx, http.MethodPost, "com.atproto.server.refreshSession", nil, nil, "", refreshJwt, &sess)
		if err == nil {
			c.setSession(&sess)
			c.log.Debug().Str("handle", sess.Handle).Msg("Refreshed session")
			return nil
		}
	}

	c.mu.RLock()
	identity, password := c.identity, c.password
	c.mu.RUnlock()
	if identity == "" || ctx.Err() != nil {
		return err
	}
	c.log.Warn().Err(err).Msg("Session refresh failed, logging in again")
	if lerr := c.Login(ctx, identity, password); lerr != nil {
		return errors.Join(err, lerr)
	}
	return nil
}

// query performs an authenticated XRPC GET.
func (c *Client) query(ctx context.Context, nsid string, params url.Values, out any) error {
	return c.call(ctx, http.MethodGet, nsid, params, nil, "", out)
}

// procedure performs an authenticated XRPC POST with a JSON body.
func (c *Client) procedure(ctx context.Context, nsid string, input, out any) error {
	var payload []byte
	if input != nil {
		var err error
		payload, err = json.Marshal(input)
		if err != nil {
			return fmt.Errorf("encode %s input: %w", nsid, err)
		}
	}
	return c.call(ctx, http.MethodPost, nsid, nil, payload, "application/json", out)
}

func (c *Client) call(ctx context.Context, method, nsid string, params url.Values, payload []byte, contentType string, out any) error {
	access, _ := c.tokens()
	if access == "" {
		return ErrNotAuthenticated
	}
	err := c.send(ctx, method, nsid, params, payload, contentType, access, out)
	if !IsExpiredToken(err) {
		return err
	}
	if rerr := c.refresh(ctx); rerr != nil {
		return fmt.Errorf("refresh session after %s: %w", nsid, rerr)
	}
	access, _ = c.tokens()
	return c.send(ctx, method, nsid, params, payload, contentType, access, out)
}

func (c *Client) send(ctx context.Context, method, nsid string, params url.Values, payload []byte, contentType, token string, out any) error {
	endpoint := c.service + "/xrpc/" + nsid
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := "kb_" + random.String(12)
	req.Header.Set("x-request-id", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("nsid", nsid).Str("request_id", requestID).Msg("XRPC request failed")
		return fmt.Errorf("%s: %w", nsid, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: reading response body: %w", nsid, err)
	}
	c.log.Debug().
		Str("nsid", nsid).
		Str("request_id", requestID).
		Int("status_code", resp.StatusCode).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("XRPC response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		xe := &XRPCError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, xe)
		return xe
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", nsid, err)
	}
	return nil
}
