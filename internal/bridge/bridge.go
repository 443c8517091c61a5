// Package bridge is the iframe-side client for the platform's cross-window
// bridge: the object the parent window injects to broker postMessage
// traffic. The bridge object appears asynchronously relative to element
// script execution, so connection polls for it with a bounded interval and
// a hard timeout, then completes an event-based handshake. A host that is
// present but never emits ready still fails at the timeout: object
// presence and handshake completion are distinct.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Typed error states. Each is independently retryable.
var (
	// ErrConnectionTimeout means no usable host completed the handshake
	// within the connection timeout.
	ErrConnectionTimeout = errors.New("bridge connection timed out")

	// ErrNotConnected is returned by operations that require a completed
	// handshake.
	ErrNotConnected = errors.New("bridge not connected")

	// ErrSessionError means the host reported a session retrieval failure.
	ErrSessionError = errors.New("session error")

	// ErrAuthError means the host reported an authentication failure.
	ErrAuthError = errors.New("authentication error")
)

// Host event names emitted by the platform bridge.
const (
	EventReady        = "ready"
	EventSession      = "session"
	EventSessionError = "sessionError"
	EventUser         = "user"
	EventError        = "error"
)

// ConnState is the connection state machine.
type ConnState int

// Connection states. ConnError is terminal for the current attempt; a new
// Connect call starts over.
const (
	Disconnected ConnState = iota
	Connecting
	Connected
	ConnError
)

// LoadState tracks the independent session and user sub-states.
type LoadState int

// Sub-states for session and user retrieval.
const (
	LoadIdle LoadState = iota
	Loading
	Loaded
	LoadFailed
)

// FetchOptions shape an authenticated fetch through the host.
type FetchOptions struct {
	Method string
	Header http.Header
	Body   []byte
}

// Response is the host's answer to an authenticated fetch.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// UserSnapshot is the user/organization view delivered by the host.
type UserSnapshot struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	OrganizationID string `json:"organizationId"`
}

// Host is the platform bridge object. The real implementation wraps the
// injected global; tests supply fakes. Subscribe registers a listener for
// one of the Event* names; RequestSession and RequestUser are
// fire-and-forget triggers whose results arrive through the listeners.
type Host interface {
	Subscribe(event string, fn func(payload any))
	RequestSession()
	RequestUser()
	AuthenticatedFetch(ctx context.Context, url string, opts FetchOptions) (*Response, error)
}

// HostProvider returns the bridge host, or nil while the parent's script
// injection has not completed yet.
type HostProvider func() Host

// Environment models the window handles needed for iframe detection.
// Handles must be comparable values.
type Environment interface {
	Self() any
	// Top returns the topmost window handle. A cross-origin access is
	// reported as an error.
	Top() (any, error)
}

// InIframe reports whether the element runs embedded. A security error on
// accessing top implies a different origin, which means embedded.
func InIframe(env Environment) bool {
	top, err := env.Top()
	if err != nil {
		return true
	}
	return env.Self() != top
}

// ExtractToken pulls a session token out of the three payload shapes the
// host may deliver: a raw string, or an object exposing accessToken, token
// or sessionToken, in that precedence order.
func ExtractToken(v any) string {
	switch p := v.(type) {
	case string:
		return p
	case map[string]any:
		for _, key := range []string{"accessToken", "token", "sessionToken"} {
			if s, ok := p[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// BootstrapToken recovers a session token on page load, before the host
// handshake has delivered one. The embed URL's sessionToken query
// parameter wins; the named session cookie is the fallback. Either may
// be absent, in which case the caller waits for the bridge.
func BootstrapToken(r *http.Request, cookieName string) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("sessionToken")); tok != "" {
		return tok
	}
	if cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the handshake timeout (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPollInterval sets the host availability poll interval (default 100ms).
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// Client is the element-side bridge client.
type Client struct {
	provider     HostProvider
	timeout      time.Duration
	pollInterval time.Duration

	mu    sync.Mutex
	state ConnState
	host  Host

	sessionState  LoadState
	sessionToken  string
	sessionErr    error
	sessionSignal chan struct{}

	userState  LoadState
	user       *UserSnapshot
	userErr    error
	userSignal chan struct{}
}

// NewClient creates a Client around a host provider.
func NewClient(provider HostProvider, opts ...Option) *Client {
	c := &Client{
		provider:      provider,
		timeout:       5 * time.Second,
		pollInterval:  100 * time.Millisecond,
		sessionSignal: make(chan struct{}),
		userSignal:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionState returns the session sub-state.
func (c *Client) SessionState() LoadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionState
}

// UserState returns the user sub-state.
func (c *Client) UserState() LoadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userState
}

// Connect polls for the host, subscribes the event listeners, and waits
// for the ready event. The timeout budget covers both phases. On timeout
// the client lands in ConnError and Connect returns ErrConnectionTimeout;
// it never hangs.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Connected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()

	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var host Host
	for {
		if h := c.provider(); h != nil {
			host = h
			break
		}
		select {
		case <-ctx.Done():
			c.failConnect()
			return ctx.Err()
		case <-deadline.C:
			c.failConnect()
			return fmt.Errorf("%w: bridge object never appeared", ErrConnectionTimeout)
		case <-ticker.C:
		}
	}

	ready := make(chan any, 1)
	host.Subscribe(EventReady, func(payload any) {
		select {
		case ready <- payload:
		default:
		}
	})
	host.Subscribe(EventSession, c.onSession)
	host.Subscribe(EventSessionError, c.onSessionError)
	host.Subscribe(EventUser, c.onUser)
	host.Subscribe(EventError, c.onError)

	select {
	case payload := <-ready:
		c.mu.Lock()
		c.host = host
		c.state = Connected
		c.mu.Unlock()
		// ready may carry an inline session.
		if tok := ExtractToken(payload); tok != "" {
			c.onSession(payload)
		}
		return nil
	case <-ctx.Done():
		c.failConnect()
		return ctx.Err()
	case <-deadline.C:
		c.failConnect()
		return fmt.Errorf("%w: bridge present but no ready event", ErrConnectionTimeout)
	}
}

func (c *Client) failConnect() {
	c.mu.Lock()
	c.state = ConnError
	c.mu.Unlock()
}

// RequestSession asks the host for a fresh session token. Fire-and-forget:
// the result arrives through the session event and is observed via
// Session.
func (c *Client) RequestSession() error {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.sessionState = Loading
	host := c.host
	c.mu.Unlock()
	host.RequestSession()
	return nil
}

// RequestUser asks the host for the user snapshot. Fire-and-forget.
func (c *Client) RequestUser() error {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.userState = Loading
	host := c.host
	c.mu.Unlock()
	host.RequestUser()
	return nil
}

// Session blocks until a session token (or a session error) is available.
func (c *Client) Session(ctx context.Context) (string, error) {
	for {
		c.mu.Lock()
		switch c.sessionState {
		case Loaded:
			tok := c.sessionToken
			c.mu.Unlock()
			return tok, nil
		case LoadFailed:
			err := c.sessionErr
			c.mu.Unlock()
			return "", err
		}
		signal := c.sessionSignal
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-signal:
		}
	}
}

// User blocks until a user snapshot (or an error) is available.
func (c *Client) User(ctx context.Context) (*UserSnapshot, error) {
	for {
		c.mu.Lock()
		switch c.userState {
		case Loaded:
			u := c.user
			c.mu.Unlock()
			return u, nil
		case LoadFailed:
			err := c.userErr
			c.mu.Unlock()
			return nil, err
		}
		signal := c.userSignal
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-signal:
		}
	}
}

// AuthenticatedFetch forwards to the host, which attaches the current
// session token as a bearer header and retries once on a stale token. That
// retry is the host's responsibility; this client only refuses to dispatch
// before the handshake is complete.
func (c *Client) AuthenticatedFetch(ctx context.Context, url string, opts FetchOptions) (*Response, error) {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	host := c.host
	c.mu.Unlock()
	return host.AuthenticatedFetch(ctx, url, opts)
}

// onSession handles session events. Events arriving before the handshake
// completed are dropped: ready must be observed before session payloads
// are trusted.
func (c *Client) onSession(payload any) {
	tok := ExtractToken(payload)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return
	}
	if tok == "" {
		c.sessionState = LoadFailed
		c.sessionErr = fmt.Errorf("%w: empty session payload", ErrSessionError)
	} else {
		c.sessionState = Loaded
		c.sessionToken = tok
		c.sessionErr = nil
	}
	c.signalSessionLocked()
}

func (c *Client) onSessionError(payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return
	}
	c.sessionState = LoadFailed
	c.sessionErr = fmt.Errorf("%w: %v", ErrSessionError, payload)
	c.signalSessionLocked()
}

func (c *Client) onUser(payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return
	}
	snap, err := decodeUser(payload)
	if err != nil {
		c.userState = LoadFailed
		c.userErr = fmt.Errorf("%w: %v", ErrSessionError, err)
	} else {
		c.userState = Loaded
		c.user = snap
		c.userErr = nil
	}
	c.signalUserLocked()
}

// onError handles host-level auth errors, failing both sub-states.
func (c *Client) onError(payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return
	}
	err := fmt.Errorf("%w: %v", ErrAuthError, payload)
	c.sessionState = LoadFailed
	c.sessionErr = err
	c.userState = LoadFailed
	c.userErr = err
	c.signalSessionLocked()
	c.signalUserLocked()
}

func (c *Client) signalSessionLocked() {
	close(c.sessionSignal)
	c.sessionSignal = make(chan struct{})
}

func (c *Client) signalUserLocked() {
	close(c.userSignal)
	c.userSignal = make(chan struct{})
}

// decodeUser converts the host's loosely-typed user payload into a
// UserSnapshot via a JSON round-trip.
func decodeUser(payload any) (*UserSnapshot, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var snap UserSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	if snap.ID == "" && snap.Email == "" {
		return nil, errors.New("user payload missing identity")
	}
	return &snap, nil
}
