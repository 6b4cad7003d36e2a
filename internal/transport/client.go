package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/depflow/internal/engine"
	"github.com/roach88/depflow/internal/ir"
)

// HTTPClient is the subset of *http.Client used for sse connections.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// joinRequest is the first thing sent for every call.
type joinRequest struct {
	FnIndex     int    `json:"fn_index"`
	Data        []any  `json:"data"`
	EventData   any    `json:"event_data"`
	TriggerID   *int   `json:"trigger_id"`
	SessionHash string `json:"session_hash"`
}

// Client submits backend calls over HTTP.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	base    *url.URL
	http    HTTPClient
	ws      *http.Client
	session string

	mu      sync.RWMutex
	streams map[int]bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for sse requests and the websocket
// handshake. Streams are long-lived, so it should not carry a Timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
		c.ws = h
	}
}

// WithSessionHash fixes the session hash sent with every call. By
// default each Client gets a random one.
func WithSessionHash(hash string) Option {
	return func(c *Client) {
		c.session = hash
	}
}

// New creates a client for the backend at baseURL. decls decide which
// dependencies use a stream connection.
func New(baseURL string, decls []ir.Declaration, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:    base,
		http:    http.DefaultClient,
		ws:      http.DefaultClient,
		session: uuid.NewString(),
		streams: make(map[int]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Register(decls...)
	return c, nil
}

// Register records the connection type of decls. Dependencies introduced
// by a re-render must be registered before they are dispatched.
func (c *Client) Register(decls ...ir.Declaration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range decls {
		c.streams[d.ID] = d.Connection() == ir.ConnectionStream
	}
}

// Session returns the session hash sent with every call.
func (c *Client) Session() string {
	return c.session
}

// Submit implements engine.Client.
func (c *Client) Submit(ctx context.Context, fnIndex int, data []any, eventData any, targetID *int) (engine.Submission, error) {
	req := joinRequest{
		FnIndex:     fnIndex,
		Data:        data,
		EventData:   eventData,
		TriggerID:   targetID,
		SessionHash: c.session,
	}
	if req.Data == nil {
		req.Data = []any{}
	}

	c.mu.RLock()
	stream := c.streams[fnIndex]
	c.mu.RUnlock()

	if stream {
		sub, err := c.dialStream(ctx, req)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	sub, err := c.joinQueue(ctx, req)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = u.Path + path
	return u.String()
}
