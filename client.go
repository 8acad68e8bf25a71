package dia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

var (
	// ErrExhausted is returned by the transport when every candidate
	// endpoint failed for a request.
	ErrExhausted = errors.New("dia: all endpoints exhausted")

	// ErrUnusableResponse marks a 2xx response that is not a usable
	// JSON envelope.
	ErrUnusableResponse = errors.New("dia: unusable response")

	// ErrClosed is returned by the transport after Close.
	ErrClosed = errors.New("dia: client closed")

	// ErrRateLimited is returned when the client-side limiter cannot
	// grant a token before the caller's deadline. No request was sent.
	ErrRateLimited = errors.New("dia: rate limit wait")
)

// StatusError is a non-2xx answer from an endpoint.
type StatusError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dia: HTTP %d from %s", e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("dia: HTTP %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

// Stats holds atomic request counters.
type Stats struct {
	TotalRequests uint64
	TotalAttempts uint64
	TotalErrors   uint64
	Rotations     uint64
	Substitutions uint64
}

// StatsProvider exposes metrics for external collectors.
type StatsProvider interface {
	Stats() Stats
}

// Client talks to the DIA backend through an ordered list of candidate
// endpoints. A failed attempt advances the current endpoint; when the
// last one fails too, the client goes offline and operations answer
// with substitute data.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        *config
	log        logrus.FieldLogger
	subs       Substitutes
	endpoints  []string

	mu     sync.Mutex
	cursor int
	online bool
	token  string
	closed bool

	totalReqs     atomic.Uint64
	totalAttempts atomic.Uint64
	totalErrors   atomic.Uint64
	rotations     atomic.Uint64
	substitutions atomic.Uint64
}

// Compile-time interface check.
var _ StatsProvider = (*Client)(nil)

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	var lim *rate.Limiter
	if cfg.rps > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.rps), cfg.burst)
	}

	log := cfg.logger
	if log == nil {
		log = discardLogger()
	}

	subs := cfg.substitutes
	if subs == nil {
		subs = NewOfflineDataset()
	}

	return &Client{
		httpClient: hc,
		limiter:    lim,
		cfg:        cfg,
		log:        log,
		subs:       subs,
		endpoints:  cfg.endpoints(),
		online:     true,
		token:      cfg.token,
	}
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.httpClient.CloseIdleConnections()
}

// Stats returns a snapshot of request statistics.
func (c *Client) Stats() Stats {
	return Stats{
		TotalRequests: c.totalReqs.Load(),
		TotalAttempts: c.totalAttempts.Load(),
		TotalErrors:   c.totalErrors.Load(),
		Rotations:     c.rotations.Load(),
		Substitutions: c.substitutions.Load(),
	}
}

// SetAuthToken sets the bearer token for subsequent requests. An empty
// token removes the Authorization header entirely.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// AuthToken returns the current bearer token, or "" if none is set.
func (c *Client) AuthToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Online reports whether the most recent request was answered by a real
// endpoint.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// CurrentEndpoint returns the endpoint the next request starts from, or
// "" when the client has no endpoints.
func (c *Client) CurrentEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.endpoints) == 0 {
		return ""
	}
	return c.endpoints[c.cursor]
}

// Endpoints returns the ordered candidate list in use.
func (c *Client) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

// Platform returns the runtime target the endpoint list was chosen for.
func (c *Client) Platform() Platform {
	return c.cfg.platform
}

// call describes one logical request. accept inspects a 2xx body and
// rejects it when it cannot be decoded into the operation's payload.
type call struct {
	op     Operation
	arg    string
	body   any
	accept func(body []byte) error
}

// fetch runs a call against the current endpoint and walks forward
// through the candidates on failure. It never goes back to an earlier
// endpoint.
func (c *Client) fetch(ctx context.Context, cl call) ([]byte, error) {
	rt, ok := routes[cl.op]
	if !ok {
		return nil, fmt.Errorf("dia: unknown operation %d", cl.op)
	}
	c.totalReqs.Add(1)
	if c.isClosed() {
		return nil, ErrClosed
	}

	var payload []byte
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("dia: marshal request: %w", err)
		}
		payload = data
	}

	if len(c.endpoints) == 0 {
		c.markOffline()
		return nil, ErrExhausted
	}

	path := rt.path(cl.arg)
	idx := c.cursorIndex()
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dia: %s: %w", cl.op, err)
		}

		// A refused token is the caller's deadline, not the endpoint's fault.
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		endpoint := c.endpoints[idx]
		body, err := c.attempt(ctx, rt.method, endpoint, path, payload)
		if err == nil && cl.accept != nil {
			if aerr := cl.accept(body); aerr != nil {
				err = fmt.Errorf("%w: %v", ErrUnusableResponse, aerr)
			}
		}
		if err == nil {
			c.markOnline()
			return body, nil
		}

		c.totalErrors.Add(1)
		// The caller gave up; that says nothing about the endpoint.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dia: %s: %w", cl.op, ctx.Err())
		}
		c.log.WithFields(logrus.Fields{
			"op":       cl.op.String(),
			"endpoint": endpoint,
		}).WithError(err).Warn("request failed")

		next, ok := c.advance(idx)
		if !ok {
			c.markOffline()
			return nil, fmt.Errorf("%w: %w", ErrExhausted, err)
		}
		idx = next
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return nil
}

// attempt sends a single request to one endpoint.
func (c *Client) attempt(ctx context.Context, method, endpoint, path string, payload []byte) ([]byte, error) {
	c.totalAttempts.Add(1)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("dia: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.AuthToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if c.cfg.requestHook != nil {
		c.cfg.requestHook(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dia: http request: %w", err)
	}
	defer resp.Body.Close()

	if c.cfg.responseHook != nil {
		c.cfg.responseHook(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("dia: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := respBody
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       string(bytes.TrimSpace(msg)),
		}
	}

	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("%w: body is not JSON", ErrUnusableResponse)
	}
	if ok := gjson.GetBytes(respBody, "success"); ok.Exists() && !ok.Bool() {
		return nil, fmt.Errorf("%w: success=false: %s", ErrUnusableResponse, gjson.GetBytes(respBody, "error").String())
	}
	return respBody, nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) cursorIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// advance moves the cursor past the endpoint at index from. If another
// request already moved it further, the cursor is left alone and the
// caller continues from there. It reports false when from is the last
// candidate.
func (c *Client) advance(from int) (int, bool) {
	c.mu.Lock()
	if c.cursor > from {
		idx := c.cursor
		c.mu.Unlock()
		return idx, true
	}
	if from >= len(c.endpoints)-1 {
		c.mu.Unlock()
		return from, false
	}
	prev := c.endpoints[c.cursor]
	c.cursor = from + 1
	next := c.endpoints[c.cursor]
	c.mu.Unlock()

	c.rotations.Add(1)
	c.log.WithFields(logrus.Fields{"from": prev, "to": next}).Info("switching endpoint")
	if c.cfg.onRotate != nil {
		c.cfg.onRotate(prev, next)
	}
	return from + 1, true
}

func (c *Client) markOnline() {
	c.setOnline(true)
}

func (c *Client) markOffline() {
	c.setOnline(false)
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()

	if !changed {
		return
	}
	if online {
		c.log.Info("back online")
	} else {
		c.log.Warn("switching to offline mode")
	}
	if c.cfg.onConnectivity != nil {
		c.cfg.onConnectivity(online)
	}
}
