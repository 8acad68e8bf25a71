package dia

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Platform identifies the runtime target a client is built for. Each
// target prefers a different endpoint order.
type Platform string

const (
	// PlatformWeb is a browser-hosted client; same-machine addresses first.
	PlatformWeb Platform = "web"
	// PlatformNative is a device client; the public tunnel first.
	PlatformNative Platform = "native"
)

// Topology maps each platform to its ordered candidate endpoints.
type Topology map[Platform][]string

// Option configures a Client.
type Option func(*config)

type config struct {
	topology        Topology
	platform        Platform
	override        []string
	timeout         time.Duration
	maxResponseSize int64
	httpClient      *http.Client
	rps             float64
	burst           int
	token           string
	logger          logrus.FieldLogger
	substitutes     Substitutes

	onConnectivity func(online bool)
	onRotate       func(from, to string)

	requestHook  func(req *http.Request)
	responseHook func(resp *http.Response)
}

func defaultConfig() *config {
	return &config{
		topology:        Topology{},
		platform:        PlatformNative,
		timeout:         8 * time.Second,
		maxResponseSize: 4 * 1024 * 1024, // 4 MB
		burst:           1,
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// endpoints resolves the ordered candidate list for the configured platform.
func (c *config) endpoints() []string {
	raw := c.topology[c.platform]
	if c.override != nil {
		raw = c.override
	}
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" {
			continue
		}
		out = append(out, u)
	}
	return out
}

// WithTopology sets the candidate endpoints for every platform. The list
// actually used is chosen by WithPlatform.
func WithTopology(t Topology) Option {
	return func(c *config) {
		c.topology = make(Topology, len(t))
		for p, urls := range t {
			c.topology[p] = append([]string(nil), urls...)
		}
	}
}

// WithPlatform selects which ordered endpoint list of the topology is used.
func WithPlatform(p Platform) Option {
	return func(c *config) { c.platform = p }
}

// WithEndpoints sets a single ordered endpoint list that takes precedence
// over the topology regardless of platform. Handy in tests and one-off tools.
func WithEndpoints(urls ...string) Option {
	return func(c *config) { c.override = append([]string{}, urls...) }
}

// WithTimeout bounds each attempt against a single endpoint.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxResponseSize sets the maximum response body size in bytes.
func WithMaxResponseSize(n int64) Option {
	return func(c *config) { c.maxResponseSize = n }
}

// WithHTTPClient sets a custom underlying *http.Client.
// The timeout option is ignored when a custom client is provided.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithRateLimit enables a client-side token bucket in requests per second.
// Disabled by default.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.rps = rps
		if burst > 0 {
			c.burst = burst
		}
	}
}

// WithAuthToken sets the initial bearer token.
func WithAuthToken(token string) Option {
	return func(c *config) { c.token = token }
}

// WithLogger sets the logger used for rotation and offline events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) { c.logger = l }
}

// WithSubstitutes replaces the offline data set returned when every
// endpoint is exhausted.
func WithSubstitutes(s Substitutes) Option {
	return func(c *config) { c.substitutes = s }
}

// WithOnConnectivityChange sets a callback invoked when the client flips
// between online and offline.
func WithOnConnectivityChange(fn func(online bool)) Option {
	return func(c *config) { c.onConnectivity = fn }
}

// WithOnRotate sets a callback invoked when the current endpoint advances.
func WithOnRotate(fn func(from, to string)) Option {
	return func(c *config) { c.onRotate = fn }
}

// WithRequestHook sets a hook called before each attempt is sent.
func WithRequestHook(fn func(req *http.Request)) Option {
	return func(c *config) { c.requestHook = fn }
}

// WithResponseHook sets a hook called after each response is received.
func WithResponseHook(fn func(resp *http.Response)) Option {
	return func(c *config) { c.responseHook = fn }
}
