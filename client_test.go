package dia

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFailing starts a server that answers every request with 503.
func newFailing(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newJSON starts a server that answers every request with body.
func newJSON(t *testing.T, hits *atomic.Int32, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const healthyBody = `{"success":true,"status":"healthy","database":"connected"}`

const fundsBody = `{"success":true,"data":{"funds":[{"id":"fund_009","name":"Live Fund","annual_return_mock":7.5}],"total_funds":1}}`

func TestFirstEndpointAnswers(t *testing.T) {
	var aHits, bHits atomic.Int32
	a := newJSON(t, &aHits, healthyBody)
	b := newJSON(t, &bHits, healthyBody)

	c := New(WithEndpoints(a.URL, b.URL))
	defer c.Close()

	env := c.HealthCheck(context.Background())
	require.True(t, env.Success)
	assert.Equal(t, SourceLive, env.Source)
	assert.Equal(t, "healthy", env.Data.Status)
	assert.Equal(t, "connected", env.Data.Database)

	assert.Equal(t, a.URL, c.CurrentEndpoint())
	assert.True(t, c.Online())
	assert.Equal(t, int32(1), aHits.Load())
	assert.Zero(t, bHits.Load())
	assert.Zero(t, c.Stats().Rotations)
}

func TestRotationFailFailSuccess(t *testing.T) {
	var aHits, bHits, cHits atomic.Int32
	a := newFailing(t, &aHits)
	b := newFailing(t, &bHits)
	srvC := newJSON(t, &cHits, fundsBody)

	var rotated []string
	c := New(
		WithEndpoints(a.URL, b.URL, srvC.URL),
		WithOnRotate(func(from, to string) { rotated = append(rotated, from+" -> "+to) }),
	)
	defer c.Close()

	env := c.GetFunds(context.Background())
	assert.Equal(t, SourceLive, env.Source)
	require.Len(t, env.Data.Funds, 1)
	assert.Equal(t, "fund_009", env.Data.Funds[0].FundID)
	assert.Equal(t, 7.5, env.Data.Funds[0].AnnualReturn)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Rotations)
	assert.Equal(t, uint64(3), stats.TotalAttempts)
	assert.Equal(t, uint64(2), stats.TotalErrors)
	assert.Equal(t, srvC.URL, c.CurrentEndpoint())
	assert.Equal(t, []string{a.URL + " -> " + b.URL, b.URL + " -> " + srvC.URL}, rotated)
	assert.True(t, c.Online())

	// The cursor stays on C; A and B are not tried again.
	c.GetFunds(context.Background())
	assert.Equal(t, int32(1), aHits.Load())
	assert.Equal(t, int32(1), bHits.Load())
	assert.Equal(t, int32(2), cHits.Load())
}

func TestAllEndpointsFailGoesOffline(t *testing.T) {
	var aHits, bHits atomic.Int32
	a := newFailing(t, &aHits)
	b := newFailing(t, &bHits)

	var transitions []bool
	c := New(
		WithEndpoints(a.URL, b.URL),
		WithOnConnectivityChange(func(online bool) { transitions = append(transitions, online) }),
	)
	defer c.Close()

	env := c.GetPortfolio(context.Background(), "user_1")
	require.True(t, env.Success)
	assert.Equal(t, SourceOffline, env.Source)

	p := env.Data.Portfolio
	assert.Equal(t, 2450.75, p.TotalValue)
	assert.Equal(t, 2200.00, p.InvestedAmount)
	assert.Equal(t, 3.45, p.Last24hChangePercent)
	require.NotNil(t, p.InvestedFund)
	assert.Equal(t, FundRef{ID: "fund_002", Name: "Balanced Green Fund", Sector: "Mixed (Green + ICT)"}, *p.InvestedFund)

	assert.False(t, c.Online())
	assert.Equal(t, b.URL, c.CurrentEndpoint())
	assert.Equal(t, []bool{false}, transitions)
	assert.Equal(t, uint64(1), c.Stats().Substitutions)
}

func TestNeverWrapsBack(t *testing.T) {
	var aHits, bHits atomic.Int32
	a := newJSON(t, &aHits, healthyBody)
	b := newFailing(t, &bHits)

	c := New(WithEndpoints(a.URL, b.URL))
	defer c.Close()

	// Force the cursor past A by making it fail once.
	c.advance(0)
	require.Equal(t, b.URL, c.CurrentEndpoint())

	for i := 0; i < 3; i++ {
		env := c.HealthCheck(context.Background())
		assert.Equal(t, SourceOffline, env.Source)
	}
	assert.Zero(t, aHits.Load(), "healthy earlier endpoint must not be revisited")
	assert.Equal(t, int32(3), bHits.Load())
	assert.Equal(t, b.URL, c.CurrentEndpoint())
}

func TestBackOnlineWhenLastEndpointRecovers(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(healthyBody))
	}))
	defer srv.Close()

	var mu sync.Mutex
	var transitions []bool
	c := New(
		WithEndpoints(srv.URL),
		WithOnConnectivityChange(func(online bool) {
			mu.Lock()
			transitions = append(transitions, online)
			mu.Unlock()
		}),
	)
	defer c.Close()

	assert.Equal(t, SourceOffline, c.HealthCheck(context.Background()).Source)
	assert.False(t, c.Online())

	down.Store(false)
	assert.Equal(t, SourceLive, c.HealthCheck(context.Background()).Source)
	assert.True(t, c.Online())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, transitions)
}

func TestAuthorizationHeader(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		if _, ok := r.Header["Authorization"]; ok && r.Header.Get("Authorization") == "" {
			t.Errorf("empty Authorization header sent")
		}
		w.Write([]byte(fundsBody))
	}))
	defer srv.Close()

	c := New(WithEndpoints(srv.URL))
	defer c.Close()

	c.SetAuthToken("abc")
	c.GetFunds(context.Background())
	c.SetAuthToken("")
	c.GetFunds(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Bearer abc", ""}, seen)
	assert.Empty(t, c.AuthToken())
}

func TestInitialAuthToken(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.Write([]byte(healthyBody))
	}))
	defer srv.Close()

	c := New(WithEndpoints(srv.URL), WithAuthToken("tok"))
	defer c.Close()

	c.HealthCheck(context.Background())
	assert.Equal(t, "Bearer tok", got.Load())
}

func TestOfflineWithdrawEchoesAmount(t *testing.T) {
	c := New() // no endpoints at all
	defer c.Close()

	env := c.ProcessWithdraw(context.Background(), 100)
	require.True(t, env.Success)
	assert.Equal(t, SourceOffline, env.Source)
	assert.Equal(t, 100.0, env.Data.Amount)
	assert.Equal(t, "Withdrawn 100 AZN (offline mode)", env.Data.Message)
	assert.Nil(t, env.Data.NewTotalValue)
}

func TestOfflineReadsAreStable(t *testing.T) {
	var hits atomic.Int32
	srv := newFailing(t, &hits)

	c := New(WithEndpoints(srv.URL))
	defer c.Close()

	first, err := json.Marshal(c.GetFunds(context.Background()))
	require.NoError(t, err)
	second, err := json.Marshal(c.GetFunds(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	p1, _ := json.Marshal(c.GetPortfolio(context.Background(), "a"))
	p2, _ := json.Marshal(c.GetPortfolio(context.Background(), "b"))
	assert.Equal(t, string(p1), string(p2))

	l1, _ := json.Marshal(c.GetLeaderboard(context.Background()))
	l2, _ := json.Marshal(c.GetLeaderboard(context.Background()))
	assert.Equal(t, string(l1), string(l2))
}

func TestPlatformSelectsEndpointOrder(t *testing.T) {
	topo := Topology{
		PlatformWeb:    {"http://localhost:5001", "http://192.168.31.8:5001/", "https://tunnel.example.com"},
		PlatformNative: {"https://tunnel.example.com", " http://192.168.31.8:5001 ", "http://localhost:5001"},
	}

	web := New(WithTopology(topo), WithPlatform(PlatformWeb))
	assert.Equal(t, PlatformWeb, web.Platform())
	assert.Equal(t, []string{"http://localhost:5001", "http://192.168.31.8:5001", "https://tunnel.example.com"}, web.Endpoints())
	assert.Equal(t, "http://localhost:5001", web.CurrentEndpoint())

	native := New(WithPlatform(PlatformNative), WithTopology(topo))
	assert.Equal(t, []string{"https://tunnel.example.com", "http://192.168.31.8:5001", "http://localhost:5001"}, native.Endpoints())

	override := New(WithEndpoints("http://a", "", "http://b/"), WithTopology(topo), WithPlatform(PlatformWeb))
	assert.Equal(t, []string{"http://a", "http://b"}, override.Endpoints())
}

func TestNoEndpointsIsOffline(t *testing.T) {
	c := New(WithTopology(Topology{PlatformWeb: {"http://localhost:5001"}}), WithPlatform(PlatformNative))
	defer c.Close()

	assert.Empty(t, c.CurrentEndpoint())
	env := c.HealthCheck(context.Background())
	assert.Equal(t, SourceOffline, env.Source)
	assert.Equal(t, "offline", env.Data.Status)
	assert.False(t, c.Online())
}

func TestConcurrentFailuresDoNotSkipEndpoints(t *testing.T) {
	const n = 20

	// A holds every request until all n are in flight, then fails them.
	var arrived atomic.Int32
	release := make(chan struct{})
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if arrived.Add(1) == n {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer a.Close()

	var bHits atomic.Int32
	b := newJSON(t, &bHits, healthyBody)
	var cHits atomic.Int32
	srvC := newJSON(t, &cHits, healthyBody)

	c := New(WithEndpoints(a.URL, b.URL, srvC.URL))
	defer c.Close()

	var wg sync.WaitGroup
	var live atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.HealthCheck(context.Background()).Source == SourceLive {
				live.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), live.Load())
	assert.Equal(t, b.URL, c.CurrentEndpoint())
	assert.Equal(t, uint64(1), c.Stats().Rotations)
	assert.Zero(t, cHits.Load())
}

func TestCanceledContextDoesNotRotate(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	var bHits atomic.Int32
	b := newJSON(t, &bHits, healthyBody)

	c := New(WithEndpoints(slow.URL, b.URL))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := Invoke(ctx, c, OpHealth, "", nil, decodeHealth, c.subs.Health)
	assert.Equal(t, SourceOffline, res.Source)
	assert.False(t, res.Live())
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))

	assert.Equal(t, slow.URL, c.CurrentEndpoint())
	assert.True(t, c.Online())
	assert.Zero(t, c.Stats().Rotations)
	assert.Zero(t, bHits.Load())
}

func TestUnusableSuccessResponsesRotate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"success false", `{"success":false,"error":"boom"}`},
		{"not json", `<html>tunnel error</html>`},
		{"missing payload", `{"success":true,"data":{"something":"else"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var aHits, bHits atomic.Int32
			a := newJSON(t, &aHits, tt.body)
			b := newJSON(t, &bHits, fundsBody)

			c := New(WithEndpoints(a.URL, b.URL))
			defer c.Close()

			env := c.GetFunds(context.Background())
			assert.Equal(t, SourceLive, env.Source)
			assert.Equal(t, "fund_009", env.Data.Funds[0].FundID)
			assert.Equal(t, b.URL, c.CurrentEndpoint())
			assert.Equal(t, int32(1), aHits.Load())
		})
	}
}

func TestInvokeReportsExhaustion(t *testing.T) {
	var hits atomic.Int32
	srv := newFailing(t, &hits)

	c := New(WithEndpoints(srv.URL))
	defer c.Close()

	res := Invoke(context.Background(), c, OpFunds, "", nil, decodeFunds, c.subs.Funds)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrExhausted)

	var se *StatusError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, srv.URL, se.Endpoint)
}

func TestClosedClientAnswersOffline(t *testing.T) {
	var hits atomic.Int32
	srv := newJSON(t, &hits, healthyBody)

	c := New(WithEndpoints(srv.URL))
	c.Close()

	res := Invoke(context.Background(), c, OpHealth, "", nil, decodeHealth, c.subs.Health)
	assert.ErrorIs(t, res.Err, ErrClosed)
	assert.Equal(t, SourceOffline, res.Source)
	assert.Zero(t, hits.Load())
}

func TestRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := newJSON(t, &hits, healthyBody)

	c := New(WithEndpoints(srv.URL), WithRateLimit(10, 1))
	defer c.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		c.HealthCheck(context.Background())
	}
	// burst 1 at 10/s: the 2nd and 3rd wait ~100ms each.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, int32(3), hits.Load())
}

func TestHooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen", r.Header.Get("X-Client"))
		w.Write([]byte(healthyBody))
	}))
	defer srv.Close()

	var responses atomic.Int32
	var echoed atomic.Value
	c := New(
		WithEndpoints(srv.URL),
		WithRequestHook(func(req *http.Request) { req.Header.Set("X-Client", "dia-test") }),
		WithResponseHook(func(resp *http.Response) {
			responses.Add(1)
			echoed.Store(resp.Header.Get("X-Seen"))
		}),
	)
	defer c.Close()

	c.HealthCheck(context.Background())
	assert.Equal(t, int32(1), responses.Load())
	assert.Equal(t, "dia-test", echoed.Load())
}

func TestRequestShape(t *testing.T) {
	type seen struct {
		method, path, contentType string
		body                      map[string]any
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := seen{method: r.Method, path: r.URL.EscapedPath(), contentType: r.Header.Get("Content-Type")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&s.body)
		}
		got <- s
		w.Write([]byte(`{"success":true,"data":{"amount":25,"fund_id":"fund_001","message":"ok"}}`))
	}))
	defer srv.Close()

	c := New(WithEndpoints(srv.URL))
	defer c.Close()

	env := c.ProcessDeposit(context.Background(), 25, "fund_001")
	assert.Equal(t, SourceLive, env.Source)
	s := <-got
	assert.Equal(t, http.MethodPost, s.method)
	assert.Equal(t, "/api/transactions/deposit", s.path)
	assert.Equal(t, "application/json", s.contentType)
	assert.Equal(t, map[string]any{"amount": 25.0, "fund_id": "fund_001"}, s.body)

	assert.Equal(t, "/api/user/a%2Fb/portfolio", OpPortfolio.Path("a/b"))
	assert.Equal(t, http.MethodGet, OpPortfolio.Method())
}

func TestStats(t *testing.T) {
	var aHits, bHits atomic.Int32
	a := newFailing(t, &aHits)
	b := newJSON(t, &bHits, healthyBody)

	c := New(WithEndpoints(a.URL, b.URL))
	defer c.Close()

	c.HealthCheck(context.Background())
	c.HealthCheck(context.Background())

	var sp StatsProvider = c
	s := sp.Stats()
	assert.Equal(t, Stats{
		TotalRequests: 2,
		TotalAttempts: 3,
		TotalErrors:   1,
		Rotations:     1,
		Substitutions: 0,
	}, s)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTransportErrorRotates(t *testing.T) {
	var hosts []string
	hc := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		hosts = append(hosts, r.URL.Host)
		if r.URL.Host == "down.invalid" {
			return nil, errors.New("dial tcp: connection refused")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(healthyBody)),
			Request:    r,
		}, nil
	})}

	c := New(WithHTTPClient(hc), WithEndpoints("http://down.invalid", "http://up.invalid"))
	defer c.Close()

	env := c.HealthCheck(context.Background())
	assert.Equal(t, SourceLive, env.Source)
	assert.Equal(t, []string{"down.invalid", "up.invalid"}, hosts)
	assert.Equal(t, "http://up.invalid", c.CurrentEndpoint())
}

func TestMaxResponseSize(t *testing.T) {
	var hits atomic.Int32
	srv := newJSON(t, &hits, fundsBody)

	// A truncated body is not valid JSON, so the only endpoint fails.
	c := New(WithEndpoints(srv.URL), WithMaxResponseSize(16))
	defer c.Close()

	assert.Equal(t, SourceOffline, c.GetFunds(context.Background()).Source)
}

func TestRateLimitWaitDoesNotRotate(t *testing.T) {
	var aHits, bHits atomic.Int32
	a := newJSON(t, &aHits, healthyBody)
	b := newJSON(t, &bHits, healthyBody)

	c := New(WithEndpoints(a.URL, b.URL), WithRateLimit(0.5, 1))
	defer c.Close()

	require.Equal(t, SourceLive, c.HealthCheck(context.Background()).Source)

	// The next token is two seconds away; the limiter refuses at once.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	res := Invoke(ctx, c, OpHealth, "", nil, decodeHealth, c.subs.Health)

	assert.Equal(t, SourceOffline, res.Source)
	assert.ErrorIs(t, res.Err, ErrRateLimited)
	assert.Equal(t, a.URL, c.CurrentEndpoint())
	assert.True(t, c.Online())
	assert.Zero(t, c.Stats().Rotations)
	assert.Zero(t, c.Stats().TotalErrors)
	assert.Equal(t, int32(1), aHits.Load())
	assert.Zero(t, bHits.Load())
}

// unreachable returns the URL of a server that is already closed.
func unreachable(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

// envelopeJSON marshals v and drops the optional source tag.
func envelopeJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	delete(m, "source")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}

func TestOfflineEnvelopes(t *testing.T) {
	c := New(WithEndpoints(unreachable(t), unreachable(t), unreachable(t)))
	defer c.Close()

	portfolio := c.GetPortfolio(context.Background(), "missing-user")
	assert.JSONEq(t, `{
		"success": true,
		"data": {
			"portfolio": {
				"total_value": 2450.75,
				"invested_amount": 2200.00,
				"last_24hr_change_percent": 3.45,
				"invested_fund": {
					"id": "fund_002",
					"name": "Balanced Green Fund",
					"sector": "Mixed (Green + ICT)"
				}
			}
		}
	}`, envelopeJSON(t, portfolio))
	assert.False(t, c.Online())
	assert.Equal(t, uint64(2), c.Stats().Rotations)

	withdraw := c.ProcessWithdraw(context.Background(), 100)
	assert.JSONEq(t, `{
		"success": true,
		"data": {"amount": 100, "message": "Withdrawn 100 AZN (offline mode)"}
	}`, envelopeJSON(t, withdraw))
}
