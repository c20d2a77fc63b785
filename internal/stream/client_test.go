package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"esa_go/internal/auth"
	"esa_go/internal/domain"
	"esa_go/internal/esa"
	"esa_go/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipe is an in-memory line transport; the test plays the server side.
type pipe struct {
	toClient chan string
	toServer chan string
	closed   chan struct{}
	once     sync.Once
}

func newPipe() *pipe {
	return &pipe{
		toClient: make(chan string, 64),
		toServer: make(chan string, 64),
		closed:   make(chan struct{}),
	}
}

func (p *pipe) ReadLine() (string, error) {
	select {
	case line := <-p.toClient:
		return line, nil
	case <-p.closed:
		return "", io.EOF
	}
}

func (p *pipe) SendLine(line string) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	case p.toServer <- line:
		return nil
	}
}

func (p *pipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

type request struct {
	Op         string `json:"op"`
	ID         int    `json:"id"`
	Session    string `json:"session"`
	Clk        string `json:"clk"`
	InitialClk string `json:"initialClk"`
	ConflateMs *int64 `json:"conflateMs"`

	MarketFilter *esa.MarketFilter `json:"marketFilter"`
}

// fakeServer answers every request on each dialed pipe.
type fakeServer struct {
	t        *testing.T
	mu       sync.Mutex
	conns    []*pipe
	requests []request
	// onRequest may push extra frames after the status reply
	onRequest func(conn int, p *pipe, req request)
	failAuth  bool
}

func (s *fakeServer) Dial(ctx context.Context) (protocol.Transport, error) {
	p := newPipe()
	s.mu.Lock()
	s.conns = append(s.conns, p)
	n := len(s.conns)
	s.mu.Unlock()

	p.toClient <- fmt.Sprintf(`{"op":"connection","connectionId":"conn-%d"}`, n)
	go s.serve(n, p)
	return p, nil
}

func (s *fakeServer) serve(conn int, p *pipe) {
	for {
		select {
		case <-p.closed:
			return
		case line := <-p.toServer:
			var req request
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				s.t.Errorf("bad request line %q: %v", line, err)
				return
			}
			s.mu.Lock()
			s.requests = append(s.requests, req)
			s.mu.Unlock()

			if req.Op == esa.OpAuthentication && s.failAuth {
				p.toClient <- fmt.Sprintf(`{"op":"status","id":%d,"statusCode":"FAILURE","errorCode":"NO_SESSION","connectionClosed":true}`, req.ID)
				_ = p.Close()
				return
			}
			p.toClient <- fmt.Sprintf(`{"op":"status","id":%d,"statusCode":"SUCCESS"}`, req.ID)
			if s.onRequest != nil {
				s.onRequest(conn, p, req)
			}
		}
	}
}

func (s *fakeServer) requestsFor(op string) []request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []request
	for _, r := range s.requests {
		if r.Op == op {
			out = append(out, r)
		}
	}
	return out
}

func (s *fakeServer) conn(i int) *pipe {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.conns) {
		return nil
	}
	return s.conns[i]
}

type nopHandler struct {
	mu      sync.Mutex
	markets int
}

func (h *nopHandler) OnErrorStatusNotification(*esa.StatusMessage) {}

func (h *nopHandler) OnOrderChange(*protocol.OrderChangeMessage) {}

func (h *nopHandler) OnMarketChange(*protocol.MarketChangeMessage) {
	h.mu.Lock()
	h.markets++
	h.mu.Unlock()
}

type countingSessions struct {
	mu      sync.Mutex
	expired int
	inner   auth.SessionProvider
}

func (c *countingSessions) Session(ctx context.Context) (domain.AppKeyAndSession, error) {
	return c.inner.Session(ctx)
}

func (c *countingSessions) Expire() {
	c.mu.Lock()
	c.expired++
	c.mu.Unlock()
}

func (c *countingSessions) expiredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

func startClient(t *testing.T, srv *fakeServer, opts Options) (*Client, *nopHandler) {
	t.Helper()
	h := &nopHandler{}
	c := NewClient(srv, auth.NewStaticProvider("app", "token"), h, nil, opts)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c, h
}

func waitReady(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitReady(ctx))
}

func TestClient_ConnectAndAuthenticate(t *testing.T) {
	srv := &fakeServer{t: t}
	c, _ := startClient(t, srv, Options{})
	waitReady(t, c)

	assert.Equal(t, domain.StatusAuthenticated, c.Status())
	auths := srv.requestsFor(esa.OpAuthentication)
	require.Len(t, auths, 1)
	assert.Equal(t, "token", auths[0].Session)
}

func TestClient_SubscribeAppliesDefaults(t *testing.T) {
	conflate := int64(0)
	srv := &fakeServer{t: t}
	c, _ := startClient(t, srv, Options{ConflateMs: &conflate})
	waitReady(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.SubscribeMarkets(ctx, &esa.MarketSubscriptionMessage{
		MarketFilter: &esa.MarketFilter{MarketIDs: []string{"1.1"}},
	}))

	subs := srv.requestsFor(esa.OpMarketSubscription)
	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].ConflateMs)
	assert.Equal(t, int64(0), *subs[0].ConflateMs)
	assert.Equal(t, domain.StatusSubscribed, c.Status())
}

func TestClient_ReconnectResubscribesWithTokens(t *testing.T) {
	srv := &fakeServer{t: t}
	srv.onRequest = func(conn int, p *pipe, req request) {
		if conn == 1 && req.Op == esa.OpMarketSubscription {
			p.toClient <- fmt.Sprintf(`{"op":"mcm","id":%d,"ct":"SUB_IMAGE","initialClk":"1","clk":"3","mc":[{"id":"1.1","img":true}]}`, req.ID)
			p.toClient <- fmt.Sprintf(`{"op":"mcm","id":%d,"clk":"5","mc":[{"id":"1.1"}]}`, req.ID)
		}
	}
	c, h := startClient(t, srv, Options{})
	waitReady(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.SubscribeMarkets(ctx, &esa.MarketSubscriptionMessage{}))

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.markets == 2
	}, 2*time.Second, 10*time.Millisecond)

	// drop the first connection
	require.NoError(t, srv.conn(0).Close())

	require.Eventually(t, func() bool {
		return len(srv.requestsFor(esa.OpMarketSubscription)) == 2
	}, 5*time.Second, 20*time.Millisecond)

	subs := srv.requestsFor(esa.OpMarketSubscription)
	assert.Empty(t, subs[0].Clk)
	assert.Equal(t, "5", subs[1].Clk)
	assert.Equal(t, "1", subs[1].InitialClk)
	assert.Len(t, srv.requestsFor(esa.OpAuthentication), 2)
}

func TestClient_KeepAliveHeartbeat(t *testing.T) {
	srv := &fakeServer{t: t}
	c, _ := startClient(t, srv, Options{KeepAlive: 40 * time.Millisecond})
	waitReady(t, c)

	require.Eventually(t, func() bool {
		return len(srv.requestsFor(esa.OpHeartbeat)) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SessionErrorExpiresSession(t *testing.T) {
	srv := &fakeServer{t: t, failAuth: true}
	sessions := &countingSessions{inner: auth.NewStaticProvider("app", "stale")}
	c := NewClient(srv, sessions, &nopHandler{}, nil, Options{})
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool {
		return sessions.expiredCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEqual(t, domain.StatusAuthenticated, c.Status())
}

func TestClient_StopCancelsWaiters(t *testing.T) {
	srv := &fakeServer{t: t}
	c := NewClient(srv, auth.NewStaticProvider("app", "token"), &nopHandler{}, nil, Options{})
	require.NoError(t, c.Start(context.Background()))
	waitReady(t, c)

	c.Stop()
	assert.Equal(t, domain.StatusStopped, c.Status())
	assert.ErrorIs(t, c.WaitReady(context.Background()), domain.ErrCancelled)

	err := c.Heartbeat(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestClient_SubscribeBeforeConnectIsSentOnConnect(t *testing.T) {
	srv := &fakeServer{t: t}
	c := NewClient(srv, auth.NewStaticProvider("app", "token"), &nopHandler{}, nil, Options{})

	err := c.SubscribeMarkets(context.Background(), &esa.MarketSubscriptionMessage{
		MarketFilter: &esa.MarketFilter{MarketIDs: []string{"1.1"}},
	})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Empty(t, srv.requestsFor(esa.OpMarketSubscription))

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()
	waitReady(t, c)

	subs := srv.requestsFor(esa.OpMarketSubscription)
	require.Len(t, subs, 1)
	assert.Equal(t, []string{"1.1"}, subs[0].MarketFilter.MarketIDs)
}
