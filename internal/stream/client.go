// Package stream manages the lifetime of stream connections: dial,
// handshake, authentication, resubscription, keep-alive and reconnection.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"esa_go/internal/auth"
	"esa_go/internal/domain"
	"esa_go/internal/engine"
	"esa_go/internal/esa"
	"esa_go/internal/infra"
	"esa_go/internal/protocol"
)

const (
	maxRetries         = 10
	defaultDialTimeout = 15 * time.Second
)

// Options tune connection behaviour.
type Options struct {
	ConflateMs          *int64
	HeartbeatMs         *int64
	SegmentationEnabled *bool
	KeepAlive           time.Duration // heartbeat after this much idle time; zero disables
	HandshakeTimeout    time.Duration
	TraceTruncation     int
}

// Client keeps one logical subscription alive over successive connections.
type Client struct {
	dialer    protocol.Dialer
	sessions  auth.SessionProvider
	processor *protocol.Processor
	metrics   *infra.Metrics
	opts      Options
	logger    *slog.Logger

	// subMu orders caller subscriptions against the resubscribe step of a
	// new connection.
	subMu sync.Mutex

	mu              sync.Mutex
	ready           chan struct{}
	stopped         chan struct{}
	marketSub       *esa.MarketSubscriptionMessage
	marketConfirmed bool
	orderSub        *esa.OrderSubscriptionMessage
	orderConfirmed  bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewClient creates a client delivering changes to handler.
func NewClient(dialer protocol.Dialer, sessions auth.SessionProvider, handler protocol.ChangeHandler, metrics *infra.Metrics, opts Options) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultDialTimeout
	}
	p := protocol.NewProcessor(handler, metrics)
	p.TraceChangeTruncation = opts.TraceTruncation

	return &Client{
		dialer:    dialer,
		sessions:  sessions,
		processor: p,
		metrics:   metrics,
		opts:      opts,
		logger:    slog.Default().With(slog.String("module", "stream")),
		ready:     make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Processor exposes the underlying protocol processor.
func (c *Client) Processor() *protocol.Processor {
	return c.processor
}

// Status returns the connection status.
func (c *Client) Status() domain.ConnectionStatus {
	return c.processor.Status()
}

// Start begins the connection loop in the background.
func (c *Client) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

// Stop closes the connection and discards subscriptions.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		c.processor.Stopped()
		close(c.stopped)
		c.logger.Info("Stream client stopped")
	})
}

// WaitReady blocks until the current connection is authenticated and
// resubscribed.
func (c *Client) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-c.stopped:
		return domain.ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		authenticated, err := c.runConnection(ctx)
		if ctx.Err() != nil {
			return
		}

		c.processor.Disconnected()
		c.metrics.RecordReconnect()
		if authenticated {
			retryCount = 0
		}

		delay := infra.CalculateBackoff(retryCount)
		c.logger.Warn("Stream connection lost",
			slog.Any("error", err),
			slog.Int("retry", retryCount),
			slog.Duration("delay", delay))
		retryCount++
		if retryCount > maxRetries {
			retryCount = maxRetries
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runConnection serves one connection until it fails.
func (c *Client) runConnection(ctx context.Context) (authenticated bool, err error) {
	t, err := c.dialer.Dial(ctx)
	if err != nil {
		return false, err
	}
	c.processor.Attach(t)

	connCtx, cancel := context.WithCancel(ctx)
	readDone := make(chan error, 1)
	go func() {
		readDone <- engine.NewSequencer(c.processor, c.metrics).Run(connCtx, t)
		cancel()
	}()

	defer func() {
		cancel()
		_ = t.Close()
		readErr := <-readDone
		c.resetReady()
		if ctx.Err() == nil && readErr != nil && !errors.Is(readErr, context.Canceled) {
			if err == nil || errors.Is(err, context.Canceled) {
				err = readErr
			}
		}
	}()

	if err := c.handshake(connCtx); err != nil {
		return false, err
	}
	if err := c.authenticate(connCtx); err != nil {
		return false, err
	}
	c.subMu.Lock()
	err = c.resubscribe(connCtx)
	if err == nil {
		c.markReady()
	}
	c.subMu.Unlock()
	if err != nil {
		return true, err
	}

	return true, c.keepAlive(connCtx)
}

func (c *Client) handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	msg, err := c.processor.WaitConnection(ctx)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	c.logger.Info("Stream connected", slog.String("connection_id", msg.ConnectionID))
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	session, err := c.sessions.Session(ctx)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	rr, err := c.processor.Authenticate(session.AppKey, session.Session)
	if err != nil {
		return err
	}
	if _, err := rr.Wait(ctx); err != nil {
		var statusErr *domain.StatusError
		if errors.As(err, &statusErr) && statusErr.IsSessionError() {
			c.logger.Warn("Session rejected, expiring", slog.String("error_code", statusErr.ErrorCode))
			c.sessions.Expire()
		}
		return fmt.Errorf("authenticate: %w", err)
	}
	return nil
}

// resubscribe replays confirmed subscriptions with their resumption tokens,
// or sends subscriptions that were requested but never confirmed.
func (c *Client) resubscribe(ctx context.Context) error {
	c.mu.Lock()
	marketSub, marketConfirmed := c.marketSub, c.marketConfirmed
	orderSub, orderConfirmed := c.orderSub, c.orderConfirmed
	c.mu.Unlock()

	if marketSub != nil {
		msg := marketSub
		if h := c.processor.MarketHandler(); h != nil && marketConfirmed {
			msg = h.ResubscribeMessage()
			c.logger.Info("Resubscribing markets", slog.String("clk", msg.Clk), slog.String("initial_clk", msg.InitialClk))
		}
		if err := c.sendMarketSubscription(ctx, msg); err != nil {
			return err
		}
	}

	if orderSub != nil {
		msg := orderSub
		if h := c.processor.OrderHandler(); h != nil && orderConfirmed {
			msg = h.ResubscribeMessage()
			c.logger.Info("Resubscribing orders", slog.String("clk", msg.Clk), slog.String("initial_clk", msg.InitialClk))
		}
		if err := c.sendOrderSubscription(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) keepAlive(ctx context.Context) error {
	if c.opts.KeepAlive <= 0 {
		<-ctx.Done()
		return nil
	}

	interval := c.opts.KeepAlive / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if time.Since(c.processor.LastRequestTime()) < c.opts.KeepAlive {
				continue
			}
			if _, err := c.processor.Heartbeat(); err != nil {
				return err
			}
		}
	}
}

func (c *Client) markReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
}

func (c *Client) isReadyLocked() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

func (c *Client) resetReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ready:
		c.ready = make(chan struct{})
	default:
	}
}

// Heartbeat sends a heartbeat and waits for its reply.
func (c *Client) Heartbeat(ctx context.Context) error {
	rr, err := c.processor.Heartbeat()
	if err != nil {
		return err
	}
	_, err = rr.Wait(ctx)
	return err
}

// SubscribeMarkets replaces the market subscription. The request is kept and
// re-sent on every reconnect. Returns domain.ErrNotConnected when no
// authenticated connection is up; the subscription is then sent once one is.
func (c *Client) SubscribeMarkets(ctx context.Context, msg *esa.MarketSubscriptionMessage) error {
	sub := *msg
	c.applyMarketDefaults(&sub)

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	c.marketSub = &sub
	c.marketConfirmed = false
	ready := c.isReadyLocked()
	c.mu.Unlock()

	if !ready {
		return domain.ErrNotConnected
	}
	return c.sendMarketSubscription(ctx, &sub)
}

// SubscribeOrders replaces the order subscription.
func (c *Client) SubscribeOrders(ctx context.Context, msg *esa.OrderSubscriptionMessage) error {
	sub := *msg
	c.applyOrderDefaults(&sub)

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	c.orderSub = &sub
	c.orderConfirmed = false
	ready := c.isReadyLocked()
	c.mu.Unlock()

	if !ready {
		return domain.ErrNotConnected
	}
	return c.sendOrderSubscription(ctx, &sub)
}

func (c *Client) sendMarketSubscription(ctx context.Context, msg *esa.MarketSubscriptionMessage) error {
	rr, err := c.processor.MarketSubscription(msg)
	if err != nil {
		return err
	}
	if _, err := rr.Wait(ctx); err != nil {
		return fmt.Errorf("market subscription: %w", err)
	}
	c.mu.Lock()
	c.marketConfirmed = true
	c.mu.Unlock()
	return nil
}

func (c *Client) sendOrderSubscription(ctx context.Context, msg *esa.OrderSubscriptionMessage) error {
	rr, err := c.processor.OrderSubscription(msg)
	if err != nil {
		return err
	}
	if _, err := rr.Wait(ctx); err != nil {
		return fmt.Errorf("order subscription: %w", err)
	}
	c.mu.Lock()
	c.orderConfirmed = true
	c.mu.Unlock()
	return nil
}

func (c *Client) applyMarketDefaults(m *esa.MarketSubscriptionMessage) {
	if m.ConflateMs == nil {
		m.ConflateMs = c.opts.ConflateMs
	}
	if m.HeartbeatMs == nil {
		m.HeartbeatMs = c.opts.HeartbeatMs
	}
	if m.SegmentationEnabled == nil {
		m.SegmentationEnabled = c.opts.SegmentationEnabled
	}
}

func (c *Client) applyOrderDefaults(m *esa.OrderSubscriptionMessage) {
	if m.ConflateMs == nil {
		m.ConflateMs = c.opts.ConflateMs
	}
	if m.HeartbeatMs == nil {
		m.HeartbeatMs = c.opts.HeartbeatMs
	}
	if m.SegmentationEnabled == nil {
		m.SegmentationEnabled = c.opts.SegmentationEnabled
	}
}
