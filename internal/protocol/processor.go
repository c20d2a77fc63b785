package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"esa_go/internal/domain"
	"esa_go/internal/esa"
	"esa_go/internal/infra"
)

// ChangeHandler consumes completed change batches and uncorrelated status
// notifications. It is called on the reader goroutine.
type ChangeHandler interface {
	OnErrorStatusNotification(msg *esa.StatusMessage)
	OnMarketChange(cm *MarketChangeMessage)
	OnOrderChange(cm *OrderChangeMessage)
}

// StatusListener observes connection status transitions.
type StatusListener func(old, new domain.ConnectionStatus)

// Processor multiplexes requests and inbound frames over one connection and
// owns the connection state machine.
type Processor struct {
	handler ChangeHandler
	metrics *infra.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// TraceChangeTruncation logs change frames at debug level, cut to this many
	// characters. Zero disables tracing.
	TraceChangeTruncation int

	nextID atomic.Int64
	sendMu sync.Mutex // register pending + serialize + transmit

	mu               sync.Mutex
	transport        Transport
	status           domain.ConnectionStatus
	pending          map[int]*RequestResponse
	connection       *connectionFuture
	connectionID     string
	marketHandler    *MarketSubscriptionHandler
	orderHandler     *OrderSubscriptionHandler
	lastRequestTime  time.Time
	lastResponseTime time.Time
	listeners        map[uint64]StatusListener
	nextListener     uint64

	pendingTransitions []statusTransition
}

// NewProcessor creates a processor in the STOPPED state.
func NewProcessor(handler ChangeHandler, metrics *infra.Metrics) *Processor {
	return &Processor{
		handler:    handler,
		metrics:    metrics,
		logger:     slog.Default().With(slog.String("module", "protocol")),
		now:        time.Now,
		status:     domain.StatusStopped,
		pending:    make(map[int]*RequestResponse),
		connection: newConnectionFuture(),
		listeners:  make(map[uint64]StatusListener),
	}
}

// Attach binds the transport of a freshly dialed connection.
func (p *Processor) Attach(t Transport) {
	p.mu.Lock()
	p.transport = t
	p.mu.Unlock()
}

// OnStatusChange registers a listener and returns its cancellation handle.
func (p *Processor) OnStatusChange(fn StatusListener) (cancel func()) {
	p.mu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Status returns the current connection status.
func (p *Processor) Status() domain.ConnectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// ConnectionID returns the id from the last handshake.
func (p *Processor) ConnectionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectionID
}

// LastRequestTime returns when the last request was transmitted.
func (p *Processor) LastRequestTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRequestTime
}

// LastResponseTime returns when the last inbound line was received.
func (p *Processor) LastResponseTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastResponseTime
}

// MarketHandler returns the active market subscription, or nil.
func (p *Processor) MarketHandler() *MarketSubscriptionHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.marketHandler
}

// OrderHandler returns the active order subscription, or nil.
func (p *Processor) OrderHandler() *OrderSubscriptionHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orderHandler
}

// PendingCount returns the number of requests awaiting a reply.
func (p *Processor) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// WaitConnection blocks until the handshake frame of the current connection arrives.
func (p *Processor) WaitConnection(ctx context.Context) (*esa.ConnectionMessage, error) {
	p.mu.Lock()
	f := p.connection
	p.mu.Unlock()
	return f.wait(ctx)
}

// Disconnected handles a transport failure. Pending requests are cancelled;
// subscription handlers are kept for resubscription.
func (p *Processor) Disconnected() {
	p.mu.Lock()
	if p.status != domain.StatusStopped {
		p.setStatusLocked(domain.StatusDisconnected)
	}
	pending := p.resetLocked()
	listeners := p.snapshotListenersLocked()
	p.mu.Unlock()

	p.finishReset(pending, listeners)
}

// Stopped handles an explicit shutdown. Subscription handlers are discarded.
func (p *Processor) Stopped() {
	p.mu.Lock()
	p.setStatusLocked(domain.StatusStopped)
	pending := p.resetLocked()
	market, order := p.marketHandler, p.orderHandler
	p.marketHandler, p.orderHandler = nil, nil
	listeners := p.snapshotListenersLocked()
	p.mu.Unlock()

	if market != nil {
		market.Cancel()
	}
	if order != nil {
		order.Cancel()
	}
	p.finishReset(pending, listeners)
}

type statusTransition struct {
	old, new domain.ConnectionStatus
}

type resetResult struct {
	requests   []*RequestResponse
	connection *connectionFuture
}

// resetLocked detaches the transport and collects what must be cancelled.
func (p *Processor) resetLocked() resetResult {
	res := resetResult{connection: p.connection}
	for id, rr := range p.pending {
		res.requests = append(res.requests, rr)
		delete(p.pending, id)
	}
	p.connection = newConnectionFuture()
	p.transport = nil
	return res
}

func (p *Processor) finishReset(res resetResult, notify func()) {
	res.connection.cancel()
	for _, rr := range res.requests {
		rr.cancel()
	}
	notify()
}

// setStatusLocked records a transition; snapshotListenersLocked announces it.
func (p *Processor) setStatusLocked(s domain.ConnectionStatus) {
	if p.status == s {
		return
	}
	p.pendingTransitions = append(p.pendingTransitions, statusTransition{old: p.status, new: s})
	p.status = s
	p.metrics.SetConnectionStatus(int(s))
}

// snapshotListenersLocked returns a function that delivers the queued
// transitions outside the lock.
func (p *Processor) snapshotListenersLocked() func() {
	transitions := p.pendingTransitions
	p.pendingTransitions = nil
	if len(transitions) == 0 {
		return func() {}
	}
	listeners := make([]StatusListener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	return func() {
		for _, t := range transitions {
			p.logger.Info("Connection status changed",
				slog.String("from", t.old.String()),
				slog.String("to", t.new.String()))
			for _, fn := range listeners {
				fn(t.old, t.new)
			}
		}
	}
}

func (p *Processor) setStatus(s domain.ConnectionStatus) {
	p.mu.Lock()
	p.setStatusLocked(s)
	notify := p.snapshotListenersLocked()
	p.mu.Unlock()
	notify()
}

// Authenticate sends the authentication request; success moves the
// connection to AUTHENTICATED.
func (p *Processor) Authenticate(appKey, session string) (*RequestResponse, error) {
	return p.sendMessage(esa.OpAuthentication, func(id int) any {
		return &esa.AuthenticationMessage{Op: esa.OpAuthentication, ID: id, AppKey: appKey, Session: session}
	}, func(int, any) func() {
		return func() { p.setStatus(domain.StatusAuthenticated) }
	})
}

// Heartbeat sends a keep-alive request.
func (p *Processor) Heartbeat() (*RequestResponse, error) {
	return p.sendMessage(esa.OpHeartbeat, func(id int) any {
		return &esa.HeartbeatMessage{Op: esa.OpHeartbeat, ID: id}
	}, nil)
}

// MarketSubscription sends a market subscription. On success its handler
// replaces the previous one, which is cancelled.
func (p *Processor) MarketSubscription(req *esa.MarketSubscriptionMessage) (*RequestResponse, error) {
	return p.sendMessage(esa.OpMarketSubscription, func(id int) any {
		msg := *req
		msg.Op = esa.OpMarketSubscription
		msg.ID = id
		return &msg
	}, func(id int, msg any) func() {
		handler := NewMarketSubscriptionHandler(msg.(*esa.MarketSubscriptionMessage))
		return func() { p.installMarketHandler(handler) }
	})
}

// OrderSubscription sends an order subscription. On success its handler
// replaces the previous one, which is cancelled.
func (p *Processor) OrderSubscription(req *esa.OrderSubscriptionMessage) (*RequestResponse, error) {
	return p.sendMessage(esa.OpOrderSubscription, func(id int) any {
		msg := *req
		msg.Op = esa.OpOrderSubscription
		msg.ID = id
		return &msg
	}, func(id int, msg any) func() {
		handler := NewOrderSubscriptionHandler(msg.(*esa.OrderSubscriptionMessage))
		return func() { p.installOrderHandler(handler) }
	})
}

func (p *Processor) installMarketHandler(h *MarketSubscriptionHandler) {
	p.mu.Lock()
	old := p.marketHandler
	p.marketHandler = h
	p.mu.Unlock()
	if old != nil {
		old.Cancel()
	}
	p.setStatus(domain.StatusSubscribed)
}

func (p *Processor) installOrderHandler(h *OrderSubscriptionHandler) {
	p.mu.Lock()
	old := p.orderHandler
	p.orderHandler = h
	p.mu.Unlock()
	if old != nil {
		old.Cancel()
	}
	p.setStatus(domain.StatusSubscribed)
}

// AdoptMarketSubscription installs a handler for an existing subscription id
// without sending a request. Used when replaying recorded frames.
func (p *Processor) AdoptMarketSubscription(id int) *MarketSubscriptionHandler {
	h := NewMarketSubscriptionHandler(&esa.MarketSubscriptionMessage{Op: esa.OpMarketSubscription, ID: id})
	p.installMarketHandler(h)
	return h
}

// AdoptOrderSubscription is AdoptMarketSubscription for orders.
func (p *Processor) AdoptOrderSubscription(id int) *OrderSubscriptionHandler {
	h := NewOrderSubscriptionHandler(&esa.OrderSubscriptionMessage{Op: esa.OpOrderSubscription, ID: id})
	p.installOrderHandler(h)
	return h
}

// sendMessage assigns the next id, registers the pending reply, serializes and
// transmits as one unit so a reply can never be looked up before it is registered.
func (p *Processor) sendMessage(op string, build func(id int) any, onSuccess func(id int, msg any) func()) (*RequestResponse, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	id := int(p.nextID.Add(1))
	msg := build(id)

	var callback func()
	if onSuccess != nil {
		callback = onSuccess(id, msg)
	}
	rr := newRequestResponse(id, callback)

	p.mu.Lock()
	t := p.transport
	if t == nil {
		p.mu.Unlock()
		return nil, domain.ErrNotConnected
	}
	p.pending[id] = rr
	p.mu.Unlock()

	line, err := json.Marshal(msg)
	if err != nil {
		p.removePending(id)
		return nil, fmt.Errorf("marshal %s: %w", op, err)
	}

	if err := t.SendLine(string(line)); err != nil {
		p.removePending(id)
		return nil, domain.NewNetworkError("write", err)
	}

	p.mu.Lock()
	p.lastRequestTime = p.now()
	p.mu.Unlock()
	p.metrics.RecordRequest(op)

	return rr, nil
}

func (p *Processor) removePending(id int) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// ReceiveLine routes one inbound frame. It returns an error wrapping
// domain.ErrMalformedFrame or domain.ErrUnknownOperation for frames that
// were skipped; state is untouched in that case.
func (p *Processor) ReceiveLine(line string) error {
	start := p.now()
	p.mu.Lock()
	p.lastResponseTime = start
	p.mu.Unlock()

	op, err := ScanOp(line)
	if err != nil {
		p.metrics.RecordMalformedFrame()
		return err
	}

	switch op {
	case esa.OpConnection:
		var msg esa.ConnectionMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			p.metrics.RecordMalformedFrame()
			return fmt.Errorf("%w: connection: %v", domain.ErrMalformedFrame, err)
		}
		p.processConnection(&msg)
	case esa.OpStatus:
		var msg esa.StatusMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			p.metrics.RecordMalformedFrame()
			return fmt.Errorf("%w: status: %v", domain.ErrMalformedFrame, err)
		}
		p.processStatus(&msg)
	case esa.OpMarketChange:
		p.traceChange(line)
		var msg esa.MarketChangeMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			p.metrics.RecordMalformedFrame()
			return fmt.Errorf("%w: mcm: %v", domain.ErrMalformedFrame, err)
		}
		p.processMarketChange(FromMarketChangeMessage(&msg, start))
	case esa.OpOrderChange:
		p.traceChange(line)
		var msg esa.OrderChangeMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			p.metrics.RecordMalformedFrame()
			return fmt.Errorf("%w: ocm: %v", domain.ErrMalformedFrame, err)
		}
		p.processOrderChange(FromOrderChangeMessage(&msg, start))
	default:
		p.metrics.RecordMalformedFrame()
		return fmt.Errorf("%w: %q", domain.ErrUnknownOperation, op)
	}

	p.metrics.RecordFrame(op, p.now().Sub(start))
	return nil
}

func (p *Processor) processConnection(msg *esa.ConnectionMessage) {
	p.mu.Lock()
	p.connectionID = msg.ConnectionID
	f := p.connection
	p.setStatusLocked(domain.StatusConnected)
	notify := p.snapshotListenersLocked()
	p.mu.Unlock()

	f.resolve(msg)
	notify()
}

func (p *Processor) processStatus(msg *esa.StatusMessage) {
	if !msg.IsSuccess() {
		p.metrics.RecordStatusFailure(msg.ErrorCode)
	}
	if msg.ConnectionClosed {
		p.setStatus(domain.StatusDisconnected)
	}

	if msg.ID == nil {
		p.uncorrelated(msg)
		return
	}

	p.mu.Lock()
	rr, ok := p.pending[*msg.ID]
	if ok {
		delete(p.pending, *msg.ID)
	}
	p.mu.Unlock()

	if !ok {
		p.uncorrelated(msg)
		return
	}
	rr.resolve(msg)
}

func (p *Processor) uncorrelated(msg *esa.StatusMessage) {
	p.metrics.RecordUncorrelatedStatus()
	p.handler.OnErrorStatusNotification(msg)
}

func (p *Processor) processMarketChange(cm *MarketChangeMessage) {
	h := p.MarketHandler()
	if h == nil {
		p.logger.Warn("Market change without subscription", slog.Int("id", cm.ID))
		return
	}
	if cm.SegmentType != SegmentNone {
		p.metrics.RecordSegmentMerged()
	}
	if batch := h.ProcessChangeMessage(cm); batch != nil {
		p.handler.OnMarketChange(batch)
	}
}

func (p *Processor) processOrderChange(cm *OrderChangeMessage) {
	h := p.OrderHandler()
	if h == nil {
		p.logger.Warn("Order change without subscription", slog.Int("id", cm.ID))
		return
	}
	if cm.SegmentType != SegmentNone {
		p.metrics.RecordSegmentMerged()
	}
	if batch := h.ProcessChangeMessage(cm); batch != nil {
		p.handler.OnOrderChange(batch)
	}
}

func (p *Processor) traceChange(line string) {
	if p.TraceChangeTruncation <= 0 {
		return
	}
	if len(line) > p.TraceChangeTruncation {
		line = line[:p.TraceChangeTruncation] + "..."
	}
	p.logger.Debug("Change frame", slog.String("line", line))
}

// ScanOp reads only as far as the "op" field of a frame.
func ScanOp(line string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return "", fmt.Errorf("%w: not an object", domain.ErrMalformedFrame)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
		}
		key, _ := tok.(string)
		if key == "op" {
			var op string
			if err := dec.Decode(&op); err != nil {
				return "", fmt.Errorf("%w: op: %v", domain.ErrMalformedFrame, err)
			}
			return op, nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
		}
	}
	return "", fmt.Errorf("%w: missing op", domain.ErrMalformedFrame)
}
