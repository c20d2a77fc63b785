package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"esa_go/internal/domain"
	"esa_go/internal/esa"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanOp(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    string
		wantErr bool
	}{
		{"op first", `{"op":"mcm","id":1}`, "mcm", false},
		{"op after nested", `{"id":1,"mc":[{"id":"1.1","rc":[{"atb":[[1.5,2]]}]}],"op":"mcm"}`, "mcm", false},
		{"stops at op", `{"op":"status","statusCode":`, "status", false},
		{"missing op", `{"id":1}`, "", true},
		{"not object", `[1,2]`, "", true},
		{"garbage", `not json`, "", true},
		{"op not string", `{"op":12}`, "", true},
		{"truncated", `{"id":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := ScanOp(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrMalformedFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, op)
		})
	}
}

func TestProcessor_ConnectionHandshake(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	msg, err := p.WaitConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "002-test", msg.ConnectionID)
	assert.Equal(t, domain.StatusConnected, p.Status())
	assert.Equal(t, "002-test", p.ConnectionID())
}

func TestProcessor_AuthenticateSuccess(t *testing.T) {
	p, tr, _ := newTestProcessor(t)

	var transitions []string
	p.OnStatusChange(func(old, new domain.ConnectionStatus) {
		transitions = append(transitions, old.String()+"->"+new.String())
	})

	rr, err := p.Authenticate("app", "token")
	require.NoError(t, err)

	sent := tr.last(t)
	assert.Equal(t, "authentication", sent["op"])
	assert.Equal(t, "app", sent["appKey"])
	assert.Equal(t, "token", sent["session"])
	assert.Equal(t, 1, p.PendingCount())

	require.NoError(t, p.ReceiveLine(successFor(rr.ID)))

	status, err := rr.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsSuccess())
	assert.Equal(t, domain.StatusAuthenticated, p.Status())
	assert.Equal(t, 0, p.PendingCount())
	assert.Equal(t, []string{"CONNECTED->AUTHENTICATED"}, transitions)
	assert.False(t, p.LastRequestTime().IsZero())
}

func TestProcessor_AuthenticateFailure(t *testing.T) {
	p, _, h := newTestProcessor(t)

	rr, err := p.Authenticate("app", "bad")
	require.NoError(t, err)

	line := fmt.Sprintf(`{"op":"status","id":%d,"statusCode":"FAILURE","errorCode":"INVALID_SESSION_INFORMATION","errorMessage":"bad token","connectionClosed":true}`, rr.ID)
	require.NoError(t, p.ReceiveLine(line))

	_, err = rr.Wait(context.Background())
	var statusErr *domain.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "INVALID_SESSION_INFORMATION", statusErr.ErrorCode)
	assert.True(t, statusErr.IsSessionError())
	assert.Equal(t, domain.StatusDisconnected, p.Status())
	assert.Empty(t, h.errors, "correlated failure must not reach the error path")
}

func TestProcessor_ConcurrentIDsUnique(t *testing.T) {
	p, tr, _ := newTestProcessor(t)

	const k = 64
	ids := make(chan int, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr, err := p.Heartbeat()
			if err == nil {
				ids <- rr.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, k)
	assert.Equal(t, k, p.PendingCount())

	// ids reach the wire in increasing order
	var wire []int
	for _, line := range tr.lines() {
		var id int
		_, err := fmt.Sscanf(line, `{"op":"heartbeat","id":%d}`, &id)
		require.NoError(t, err)
		wire = append(wire, id)
	}
	assert.True(t, sort.IntsAreSorted(wire))
}

func TestProcessor_UncorrelatedStatus(t *testing.T) {
	p, _, h := newTestProcessor(t)

	rr, err := p.Heartbeat()
	require.NoError(t, err)

	require.NoError(t, p.ReceiveLine(`{"op":"status","statusCode":"FAILURE","errorCode":"SUBSCRIPTION_LIMIT_EXCEEDED"}`))
	require.NoError(t, p.ReceiveLine(`{"op":"status","id":999,"statusCode":"SUCCESS"}`))

	require.Len(t, h.errors, 2)
	assert.Nil(t, h.errors[0].ID)
	assert.Equal(t, 999, *h.errors[1].ID)

	// the real pending request is untouched
	assert.Equal(t, 1, p.PendingCount())
	select {
	case <-rr.Done():
		t.Fatal("unrelated status resolved a pending request")
	default:
	}
}

func TestProcessor_DisconnectedCancelsPending(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	rr, err := p.Heartbeat()
	require.NoError(t, err)
	sub, err := p.MarketSubscription(&esa.MarketSubscriptionMessage{})
	require.NoError(t, err)
	require.NoError(t, p.ReceiveLine(successFor(sub.ID)))
	require.NotNil(t, p.MarketHandler())

	p.Disconnected()

	_, err = rr.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Equal(t, domain.StatusDisconnected, p.Status())
	assert.Equal(t, 0, p.PendingCount())
	assert.NotNil(t, p.MarketHandler(), "handler kept for resubscription")

	_, err = p.Heartbeat()
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.WaitConnection(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a fresh handshake future awaits the next connection")
}

func TestProcessor_StoppedDiscardsHandlers(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	sub, err := p.OrderSubscription(&esa.OrderSubscriptionMessage{})
	require.NoError(t, err)
	require.NoError(t, p.ReceiveLine(successFor(sub.ID)))
	handler := p.OrderHandler()
	require.NotNil(t, handler)

	pending, err := p.Heartbeat()
	require.NoError(t, err)

	p.Stopped()

	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Nil(t, p.OrderHandler())
	assert.Nil(t, p.MarketHandler())
	assert.ErrorIs(t, handler.Wait(context.Background()), domain.ErrCancelled)
	assert.Equal(t, domain.StatusStopped, p.Status())
}

func TestProcessor_SubscriptionReplacesHandler(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	first, err := p.MarketSubscription(&esa.MarketSubscriptionMessage{})
	require.NoError(t, err)
	require.NoError(t, p.ReceiveLine(successFor(first.ID)))
	old := p.MarketHandler()

	second, err := p.MarketSubscription(&esa.MarketSubscriptionMessage{})
	require.NoError(t, err)
	require.NoError(t, p.ReceiveLine(successFor(second.ID)))

	assert.NotSame(t, old, p.MarketHandler())
	assert.Equal(t, second.ID, p.MarketHandler().SubscriptionID())
	assert.ErrorIs(t, old.Wait(context.Background()), domain.ErrCancelled)
	assert.Equal(t, domain.StatusSubscribed, p.Status())
}

func TestProcessor_FailedSubscriptionKeepsHandler(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	rr, err := p.MarketSubscription(&esa.MarketSubscriptionMessage{})
	require.NoError(t, err)
	require.NoError(t, p.ReceiveLine(fmt.Sprintf(`{"op":"status","id":%d,"statusCode":"FAILURE","errorCode":"INVALID_INPUT"}`, rr.ID)))

	_, err = rr.Wait(context.Background())
	assert.Error(t, err)
	assert.Nil(t, p.MarketHandler())
	assert.Equal(t, domain.StatusConnected, p.Status())
}

func TestProcessor_MarketChangeRouting(t *testing.T) {
	p, _, h := newTestProcessor(t)

	rr, err := p.MarketSubscription(&esa.MarketSubscriptionMessage{})
	require.NoError(t, err)
	require.NoError(t, p.ReceiveLine(successFor(rr.ID)))

	lines := []string{
		fmt.Sprintf(`{"op":"mcm","id":%d,"ct":"SUB_IMAGE","segmentType":"SEG_START","initialClk":"1","clk":"2","mc":[{"id":"1.1"}]}`, rr.ID),
		fmt.Sprintf(`{"op":"mcm","id":%d,"ct":"SUB_IMAGE","segmentType":"SEG","clk":"3","mc":[{"id":"1.2"}]}`, rr.ID),
		fmt.Sprintf(`{"op":"mcm","id":%d,"ct":"SUB_IMAGE","segmentType":"SEG_END","clk":"4","mc":[{"id":"1.3"}]}`, rr.ID),
		fmt.Sprintf(`{"op":"mcm","id":%d,"clk":"5","mc":[{"id":"1.2"}]}`, rr.ID),
	}
	for i, line := range lines {
		require.NoError(t, p.ReceiveLine(line))
		if i < 2 {
			assert.Empty(t, h.markets, "segments are not delivered early")
		}
	}

	require.Len(t, h.markets, 2)
	assert.Equal(t, []string{"1.1", "1.2", "1.3"}, marketIDs(h.markets[0]))
	assert.True(t, h.markets[0].IsStartOfNewSubscription())
	assert.Equal(t, []string{"1.2"}, marketIDs(h.markets[1]))
	assert.Equal(t, "5", p.MarketHandler().Clk())
	assert.Equal(t, "1", p.MarketHandler().InitialClk())
}

func TestProcessor_ResubscribeCarriesTokens(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	rr, err := p.MarketSubscription(&esa.MarketSubscriptionMessage{
		MarketFilter: &esa.MarketFilter{MarketIDs: []string{"1.1"}},
	})
	require.NoError(t, err)
	require.NoError(t, p.ReceiveLine(successFor(rr.ID)))
	require.NoError(t, p.ReceiveLine(fmt.Sprintf(`{"op":"mcm","id":%d,"ct":"SUB_IMAGE","initialClk":"1","clk":"3","mc":[{"id":"1.1","img":true}]}`, rr.ID)))
	require.NoError(t, p.ReceiveLine(fmt.Sprintf(`{"op":"mcm","id":%d,"clk":"5","mc":[{"id":"1.1"}]}`, rr.ID)))

	p.Disconnected()

	next := &fakeTransport{}
	p.Attach(next)
	require.NoError(t, p.ReceiveLine(`{"op":"connection","connectionId":"002-second"}`))

	_, err = p.MarketSubscription(p.MarketHandler().ResubscribeMessage())
	require.NoError(t, err)

	sent := next.last(t)
	assert.Equal(t, "marketSubscription", sent["op"])
	assert.Equal(t, "5", sent["clk"])
	assert.Equal(t, "1", sent["initialClk"])
	assert.Equal(t, []any{"1.1"}, sent["marketFilter"].(map[string]any)["marketIds"])
}

func TestProcessor_ResubscribeTokensSurviveSecondDrop(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	rr, err := p.MarketSubscription(&esa.MarketSubscriptionMessage{})
	require.NoError(t, err)
	require.NoError(t, p.ReceiveLine(successFor(rr.ID)))
	require.NoError(t, p.ReceiveLine(fmt.Sprintf(`{"op":"mcm","id":%d,"ct":"SUB_IMAGE","initialClk":"1","clk":"5","mc":[{"id":"1.1","img":true}]}`, rr.ID)))

	for i := 0; i < 2; i++ {
		p.Disconnected()
		p.Attach(&fakeTransport{})
		require.NoError(t, p.ReceiveLine(fmt.Sprintf(`{"op":"connection","connectionId":"002-%d"}`, i)))

		resub := p.MarketHandler().ResubscribeMessage()
		assert.Equal(t, "5", resub.Clk, "reconnect %d", i)
		assert.Equal(t, "1", resub.InitialClk, "reconnect %d", i)

		next, err := p.MarketSubscription(resub)
		require.NoError(t, err)
		require.NoError(t, p.ReceiveLine(successFor(next.ID)))
		require.Equal(t, next.ID, p.MarketHandler().SubscriptionID())
	}

	// no batch arrived since the last resubscribe
	assert.Equal(t, "5", p.MarketHandler().Clk())
	assert.Equal(t, "1", p.MarketHandler().InitialClk())
}

func TestProcessor_MalformedFramesSkipped(t *testing.T) {
	p, _, h := newTestProcessor(t)

	rr, err := p.MarketSubscription(&esa.MarketSubscriptionMessage{})
	require.NoError(t, err)
	require.NoError(t, p.ReceiveLine(successFor(rr.ID)))

	assert.ErrorIs(t, p.ReceiveLine(`{"op":"mcm","id":`), domain.ErrMalformedFrame)
	assert.ErrorIs(t, p.ReceiveLine(`{"op":"mcm","mc":"not-a-list"}`), domain.ErrMalformedFrame)
	assert.ErrorIs(t, p.ReceiveLine(`{"op":"bogus"}`), domain.ErrUnknownOperation)

	require.NoError(t, p.ReceiveLine(fmt.Sprintf(`{"op":"mcm","id":%d,"clk":"9","mc":[{"id":"1.9"}]}`, rr.ID)))
	require.Len(t, h.markets, 1)
	assert.Equal(t, []string{"1.9"}, marketIDs(h.markets[0]))
}

func TestProcessor_SendFailureRemovesPending(t *testing.T) {
	p, tr, _ := newTestProcessor(t)
	tr.sendErr = errors.New("broken pipe")

	_, err := p.Heartbeat()
	var netErr *domain.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.True(t, domain.IsRetriable(err))
	assert.Equal(t, 0, p.PendingCount())
}
