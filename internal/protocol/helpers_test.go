package protocol

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"esa_go/internal/esa"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (f *fakeTransport) SendLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, line)
	return nil
}

func (f *fakeTransport) ReadLine() (string, error) { return "", io.EOF }
func (f *fakeTransport) Close() error              { return nil }

func (f *fakeTransport) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) last(t *testing.T) map[string]any {
	t.Helper()
	lines := f.lines()
	require.NotEmpty(t, lines, "nothing sent")
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &m))
	return m
}

type recordingHandler struct {
	mu      sync.Mutex
	errors  []*esa.StatusMessage
	markets []*MarketChangeMessage
	orders  []*OrderChangeMessage
}

func (h *recordingHandler) OnErrorStatusNotification(msg *esa.StatusMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
}

func (h *recordingHandler) OnMarketChange(cm *MarketChangeMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.markets = append(h.markets, cm)
}

func (h *recordingHandler) OnOrderChange(cm *OrderChangeMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orders = append(h.orders, cm)
}

func newTestProcessor(t *testing.T) (*Processor, *fakeTransport, *recordingHandler) {
	t.Helper()
	h := &recordingHandler{}
	p := NewProcessor(h, nil)
	tr := &fakeTransport{}
	p.Attach(tr)
	require.NoError(t, p.ReceiveLine(`{"op":"connection","connectionId":"002-test"}`))
	return p, tr, h
}

func successFor(id int) string {
	b, _ := json.Marshal(map[string]any{"op": "status", "id": id, "statusCode": "SUCCESS"})
	return string(b)
}

func marketIDs(cm *MarketChangeMessage) []string {
	ids := make([]string, 0, len(cm.Items))
	for _, mc := range cm.Items {
		ids = append(ids, mc.ID)
	}
	return ids
}
