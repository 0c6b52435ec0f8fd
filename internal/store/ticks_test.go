package store

import (
	"testing"
	"time"

	"github.com/tradeview/marketfeed/internal/feed"
	"github.com/tradeview/marketfeed/internal/model"
)

func TestTickWriter_Transform(t *testing.T) {
	w := NewTickWriter(DefaultWriterConfig(), nil, nil)

	receivedAt := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	update := model.PriceUpdate{
		Symbol:    "AAPL",
		Price:     187.25,
		Bid:       187.24,
		Ask:       187.26,
		Volume:    1200,
		Timestamp: 1771234567890,
	}

	row := w.transform(update, receivedAt)

	if row.Symbol != "AAPL" {
		t.Errorf("Symbol = %s, want AAPL", row.Symbol)
	}
	if row.Price != 187.25 {
		t.Errorf("Price = %f, want 187.25", row.Price)
	}
	if row.Bid != 187.24 {
		t.Errorf("Bid = %f, want 187.24", row.Bid)
	}
	if row.Ask != 187.26 {
		t.Errorf("Ask = %f, want 187.26", row.Ask)
	}
	if row.Volume != 1200 {
		t.Errorf("Volume = %d, want 1200", row.Volume)
	}
	if row.ExchangeTs != 1771234567890 {
		t.Errorf("ExchangeTs = %d, want 1771234567890", row.ExchangeTs)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
}

func TestTickWriter_HandlerDecodesPayload(t *testing.T) {
	w := NewTickWriter(DefaultWriterConfig(), nil, nil)
	handler := w.Handler()

	handler(feed.Message{
		Type:       model.TypePriceUpdate,
		Payload:    []byte(`{"symbol":"MSFT","price":415.5,"timestamp":1771234567000}`),
		ReceivedAt: time.Now(),
	})

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	if len(w.batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(w.batch))
	}
	if w.batch[0].Symbol != "MSFT" {
		t.Errorf("Symbol = %s, want MSFT", w.batch[0].Symbol)
	}
	if w.batch[0].ExchangeTs != 1771234567000 {
		t.Errorf("ExchangeTs = %d, want 1771234567000", w.batch[0].ExchangeTs)
	}
}

func TestTickWriter_HandlerTopLevelPayload(t *testing.T) {
	w := NewTickWriter(DefaultWriterConfig(), nil, nil)
	handler := w.Handler()

	raw := []byte(`{"type":"price_update","symbol":"NVDA","price":900.1,"timestamp":1771234568000}`)
	handler(feed.Message{
		Type:       model.TypePriceUpdate,
		Raw:        raw,
		ReceivedAt: time.Now(),
	})

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	if len(w.batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(w.batch))
	}
	if w.batch[0].Symbol != "NVDA" {
		t.Errorf("Symbol = %s, want NVDA", w.batch[0].Symbol)
	}
}

func TestTickWriter_HandlerDropsUndecodable(t *testing.T) {
	w := NewTickWriter(DefaultWriterConfig(), nil, nil)
	handler := w.Handler()

	handler(feed.Message{
		Type:       model.TypePriceUpdate,
		Payload:    []byte(`{"price":"not-a-number"}`),
		ReceivedAt: time.Now(),
	})
	handler(feed.Message{
		Type:       model.TypePriceUpdate,
		Payload:    []byte(`{"price":1.0}`), // missing symbol
		ReceivedAt: time.Now(),
	})

	stats := w.Stats()
	if stats.DecodeErrors != 2 {
		t.Errorf("DecodeErrors = %d, want 2", stats.DecodeErrors)
	}

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	if len(w.batch) != 0 {
		t.Errorf("batch size = %d, want 0", len(w.batch))
	}
}

func TestDefaultWriterConfig(t *testing.T) {
	cfg := DefaultWriterConfig()
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != 1*time.Second {
		t.Errorf("FlushInterval = %v, want 1s", cfg.FlushInterval)
	}
}
