package market

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"omnix-trader/internal/config"
)

func TestEnsureMarketsLoaded_LoadsOnceUnderConcurrency(t *testing.T) {
	feed := NewFeed(config.MarketConfig{}, nil)

	var calls atomic.Int32
	feed.loadMarkets = func() error {
		calls.Add(1)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.ensureMarketsLoaded(context.Background()); err != nil {
				t.Errorf("ensureMarketsLoaded returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly one load, got %d", got)
	}
}

func TestEnsureMarketsLoaded_RetriesAfterFailure(t *testing.T) {
	feed := NewFeed(config.MarketConfig{}, nil)

	var calls int
	feed.loadMarkets = func() error {
		calls++
		if calls == 1 {
			return errors.New("kraken temporalmente caído")
		}
		return nil
	}

	if err := feed.ensureMarketsLoaded(context.Background()); err == nil {
		t.Fatal("first load must surface the failure")
	}
	if err := feed.ensureMarketsLoaded(context.Background()); err != nil {
		t.Fatalf("second load must retry and succeed: %v", err)
	}
	if err := feed.ensureMarketsLoaded(context.Background()); err != nil {
		t.Fatalf("loaded feed must short-circuit: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 load attempts, got %d", calls)
	}
}

func TestUnifiedSymbol(t *testing.T) {
	cases := map[string]string{
		"XXBTZUSD": "BTC/USD",
		"XETHZUSD": "ETH/USD",
		"SOLZUSD":  "SOL/USD",
		"XXDGZUSD": "DOGE/USD",
		"XETHZEUR": "ETH/EUR",
		"BTC/USD":  "BTC/USD",
		"SOLUSD":   "SOL/USD",
	}

	for input, want := range cases {
		if got := UnifiedSymbol(input); got != want {
			t.Errorf("UnifiedSymbol(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestQuoteFromCloses(t *testing.T) {
	closes := make([]float64, 48)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	quote, err := quoteFromCloses("BTC/USD", closes, 24)
	if err != nil {
		t.Fatalf("quoteFromCloses returned error: %v", err)
	}

	if quote.Last != 147 {
		t.Errorf("expected last close 147, got %f", quote.Last)
	}

	// 24根前的收盘价为 123：(147-123)/123*100
	wantChange := (147.0 - 123.0) / 123.0 * 100
	if math.Abs(quote.Change24Pct-wantChange) > 1e-9 {
		t.Errorf("expected change %.4f%%, got %.4f%%", wantChange, quote.Change24Pct)
	}

	// SMA24 取最后24根：124..147 的均值
	wantSMA := (124.0 + 147.0) / 2
	if math.Abs(quote.SMA-wantSMA) > 1e-9 {
		t.Errorf("expected SMA %.4f, got %.4f", wantSMA, quote.SMA)
	}
}

func TestQuoteFromCloses_ShortSeries(t *testing.T) {
	quote, err := quoteFromCloses("SOL/USD", []float64{140.5}, 24)
	if err != nil {
		t.Fatalf("quoteFromCloses returned error: %v", err)
	}
	if quote.Last != 140.5 {
		t.Errorf("expected last 140.5, got %f", quote.Last)
	}
	if quote.Change24Pct != 0 || quote.SMA != 0 {
		t.Errorf("short series must leave derived fields zero, got %+v", quote)
	}

	if _, err := quoteFromCloses("SOL/USD", nil, 24); err == nil {
		t.Error("empty series must error")
	}
}
