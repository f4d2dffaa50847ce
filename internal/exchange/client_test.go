package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"omnix-trader/internal/config"
)

// Kraken 官方文档给出的签名示例。
const docSecret = "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="

func TestSignRequest_KnownVectors(t *testing.T) {
	client, err := NewClient(config.KrakenConfig{
		APIKey:    "key",
		APISecret: docSecret,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	cases := []struct {
		name     string
		path     string
		nonce    string
		postData string
		want     string
	}{
		{
			name:     "add order (official docs vector)",
			path:     "/0/private/AddOrder",
			nonce:    "1616492376594",
			postData: "nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25",
			want:     "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ==",
		},
		{
			name:     "balance",
			path:     "/0/private/Balance",
			nonce:    "1700000000000001",
			postData: "nonce=1700000000000001",
			want:     "KB/7N28k0/FahFmJwinU48x4ysxAbsxuKZpsxeM7HIi9K9W1TOr+AUPXwEksvTSlVcwcWXjvPkoRJEHVH9/DKw==",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := signRequest(tc.path, tc.nonce, tc.postData, client.secret)
			if got != tc.want {
				t.Errorf("signature mismatch:\n got %s\nwant %s", got, tc.want)
			}
		})
	}
}

func TestClientNonce_StrictlyIncreasing(t *testing.T) {
	client, err := NewClient(config.KrakenConfig{APIKey: "key", APISecret: docSecret}, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n := client.nonce()
				mu.Lock()
				if _, dup := seen[n]; dup {
					t.Errorf("duplicate nonce %d", n)
				}
				seen[n] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	prev := client.nonce()
	for i := 0; i < 100; i++ {
		next := client.nonce()
		if next <= prev {
			t.Fatalf("nonce not increasing: %d then %d", prev, next)
		}
		prev = next
	}
}

func TestBalance_NotConfiguredShortCircuits(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer server.Close()

	client, err := NewClient(config.KrakenConfig{BaseURL: server.URL}, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if _, err := client.Balance(context.Background()); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if hit {
		t.Fatal("unconfigured client must not issue network requests")
	}
}

func TestBalance_DecodesSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/0/private/Balance" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("API-Key") != "key" {
			t.Errorf("missing API-Key header")
		}
		if r.Header.Get("API-Sign") == "" {
			t.Errorf("missing API-Sign header")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if _, err := strconv.ParseInt(r.PostForm.Get("nonce"), 10, 64); err != nil {
			t.Errorf("nonce is not numeric: %q", r.PostForm.Get("nonce"))
		}
		_, _ = w.Write([]byte(`{"error":[],"result":{"ZUSD":"120.5000","XXBT":"0.0150","SOL":"2.0"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	snapshot, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}

	want := Snapshot{"ZUSD": 120.5, "XXBT": 0.015, "SOL": 2.0}
	if len(snapshot) != len(want) {
		t.Fatalf("unexpected snapshot size: got %d want %d", len(snapshot), len(want))
	}
	for asset, qty := range want {
		if snapshot[asset] != qty {
			t.Errorf("asset %s: got %f want %f", asset, snapshot[asset], qty)
		}
	}
}

func TestBalance_EmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":[],"result":{}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	snapshot, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if len(snapshot) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snapshot)
	}
}

func TestAddOrder_Accepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("ordertype"); got != "market" {
			t.Errorf("expected market order, got %q", got)
		}
		if got := r.PostForm.Get("pair"); got != "XXBTZUSD" {
			t.Errorf("unexpected pair %q", got)
		}
		if got := r.PostForm.Get("type"); got != "buy" {
			t.Errorf("unexpected side %q", got)
		}
		_, _ = w.Write([]byte(`{"error":[],"result":{"descr":{"order":"buy 0.00100000 XBTUSD @ market"},"txid":["OU22CG-KLAF2-FWUDD7"]}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	result, err := client.AddOrder(context.Background(), OrderSpec{Pair: "XXBTZUSD", Side: OrderSideBuy, Volume: 0.001})
	if err != nil {
		t.Fatalf("AddOrder returned error: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected accepted order, got %+v", result)
	}
	if result.OrderID != "OU22CG-KLAF2-FWUDD7" {
		t.Errorf("unexpected order id %q", result.OrderID)
	}
}

func TestAddOrder_RejectionIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":["EOrder:Insufficient funds"],"result":null}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	result, err := client.AddOrder(context.Background(), OrderSpec{Pair: "XXBTZUSD", Side: OrderSideBuy, Volume: 0.001})
	if err != nil {
		t.Fatalf("rejection must not surface as error, got %v", err)
	}
	if result.Accepted {
		t.Fatal("expected Accepted=false")
	}
	if !strings.Contains(result.Reason, "Insufficient funds") {
		t.Errorf("expected diagnostic reason, got %q", result.Reason)
	}
}

func TestAddOrder_AuthErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":["EAPI:Invalid key"],"result":null}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.AddOrder(context.Background(), OrderSpec{Pair: "XXBTZUSD", Side: OrderSideBuy, Volume: 0.001})
	if err == nil {
		t.Fatal("expected error for auth failure")
	}
	if !IsAuthError(err) {
		t.Errorf("expected auth error classification, got %v", err)
	}
}

func TestCall_TimeoutClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(config.KrakenConfig{
		APIKey:    "key",
		APISecret: docSecret,
		BaseURL:   server.URL,
		Timeout:   20 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = client.Balance(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Errorf("expected timeout classification, got %v", err)
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.KrakenConfig{
		APIKey:    "key",
		APISecret: docSecret,
		BaseURL:   baseURL,
		Timeout:   5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}
