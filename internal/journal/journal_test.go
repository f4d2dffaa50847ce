package journal

import (
	"context"
	"testing"

	"omnix-trader/internal/config"
	"omnix-trader/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	svc, err := NewService(s, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestRecordTrade_AppendOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordTrade(ctx, TradeRecord{
		Pair: "XXBTZUSD", Side: "buy", Volume: 0.001, Price: 43000,
		USDValue: 43, OrderID: "OU22CG-KLAF2-FWUDD7", Status: "accepted", Origin: "scheduler",
	})
	svc.RecordTrade(ctx, TradeRecord{
		Pair: "SOLZUSD", Side: "sell", Volume: 0.6, Status: "rejected", Origin: "manual",
	})

	records, err := svc.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTrades returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, record := range records {
		if record.ID == "" {
			t.Error("record must receive a generated id")
		}
		if record.CreatedAt.IsZero() {
			t.Error("record must receive a timestamp")
		}
	}
}

func TestRecordActivity_CountsPerChatAndCommand(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordActivity(ctx, 42, "balance")
	svc.RecordActivity(ctx, 42, "balance")
	svc.RecordActivity(ctx, 42, "prices")
	svc.RecordActivity(ctx, 7, "balance")

	var count int
	row := svc.db.QueryRow(`SELECT count FROM user_activity WHERE chat_id = 42 AND command = 'balance'`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}

	var rows int
	if err := svc.db.QueryRow(`SELECT COUNT(*) FROM user_activity`).Scan(&rows); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rows != 3 {
		t.Errorf("expected 3 distinct counters, got %d", rows)
	}
}

func TestRecordConversation_Persists(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordConversation(ctx, ConversationEntry{ChatID: 42, UserName: "ana", Role: "user", Content: "hola"})
	svc.RecordConversation(ctx, ConversationEntry{ChatID: 42, Role: "assistant", Content: "¡Hola!"})

	var rows int
	if err := svc.db.QueryRow(`SELECT COUNT(*) FROM conversation_log WHERE chat_id = 42`).Scan(&rows); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rows != 2 {
		t.Errorf("expected 2 conversation rows, got %d", rows)
	}
}
