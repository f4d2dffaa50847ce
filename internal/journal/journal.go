package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"omnix-trader/internal/store"
)

// TradeRecord 为一笔已执行订单的追加式记录，写入后不再修改。
type TradeRecord struct {
	ID        string
	Pair      string
	Side      string
	Volume    float64
	Price     float64
	USDValue  float64
	OrderID   string
	Status    string
	Origin    string
	CreatedAt time.Time
}

// ConversationEntry 为一轮对话记录。
type ConversationEntry struct {
	ChatID   int64
	UserName string
	Role     string
	Content  string
}

// Service 负责持久化交易流水、用户活跃度与对话日志。
// 全部写入尽力而为：日志失败只告警，绝不阻塞交易或聊天路径。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化日志服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS trade_history (
	id TEXT PRIMARY KEY,
	pair TEXT NOT NULL,
	side TEXT NOT NULL,
	volume REAL NOT NULL,
	price REAL NOT NULL DEFAULT 0,
	usd_value REAL NOT NULL DEFAULT 0,
	order_id TEXT,
	status TEXT NOT NULL,
	origin TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_history_created ON trade_history(created_at);
CREATE TABLE IF NOT EXISTS user_activity (
	chat_id INTEGER NOT NULL,
	command TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	last_seen TEXT NOT NULL,
	PRIMARY KEY (chat_id, command)
);
CREATE TABLE IF NOT EXISTS conversation_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL,
	user_name TEXT,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_chat ON conversation_log(chat_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

// RecordTrade 追加一笔交易流水。
func (s *Service) RecordTrade(ctx context.Context, record TradeRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trade_history (id, pair, side, volume, price, usd_value, order_id, status, origin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Pair, record.Side, record.Volume, record.Price,
		record.USDValue, record.OrderID, record.Status, record.Origin,
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		s.logger.Warn("记录交易流水失败", zap.Error(err), zap.String("pair", record.Pair))
	}
}

// RecordActivity 累计用户命令使用次数。
func (s *Service) RecordActivity(ctx context.Context, chatID int64, command string) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_activity (chat_id, command, count, last_seen) VALUES (?, ?, 1, ?)
		 ON CONFLICT(chat_id, command) DO UPDATE SET count = count + 1, last_seen = excluded.last_seen`,
		chatID, command, now,
	)
	if err != nil {
		s.logger.Warn("记录用户活跃度失败", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}

// RecordConversation 追加一条对话记录。
func (s *Service) RecordConversation(ctx context.Context, entry ConversationEntry) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_log (chat_id, user_name, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ChatID, entry.UserName, entry.Role, entry.Content,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		s.logger.Warn("记录对话日志失败", zap.Error(err), zap.Int64("chat_id", entry.ChatID))
	}
}

// RecentTrades 返回最近 limit 条交易流水，按时间倒序。
func (s *Service) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pair, side, volume, price, usd_value, COALESCE(order_id, ''), status, origin, created_at
		 FROM trade_history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询交易流水失败: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []TradeRecord
	for rows.Next() {
		var record TradeRecord
		var createdAt string
		if err := rows.Scan(&record.ID, &record.Pair, &record.Side, &record.Volume, &record.Price,
			&record.USDValue, &record.OrderID, &record.Status, &record.Origin, &createdAt); err != nil {
			return nil, fmt.Errorf("journal: 扫描交易流水失败: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			record.CreatedAt = ts
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 遍历交易流水失败: %w", err)
	}

	return records, nil
}
