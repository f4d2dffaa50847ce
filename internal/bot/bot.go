package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"go.uber.org/zap"

	"omnix-trader/internal/ai"
	"omnix-trader/internal/config"
	"omnix-trader/internal/exchange"
	"omnix-trader/internal/journal"
	"omnix-trader/internal/ledger"
	"omnix-trader/internal/market"
	"omnix-trader/internal/trader"
)

// botAPI 抽象 Telegram 客户端，便于测试替换。
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) (tgbotapi.UpdatesChannel, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

type venueClient interface {
	Balance(ctx context.Context) (exchange.Snapshot, error)
	Configured() bool
}

type quoteFeed interface {
	Quotes(ctx context.Context) ([]market.Quote, error)
}

type tradeDesk interface {
	TriggerNow(ctx context.Context) (trader.CycleReport, error)
	ManualOrder(ctx context.Context, side exchange.OrderSide) (trader.CycleReport, error)
	Interval() time.Duration
}

type gateReader interface {
	CanTradeToday(ctx context.Context, now time.Time) (ledger.Gate, error)
}

type assistant interface {
	Enabled() bool
	HistoryLimit() int
	Reply(ctx context.Context, history []ai.Turn, text string) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Transcribe(ctx context.Context, filename string, data []byte) (string, error)
}

type journalSink interface {
	RecordActivity(ctx context.Context, chatID int64, command string)
	RecordConversation(ctx context.Context, entry journal.ConversationEntry)
}

// Bot 为 Telegram 聊天前端：命令走交易/行情只读路径，
// 自由文本与语音走 AI 对话路径。所有内部错误对用户降级为
// 统一的道歉消息，绝不外泄细节。
type Bot struct {
	api     botAPI
	cfg     config.TelegramConfig
	logger  *zap.Logger
	venue   venueClient
	feed    quoteFeed
	desk    tradeDesk
	gates   gateReader
	ai      assistant
	journal journalSink

	httpClient *http.Client

	historyMu sync.Mutex
	histories map[int64][]ai.Turn
}

// NewBot 创建 Telegram 前端并校验 token。
func NewBot(cfg config.TelegramConfig, venue venueClient, feed quoteFeed, desk tradeDesk, gates gateReader, assistant assistant, journal journalSink, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bot: 创建 Telegram 客户端失败: %w", err)
	}
	api.Buffer = 0

	return newBot(api, cfg, venue, feed, desk, gates, assistant, journal, logger), nil
}

func newBot(api botAPI, cfg config.TelegramConfig, venue venueClient, feed quoteFeed, desk tradeDesk, gates gateReader, assistant assistant, journal journalSink, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}

	return &Bot{
		api:        api,
		cfg:        cfg,
		logger:     logger,
		venue:      venue,
		feed:       feed,
		desk:       desk,
		gates:      gates,
		ai:         assistant,
		journal:    journal,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		histories:  make(map[int64][]ai.Turn),
	}
}

// Run 长轮询 Telegram 更新，直到 ctx 取消。
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout

	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		return fmt.Errorf("bot: 订阅更新失败: %w", err)
	}

	b.logger.Info("Telegram 前端已启动", zap.Int("poll_timeout", b.cfg.PollTimeout))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram 前端停止")
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("bot: 更新通道已关闭")
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("发送消息失败", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) replyVoice(chatID int64, audio []byte) {
	msg := tgbotapi.NewVoiceUpload(chatID, tgbotapi.FileBytes{Name: "omnix.ogg", Bytes: audio})
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("发送语音失败", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bot: 构造下载请求失败: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bot: 下载语音文件失败: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bot: 下载语音文件返回状态码 %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (b *Bot) history(chatID int64) []ai.Turn {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	return b.histories[chatID]
}

func (b *Bot) remember(chatID int64, userText, reply string) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	limit := 20
	if b.ai != nil {
		limit = b.ai.HistoryLimit()
	}

	history := append(b.histories[chatID],
		ai.Turn{Role: "user", Content: userText},
		ai.Turn{Role: "assistant", Content: reply},
	)
	b.histories[chatID] = ai.TrimHistory(history, limit)
}
