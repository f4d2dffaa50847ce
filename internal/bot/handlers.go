package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"go.uber.org/zap"

	"omnix-trader/internal/exchange"
	"omnix-trader/internal/journal"
)

const msgApology = "Lo siento, algo salió mal. Inténtalo de nuevo más tarde."

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userName := message.From.UserName

	switch {
	case message.IsCommand():
		command := message.Command()
		if b.journal != nil {
			b.journal.RecordActivity(ctx, chatID, command)
		}
		b.handleCommand(ctx, chatID, command)
	case message.Voice != nil:
		if b.journal != nil {
			b.journal.RecordActivity(ctx, chatID, "voice")
		}
		b.handleVoice(ctx, chatID, userName, message.Voice)
	case message.Text != "":
		if b.journal != nil {
			b.journal.RecordActivity(ctx, chatID, "message")
		}
		b.handleText(ctx, chatID, userName, message.Text, false)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, command string) {
	switch command {
	case "start":
		b.reply(chatID, "Bot iniciado correctamente. Comandos: /balance /prices /comprar /vender /trading")
	case "balance":
		b.handleBalance(ctx, chatID)
	case "prices":
		b.handlePrices(ctx, chatID)
	case "comprar":
		b.handleManual(ctx, chatID, exchange.OrderSideBuy)
	case "vender":
		b.handleManual(ctx, chatID, exchange.OrderSideSell)
	case "trading":
		b.handleTrading(ctx, chatID)
	default:
		b.reply(chatID, "Comando desconocido. Prueba /start")
	}
}

func (b *Bot) handleBalance(ctx context.Context, chatID int64) {
	if !b.venue.Configured() {
		b.reply(chatID, "El exchange no está configurado todavía.")
		return
	}

	snapshot, err := b.venue.Balance(ctx)
	if err != nil {
		b.logger.Error("查询余额失败", zap.Error(err))
		b.reply(chatID, msgApology)
		return
	}

	b.reply(chatID, formatBalance(snapshot))
}

func (b *Bot) handlePrices(ctx context.Context, chatID int64) {
	quotes, err := b.feed.Quotes(ctx)
	if err != nil {
		b.logger.Error("拉取行情失败", zap.Error(err))
		b.reply(chatID, msgApology)
		return
	}

	b.reply(chatID, formatQuotes(quotes))
}

func (b *Bot) handleManual(ctx context.Context, chatID int64, side exchange.OrderSide) {
	report, err := b.desk.ManualOrder(ctx, side)
	if err != nil {
		b.logger.Error("手动下单失败", zap.Error(err), zap.String("side", string(side)))
		b.reply(chatID, msgApology)
		return
	}

	switch {
	case report.Skipped != "":
		b.reply(chatID, formatGateDenied(report))
	case report.Result != nil && report.Result.Accepted:
		if side == exchange.OrderSideBuy {
			b.reply(chatID, fmt.Sprintf("Compra realizada correctamente. Orden %s", report.Result.OrderID))
		} else {
			b.reply(chatID, fmt.Sprintf("Venta ejecutada con éxito. Orden %s", report.Result.OrderID))
		}
	case report.Result != nil:
		b.reply(chatID, fmt.Sprintf("El exchange rechazó la orden: %s", report.Result.Reason))
	default:
		b.reply(chatID, msgApology)
	}
}

func (b *Bot) handleTrading(ctx context.Context, chatID int64) {
	report, err := b.desk.TriggerNow(ctx)
	if err != nil {
		b.logger.Error("手动触发决策周期失败", zap.Error(err))
		b.reply(chatID, msgApology)
		return
	}

	gate, gateErr := b.gates.CanTradeToday(ctx, time.Now())
	if gateErr != nil {
		gate = report.Gate
	}

	b.reply(chatID, formatTradingStatus(report, gate, b.desk.Interval()))
}

func (b *Bot) handleText(ctx context.Context, chatID int64, userName, text string, asVoice bool) {
	if b.journal != nil {
		b.journal.RecordConversation(ctx, journal.ConversationEntry{
			ChatID: chatID, UserName: userName, Role: "user", Content: text,
		})
	}

	if b.ai == nil || !b.ai.Enabled() {
		b.reply(chatID, "Mensaje recibido.")
		return
	}

	reply, err := b.ai.Reply(ctx, b.history(chatID), text)
	if err != nil {
		b.logger.Error("生成AI回复失败", zap.Error(err))
		b.reply(chatID, msgApology)
		return
	}

	b.remember(chatID, text, reply)
	if b.journal != nil {
		b.journal.RecordConversation(ctx, journal.ConversationEntry{
			ChatID: chatID, Role: "assistant", Content: reply,
		})
	}

	b.reply(chatID, reply)

	if asVoice {
		audio, synthErr := b.ai.Synthesize(ctx, reply)
		if synthErr != nil {
			b.logger.Warn("语音合成失败", zap.Error(synthErr))
			return
		}
		b.replyVoice(chatID, audio)
	}
}

func (b *Bot) handleVoice(ctx context.Context, chatID int64, userName string, voice *tgbotapi.Voice) {
	if b.ai == nil || !b.ai.Enabled() {
		b.reply(chatID, "Lo siento, todavía no puedo procesar notas de voz.")
		return
	}

	fileURL, err := b.api.GetFileDirectURL(voice.FileID)
	if err != nil {
		b.logger.Error("获取语音文件地址失败", zap.Error(err))
		b.reply(chatID, msgApology)
		return
	}

	audio, err := b.download(ctx, fileURL)
	if err != nil {
		b.logger.Error("下载语音文件失败", zap.Error(err))
		b.reply(chatID, msgApology)
		return
	}

	text, err := b.ai.Transcribe(ctx, "voice.ogg", audio)
	if err != nil {
		b.logger.Error("语音转写失败", zap.Error(err))
		b.reply(chatID, msgApology)
		return
	}
	if text == "" {
		b.reply(chatID, "No pude entender la nota de voz. ¿Puedes repetirla?")
		return
	}

	b.handleText(ctx, chatID, userName, text, true)
}
