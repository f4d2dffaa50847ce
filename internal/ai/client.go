package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"omnix-trader/internal/config"
)

// Turn 为对话历史中的一轮。Role 取 user / assistant。
type Turn struct {
	Role    string
	Content string
}

// ErrDisabled 表示未配置 OpenAI 凭证，AI 功能不可用。
var ErrDisabled = errors.New("ai: 未配置 OpenAI 凭证")

const systemPrompt = "Eres OMNIX, un asistente de trading amable y conciso. " +
	"Respondes siempre en español, en pocas frases, y nunca das consejos financieros garantizados."

// Client 封装对话补全与语音合成/转写。凭证缺失时进入禁用模式，
// 所有调用直接短路返回 ErrDisabled。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建 AI 客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}

	client := &Client{
		cfg:    cfg,
		logger: logger,
	}

	if cfg.APIKey == "" {
		logger.Warn("OpenAI 凭证缺失，对话与语音功能已禁用")
		return client
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	sdkCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}
	client.sdk = openai.NewClientWithConfig(sdkCfg)

	return client
}

// Enabled 返回 AI 功能是否可用。
func (c *Client) Enabled() bool {
	return c.sdk != nil
}

// HistoryLimit 返回滚动历史窗口大小（消息条数）。
// 配置的 HistoryTurns 按一问一答计，窗口为其两倍条消息，
// Reply 与调用方的历史裁剪都以该值为准。
func (c *Client) HistoryLimit() int {
	return c.cfg.HistoryTurns * 2
}

// Reply 基于滚动历史生成一条回复。
func (c *Client) Reply(ctx context.Context, history []Turn, text string) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range TrimHistory(history, c.HistoryLimit()) {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: messages,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return "", fmt.Errorf("ai: 调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", errors.New("ai: OpenAI 返回结果为空")
	}

	reply := strings.TrimSpace(response.Choices[0].Message.Content)
	if reply == "" {
		return "", errors.New("ai: OpenAI 返回内容为空")
	}

	return reply, nil
}

// Synthesize 将回复文本合成为语音（ogg/opus），用于语音消息回复。
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	response, err := c.sdk.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.cfg.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.cfg.SpeechVoice),
		ResponseFormat: openai.SpeechResponseFormatOpus,
	})
	if err != nil {
		return nil, fmt.Errorf("ai: 语音合成失败: %w", err)
	}
	defer func() { _ = response.Close() }()

	audio, err := io.ReadAll(response)
	if err != nil {
		return nil, fmt.Errorf("ai: 读取语音数据失败: %w", err)
	}

	return audio, nil
}

// Transcribe 将语音消息转写为文本。
func (c *Client) Transcribe(ctx context.Context, filename string, data []byte) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	response, err := c.sdk.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filename,
		Reader:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("ai: 语音转写失败: %w", err)
	}

	return strings.TrimSpace(response.Text), nil
}

// TrimHistory 裁剪滚动历史到最近 maxTurns 轮。
func TrimHistory(history []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 || len(history) <= maxTurns {
		return history
	}
	return history[len(history)-maxTurns:]
}
