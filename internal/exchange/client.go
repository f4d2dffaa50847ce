package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"omnix-trader/internal/config"
)

const (
	balancePath  = "/0/private/Balance"
	addOrderPath = "/0/private/AddOrder"
)

// Client 直接对接 Kraken REST 私有接口，负责 nonce 生成与请求签名。
// 本层不做重试：每次调用都是一笔有真实资金后果的网络请求，
// 是否重试由调用方决定。
type Client struct {
	cfg        config.KrakenConfig
	httpClient *http.Client
	logger     *zap.Logger
	secret     []byte
	lastNonce  atomic.Int64
}

// NewClient 构造 Kraken 客户端。凭证缺失时客户端可用但处于未配置模式。
func NewClient(cfg config.KrakenConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kraken.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var secret []byte
	if cfg.APISecret != "" {
		decoded, err := base64.StdEncoding.DecodeString(cfg.APISecret)
		if err != nil {
			return nil, fmt.Errorf("exchange: 解析 API 密钥失败: %w", err)
		}
		secret = decoded
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		secret:     secret,
	}, nil
}

// Configured 返回是否已配置交易凭证。
func (c *Client) Configured() bool {
	return c.cfg.APIKey != "" && len(c.secret) > 0
}

// Balance 查询账户余额。交易所无持仓时返回空快照。
func (c *Client) Balance(ctx context.Context) (Snapshot, error) {
	var raw map[string]string
	if err := c.call(ctx, balancePath, url.Values{}, &raw); err != nil {
		return nil, err
	}

	snapshot := make(Snapshot, len(raw))
	for asset, qty := range raw {
		value, err := strconv.ParseFloat(qty, 64)
		if err != nil {
			return nil, fmt.Errorf("exchange: 解析余额数值失败 (%s=%q): %w", asset, qty, err)
		}
		snapshot[asset] = value
	}

	return snapshot, nil
}

// AddOrder 提交市价单。交易所拒单返回 Accepted=false 而非 error。
func (c *Client) AddOrder(ctx context.Context, spec OrderSpec) (OrderResult, error) {
	if spec.Pair == "" || spec.Volume <= 0 {
		return OrderResult{}, fmt.Errorf("exchange: 非法订单参数 pair=%q volume=%f", spec.Pair, spec.Volume)
	}

	values := url.Values{}
	values.Set("pair", spec.Pair)
	values.Set("type", string(spec.Side))
	values.Set("ordertype", "market")
	values.Set("volume", strconv.FormatFloat(spec.Volume, 'f', -1, 64))

	var raw struct {
		Descr struct {
			Order string `json:"order"`
		} `json:"descr"`
		TxID []string `json:"txid"`
	}

	if err := c.call(ctx, addOrderPath, values, &raw); err != nil {
		var venueErr *VenueError
		if errors.As(err, &venueErr) && isRejection(venueErr) {
			c.logger.Warn("交易所拒单",
				zap.String("pair", spec.Pair),
				zap.String("side", string(spec.Side)),
				zap.Float64("volume", spec.Volume),
				zap.Strings("codes", venueErr.Codes),
			)
			return OrderResult{Accepted: false, Reason: strings.Join(venueErr.Codes, "; ")}, nil
		}
		return OrderResult{}, err
	}

	orderID := ""
	if len(raw.TxID) > 0 {
		orderID = raw.TxID[0]
	}

	c.logger.Info("订单已被交易所接受",
		zap.String("pair", spec.Pair),
		zap.String("side", string(spec.Side)),
		zap.Float64("volume", spec.Volume),
		zap.String("order_id", orderID),
	)

	return OrderResult{
		OrderID:     orderID,
		Accepted:    true,
		Description: raw.Descr.Order,
	}, nil
}

// call 执行一次签名后的私有接口调用并解码响应包络。
func (c *Client) call(ctx context.Context, path string, values url.Values, out interface{}) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	nonce := strconv.FormatInt(c.nonce(), 10)
	values.Set("nonce", nonce)
	postData := values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(postData))
	if err != nil {
		return fmt.Errorf("exchange: 构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.cfg.APIKey)
	req.Header.Set("API-Sign", signRequest(path, nonce, postData, c.secret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: 请求 %s 失败: %w", path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange: %s 返回非预期状态码 %d", path, resp.StatusCode)
	}

	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("exchange: 解码 %s 响应失败: %w", path, err)
	}

	if len(envelope.Error) > 0 {
		return &VenueError{Codes: envelope.Error}
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("exchange: 解析 %s 结果失败: %w", path, err)
		}
	}

	return nil
}

// nonce 返回严格单调递增的微秒级 nonce。
// 墙钟回拨时在上一个值的基础上加一，保证不重复。
func (c *Client) nonce() int64 {
	for {
		now := time.Now().UnixMicro()
		prev := c.lastNonce.Load()
		if now <= prev {
			now = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// signRequest 计算 Kraken 要求的请求签名：
// base64(HMAC-SHA512(secret, path + SHA256(nonce + postData)))。
func signRequest(path, nonce, postData string, secret []byte) string {
	sum := sha256.Sum256([]byte(nonce + postData))

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
