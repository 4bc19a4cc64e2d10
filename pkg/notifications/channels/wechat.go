package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Rito-w/drone/pkg/notifications"
)

// WeChatRobot posts text messages to a WeCom group robot. RecipientAddress
// holds the robot key, or a full webhook URL.
type WeChatRobot struct {
	client  *http.Client
	baseURL string
	breaker *CircuitBreaker
}

var _ notifications.ChannelSender = (*WeChatRobot)(nil)

type WeChatOption func(*WeChatRobot)

// WithWeChatHTTPClient replaces the default client, e.g. for tests.
func WithWeChatHTTPClient(c *http.Client) WeChatOption {
	return func(r *WeChatRobot) {
		if c != nil {
			r.client = c
		}
	}
}

// WithWeChatBreaker replaces the default circuit breaker.
func WithWeChatBreaker(cb *CircuitBreaker) WeChatOption {
	return func(r *WeChatRobot) {
		if cb != nil {
			r.breaker = cb
		}
	}
}

func NewWeChatRobot(cfg WeChatConfig, opts ...WeChatOption) *WeChatRobot {
	r := &WeChatRobot{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: cfg.WebhookURL,
		breaker: NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerSuccesses, cfg.BreakerCooldown),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type robotText struct {
	Content string `json:"content"`
}

type robotMessage struct {
	MsgType string    `json:"msgtype"`
	Text    robotText `json:"text"`
}

type robotReply struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (r *WeChatRobot) Send(ctx context.Context, n notifications.Notification) notifications.Result {
	if err := ctx.Err(); err != nil {
		return notifications.Failed(err.Error())
	}
	endpoint, err := r.endpoint(n.RecipientAddress)
	if err != nil {
		return notifications.Failed(err.Error())
	}
	if !r.breaker.Allow() {
		return notifications.Failed(ReasonCircuitOpen)
	}

	if err := r.post(ctx, endpoint, robotMessage{MsgType: "text", Text: robotText{Content: smsBody(n)}}); err != nil {
		r.breaker.RecordFailure()
		return notifications.Failed(err.Error())
	}
	r.breaker.RecordSuccess()
	return notifications.Delivered()
}

func (r *WeChatRobot) endpoint(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%s", ReasonMissingRobotKey)
	}
	if strings.HasPrefix(address, "https://") || strings.HasPrefix(address, "http://") {
		u, err := url.Parse(address)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("invalid robot webhook url %q", address)
		}
		return address, nil
	}
	return r.baseURL + "?key=" + url.QueryEscape(address), nil
}

func (r *WeChatRobot) post(ctx context.Context, endpoint string, msg robotMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal robot message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build robot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("robot request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 64KB is plenty for the JSON reply.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("robot returned status %d", resp.StatusCode)
	}

	var reply robotReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("decode robot reply: %w", err)
	}
	if reply.ErrCode != 0 {
		return fmt.Errorf("robot error %d: %s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}
