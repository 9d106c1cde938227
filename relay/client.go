// relay/client.go
// 捆绑包中继客户端：提交 chunk、查询落地状态。
// 提交/状态响应在这里一次性规范化，下游不再嗅探字段。
package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"solbundle/bundle"
	"solbundle/config"
	"solbundle/logs"
)

// Status 中继报告的 chunk 状态
type Status int

const (
	StatusPending Status = iota
	StatusLanded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLanded:
		return "landed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Client 中继客户端接口，网络边界
type Client interface {
	// Submit 提交一个 chunk，成功返回中继分配的 id
	Submit(ctx context.Context, chunk bundle.Chunk) (string, error)
	// Status 查询已提交 chunk 的落地状态
	Status(ctx context.Context, relayID string) (Status, error)
}

// RejectedError 中继确定性拒绝：请求被受理并检查，但内容被拒
// （坏签名、格式错误等）。与传输层失败区分，用于快速失败判定。
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("relay rejected chunk: %s", e.Reason)
}

type httpStatusError struct {
	op         string
	statusCode int
	body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s: status %d, body %s", e.op, e.statusCode, e.body)
}

// ========== HTTP 实现 ==========

// HTTPClient Client 的 HTTP 实现，可选 HTTP/3 传输
type HTTPClient struct {
	cfg        config.RelayConfig
	httpClient *http.Client
	Logger     logs.Logger
}

// NewHTTPClient 创建中继客户端；cfg.UseHTTP3 打开时走 QUIC
func NewHTTPClient(cfg config.RelayConfig, logger logs.Logger) *HTTPClient {
	if logger == nil {
		logger = logs.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var client *http.Client
	if cfg.UseHTTP3 {
		client = createHTTP3Client(cfg)
	} else {
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		cfg:        cfg,
		httpClient: client,
		Logger:     logger,
	}
}

// createHTTP3Client 创建非单例的 HTTP/3 客户端
func createHTTP3Client(cfg config.RelayConfig) *http.Client {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS13,
		MaxVersion:         tls.VersionTLS13,
		ClientSessionCache: tls.NewLRUClientSessionCache(128),
		// 添加ALPN协议支持
		NextProtos: []string{"h3", "h3-29", "h3-28", "h3-27"},
	}

	tr := &http3.Transport{
		TLSClientConfig: tlsCfg,
		QUICConfig: &quic.Config{
			KeepAlivePeriod: cfg.QUICKeepAlivePeriod,
			MaxIdleTimeout:  cfg.QUICMaxIdleTimeout,
			Allow0RTT:       cfg.QUICAllow0RTT,
		},
	}

	return &http.Client{
		Transport: tr,
		Timeout:   cfg.Timeout,
	}
}

// submitRequest / submitResponse 提交端点的线格式
type submitRequest struct {
	Transactions []string `json:"transactions"`
}

type submitResponse struct {
	Success bool `json:"success"`
	Result  struct {
		RelayID string `json:"relayId,omitempty"`
		Jito    string `json:"jito,omitempty"`
	} `json:"result"`
	Error string `json:"error,omitempty"`
}

// statusRequest / statusResponse 状态端点的线格式
type statusRequest struct {
	RelayID string `json:"relayId"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Submit 提交 chunk。
// 响应里 relayId 与 jito 是同一个逻辑 id 的两种历史字段名，
// 这里规范化成一个：二者都空或互相矛盾按致命错误处理。
func (c *HTTPClient) Submit(ctx context.Context, chunk bundle.Chunk) (string, error) {
	if len(chunk) == 0 {
		return "", fmt.Errorf("empty chunk")
	}

	body, err := json.Marshal(submitRequest{Transactions: chunk})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	respData, err := c.post(ctx, "submit", c.cfg.BaseURL+c.cfg.SubmitPath, body)
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}

	if !resp.Success || resp.Error != "" {
		reason := resp.Error
		if reason == "" {
			reason = "submit not accepted"
		}
		return "", &RejectedError{Reason: reason}
	}

	relayID := resp.Result.RelayID
	jito := resp.Result.Jito
	switch {
	case relayID == "" && jito == "":
		return "", fmt.Errorf("submit response carries no relay id")
	case relayID != "" && jito != "" && relayID != jito:
		return "", fmt.Errorf("submit response is ambiguous: relayId=%s jito=%s", relayID, jito)
	case relayID == "":
		relayID = jito
	}

	c.Logger.Trace("[Relay] chunk %016x submitted, relayId=%s", chunk.Fingerprint(), relayID)
	return relayID, nil
}

// Status 查询 relayID 的落地状态
func (c *HTTPClient) Status(ctx context.Context, relayID string) (Status, error) {
	if relayID == "" {
		return StatusPending, fmt.Errorf("empty relay id")
	}

	body, err := json.Marshal(statusRequest{RelayID: relayID})
	if err != nil {
		return StatusPending, fmt.Errorf("marshal status request: %w", err)
	}

	respData, err := c.post(ctx, "status", c.cfg.BaseURL+c.cfg.StatusPath, body)
	if err != nil {
		return StatusPending, err
	}

	var resp statusResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return StatusPending, fmt.Errorf("decode status response: %w", err)
	}

	// 显式错误载荷按失败处理
	if resp.Error != "" {
		return StatusFailed, nil
	}

	switch resp.Status {
	case "confirmed", "landed":
		return StatusLanded, nil
	case "failed":
		return StatusFailed, nil
	case "pending", "processing", "":
		return StatusPending, nil
	default:
		return StatusPending, fmt.Errorf("unrecognized relay status %q", resp.Status)
	}
}

func (c *HTTPClient) post(ctx context.Context, op, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		// 4xx 表示请求被检查后拒绝，5xx 与网络错误一样按瞬态处理
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, &RejectedError{
				Reason: (&httpStatusError{op: op, statusCode: resp.StatusCode, body: string(respData)}).Error(),
			}
		}
		return nil, &httpStatusError{op: op, statusCode: resp.StatusCode, body: string(respData)}
	}
	return respData, nil
}
