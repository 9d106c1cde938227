// preparer/client.go
package preparer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"solbundle/config"
	"solbundle/logs"
)

type httpStatusError struct {
	op         string
	statusCode int
	body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s: status %d, body %s", e.op, e.statusCode, e.body)
}

// Client 交易构造服务客户端。
// 每次调用独立请求，无会话状态。
type Client struct {
	cfg        config.PreparerConfig
	httpClient *http.Client
	Logger     logs.Logger
}

// NewClient 创建 preparer 客户端
func NewClient(cfg config.PreparerConfig, logger logs.Logger) *Client {
	if logger == nil {
		logger = logs.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	}
}

// pathFor 返回操作对应的构造端点
func (c *Client) pathFor(op Operation) (string, error) {
	switch op {
	case OpDistribute:
		return c.cfg.DistributePath, nil
	case OpMix:
		return c.cfg.MixPath, nil
	case OpCreate:
		return c.cfg.CreatePath, nil
	default:
		return "", fmt.Errorf("unknown operation %q", string(op))
	}
}

// Prepare 请求 preparer 构造交易，并把响应判别为统一的 Plan。
// 任何格式问题都是致命错误，调用方不应重试。
func (c *Client) Prepare(ctx context.Context, req *Request) (*Plan, error) {
	if req == nil {
		return nil, fmt.Errorf("nil prepare request")
	}
	path, err := c.pathFor(req.Operation)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal prepare request: %w", err)
	}

	url := c.cfg.BaseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", string(req.Operation), err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read prepare response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{op: "prepare " + string(req.Operation), statusCode: resp.StatusCode, body: string(respData)}
	}

	var raw rawResponse
	if err := json.Unmarshal(respData, &raw); err != nil {
		return nil, fmt.Errorf("decode prepare response: %w", err)
	}

	plan, err := normalize(&raw)
	if err != nil {
		return nil, err
	}

	c.Logger.Debug("[Preparer] %s prepared in %v: mode=%s envelopes=%d",
		string(req.Operation), time.Since(start), plan.Mode, plan.EnvelopeCount())
	return plan, nil
}
