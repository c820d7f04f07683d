package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sentinel/internal/config"
	sentinelerrors "sentinel/internal/errors"
	"sentinel/pkg/models"

	"github.com/sirupsen/logrus"
)

// maxResponseBytes 响应体上限，防御异常膨胀的响应
const maxResponseBytes = 1 << 20

// DriftCheckRequest 漂移异常检测的输入（与分类器服务的对外契约）
type DriftCheckRequest struct {
	SimRiskScore         float32 `json:"Sim_RiskScore"`
	CapabilityHashDist   float32 `json:"Capability_Hash_Distance"`
	LiquidityAmount      float32 `json:"Liquidity_Amount"`
	UniqueHoldersCount   float32 `json:"Unique_Holders_Count"`
}

// DriftCheckResponse 漂移异常检测的输出
type DriftCheckResponse struct {
	AnomalyDetected bool    `json:"anomaly_detected"`
	AnomalyScore    float32 `json:"anomaly_score"`
	Reason          string  `json:"reason,omitempty"`
}

// Client 分类器客户端。把概率模型当纯函数对待：
// features → prediction。服务不可达时返回nil，裁决组装器照常推进，
// 本客户端从不直接写安全报告。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient 创建分类器客户端
func NewClient(cfg *config.ClassifierConfig, logger *logrus.Logger) *Client {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Available 是否配置了分类器服务
func (c *Client) Available() bool {
	return c != nil && c.baseURL != ""
}

// Predict 提交15维特征向量，取回校准后的预测。
// 任何失败都不致命：返回nil加错误，调用方记日志后继续。
func (c *Client) Predict(ctx context.Context, features *models.FeatureVector) (*models.ClassifierPrediction, error) {
	if !c.Available() {
		return nil, sentinelerrors.ErrClassifierUnavailable
	}

	var prediction models.ClassifierPrediction
	if err := c.post(ctx, "/analyze", features, &prediction); err != nil {
		return nil, err
	}

	if prediction.ScamProbability < 0 || prediction.ScamProbability > 1 {
		return nil, sentinelerrors.ErrClassifierMalformed.WithContext("scam_probability", prediction.ScamProbability)
	}
	return &prediction, nil
}

// CheckDrift 漂移异常检测（可选能力，由配置开关控制）
func (c *Client) CheckDrift(ctx context.Context, req *DriftCheckRequest) (*DriftCheckResponse, error) {
	if !c.Available() {
		return nil, sentinelerrors.ErrClassifierUnavailable
	}

	var resp DriftCheckResponse
	if err := c.post(ctx, "/check_drift", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Healthy 探测分类器服务健康状态
func (c *Client) Healthy(ctx context.Context) bool {
	if !c.Available() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode == http.StatusOK
}

// post 提交JSON请求并解析JSON响应
func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return sentinelerrors.WrapError(err, sentinelerrors.ErrorTypeClassifierMalformed, sentinelerrors.SeverityLow, "CLASSIFIER_MALFORMED", "序列化请求失败")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return sentinelerrors.WrapError(err, sentinelerrors.ErrorTypeClassifierUnavailable, sentinelerrors.SeverityLow, "CLASSIFIER_UNAVAILABLE", "构造请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sentinelerrors.WrapError(err, sentinelerrors.ErrorTypeClassifierUnavailable, sentinelerrors.SeverityLow, "CLASSIFIER_UNAVAILABLE", "分类器服务不可达")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return sentinelerrors.WrapError(err, sentinelerrors.ErrorTypeClassifierUnavailable, sentinelerrors.SeverityLow, "CLASSIFIER_UNAVAILABLE", "读取响应失败")
	}

	if resp.StatusCode != http.StatusOK {
		return sentinelerrors.WrapError(
			fmt.Errorf("分类器返回状态码 %d", resp.StatusCode),
			sentinelerrors.ErrorTypeClassifierUnavailable,
			sentinelerrors.SeverityLow,
			"CLASSIFIER_UNAVAILABLE",
			"分类器服务响应异常",
		)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return sentinelerrors.WrapError(err, sentinelerrors.ErrorTypeClassifierMalformed, sentinelerrors.SeverityLow, "CLASSIFIER_MALFORMED", "解析响应失败")
	}
	return nil
}
