package paymentgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sanosuguru/go-ticket-sales/internal/config"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/payment"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/metrics"
)

// Client は外部決済ゲートウェイのHTTPクライアント
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewClient は決済ゲートウェイクライアントを作成する
// m は nil でもよい（その場合メトリクスは記録しない）
func NewClient(cfg *config.PaymentConfig, m *metrics.Metrics) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
	}
}

type intentResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

type refundResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePaymentIntent は決済インテントを作成する
func (c *Client) CreatePaymentIntent(ctx context.Context, in payment.CreateIntentInput) (*payment.Intent, error) {
	body := map[string]interface{}{
		"amount":   in.Amount,
		"currency": in.Currency,
		"metadata": map[string]string{"ticket_id": in.TicketID},
	}
	var res intentResponse
	if err := c.post(ctx, "create_intent", "/v1/payment_intents", in.IdempotencyKey, body, &res); err != nil {
		return nil, err
	}
	return toIntent(&res), nil
}

// ConfirmPayment は決済インテントを確定する
func (c *Client) ConfirmPayment(ctx context.Context, intentID string) (*payment.Intent, error) {
	path := fmt.Sprintf("/v1/payment_intents/%s/confirm", intentID)
	var res intentResponse
	if err := c.post(ctx, "confirm", path, "", nil, &res); err != nil {
		return nil, err
	}
	return toIntent(&res), nil
}

// Refund は決済を返金し、返金IDを返す
func (c *Client) Refund(ctx context.Context, paymentID, idempotencyKey string) (string, error) {
	body := map[string]interface{}{"payment_intent": paymentID}
	var res refundResponse
	if err := c.post(ctx, "refund", "/v1/refunds", idempotencyKey, body, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func toIntent(res *intentResponse) *payment.Intent {
	return &payment.Intent{
		ID:       res.ID,
		Status:   payment.IntentStatus(res.Status),
		Amount:   res.Amount,
		Currency: res.Currency,
	}
}

// post はゲートウェイへのPOSTを実行し、失敗を payment.GatewayError に分類する
func (c *Client) post(ctx context.Context, op, path, idempotencyKey string, body interface{}, out interface{}) error {
	start := time.Now()
	err := c.doPost(ctx, op, path, idempotencyKey, body, out)
	c.observe(op, err, time.Since(start))
	return err
}

func (c *Client) doPost(ctx context.Context, op, path, idempotencyKey string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return payment.NewGatewayError(payment.KindPermanent, op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return payment.NewGatewayError(payment.KindPermanent, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return payment.NewGatewayError(classifyNetworkError(err), op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		// レスポンス受信中の切断。処理されたかは不明
		return payment.NewGatewayError(payment.KindAmbiguous, op, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(data, out); err != nil {
			return payment.NewGatewayError(payment.KindAmbiguous, op, fmt.Errorf("レスポンスの解析に失敗: %w", err))
		}
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return payment.NewGatewayError(payment.KindTransient, op, gatewayErr(resp.StatusCode, data))
	default:
		// 4xx は入力・カード起因の失敗。再試行しても成功しない
		return payment.NewGatewayError(payment.KindPermanent, op, gatewayErr(resp.StatusCode, data))
	}
}

// classifyNetworkError はリクエスト送信エラーを分類する
// タイムアウトは「リクエストが届いたが応答が間に合わなかった」可能性があるため ambiguous、
// 接続自体の失敗（refused など）はリクエストが届いていないため transient とする
func classifyNetworkError(err error) payment.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return payment.KindAmbiguous
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return payment.KindAmbiguous
	}
	return payment.KindTransient
}

func gatewayErr(status int, body []byte) error {
	var res errorResponse
	if err := json.Unmarshal(body, &res); err == nil && res.Error.Code != "" {
		return fmt.Errorf("ゲートウェイ応答 %d: %s (%s)", status, res.Error.Message, res.Error.Code)
	}
	return fmt.Errorf("ゲートウェイ応答 %d", status)
}

func (c *Client) observe(op string, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(payment.KindOf(err))
	}
	c.metrics.PaymentGatewayDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

var _ payment.Gateway = (*Client)(nil)
