package payment

import (
	"context"
	"fmt"
	"time"
)

// IntentStatus は決済インテントの状態を表す
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusFailed    IntentStatus = "failed"
)

// Intent は決済ゲートウェイ上の決済インテントを表す
type Intent struct {
	ID       string
	Status   IntentStatus
	Amount   int
	Currency string
}

// CreateIntentInput は決済インテント作成の入力を表す
type CreateIntentInput struct {
	TicketID       string
	Amount         int
	Currency       string
	IdempotencyKey string
}

// Gateway は外部決済ゲートウェイのインターフェース
// 実装は infrastructure/paymentgw にある。失敗時は *GatewayError を返す
type Gateway interface {
	// CreatePaymentIntent は決済インテントを作成する
	CreatePaymentIntent(ctx context.Context, in CreateIntentInput) (*Intent, error)

	// ConfirmPayment は決済インテントを確定する
	ConfirmPayment(ctx context.Context, intentID string) (*Intent, error)

	// Refund は決済を返金し、返金IDを返す
	Refund(ctx context.Context, paymentID, idempotencyKey string) (string, error)
}

// IdempotencyKey はチケットIDと予約時刻から冪等キーを導出する
// 同一予約のリトライでは同じキーになり、予約し直した場合は別キーになる
func IdempotencyKey(ticketID string, reservedAt time.Time) string {
	return fmt.Sprintf("ticket-%s-%d", ticketID, reservedAt.UnixNano())
}
