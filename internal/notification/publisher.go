package notification

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-ticket-sales/internal/pkg/logger"
)

// イベント種別
const (
	TypeTicketSold      = "ticket.sold"
	TypeTicketCancelled = "ticket.cancelled"
	TypeTicketRefunded  = "ticket.refunded"
	TypeEventCancelled  = "event.cancelled"
)

const queueName = "ticket.notifications"

// Event は通知キューに送るドメインイベントを表す
type Event struct {
	Type       string    `json:"type"`
	TicketID   string    `json:"ticket_id,omitempty"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id,omitempty"`
	PaymentID  string    `json:"payment_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier は通知の送信インターフェース
// 送信は fire-and-forget であり、失敗しても呼び出し元の処理は継続する
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// AMQPNotifier はRabbitMQへ通知を送信する
type AMQPNotifier struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPNotifier はRabbitMQに接続し、通知用キューを宣言する
func NewAMQPNotifier(url string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	// durable なキューを宣言（冪等）。ブローカー再起動後もメッセージを保持する
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPNotifier{conn: conn, channel: ch}, nil
}

// Notify はイベントをキューに発行する。失敗はログに残すのみ
func (n *AMQPNotifier) Notify(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		logger.Error("通知イベントのシリアライズに失敗", zap.Error(err), zap.String("type", event.Type))
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := n.channel.PublishWithContext(ctx, "", queueName, false, false, pub); err != nil {
		logger.Error("通知の発行に失敗", zap.Error(err),
			zap.String("type", event.Type), zap.String("ticket_id", event.TicketID))
	}
}

// Close は接続を閉じる
func (n *AMQPNotifier) Close() error {
	if err := n.channel.Close(); err != nil {
		n.conn.Close()
		return err
	}
	return n.conn.Close()
}

// NopNotifier は通知を破棄する（通知が無効な構成で使用）
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, event Event) {}

var (
	_ Notifier = (*AMQPNotifier)(nil)
	_ Notifier = NopNotifier{}
)
