package ticket

import "time"

// Status はチケットの状態を表す
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusSold      Status = "sold"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// IsValid は定義済みの状態かどうかを返す
func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusSold, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Ticket はチケットエンティティを表す
// EventID は作成後に変更されない。状態遷移は本エンティティのメソッド経由でのみ行う
type Ticket struct {
	ID              string
	EventID         string
	TypeName        string
	Status          Status
	Price           int
	ReservingUserID *string
	PaymentID       *string
	ReservedAt      *time.Time
	PurchasedAt     *time.Time
	BatchID         string // 一括作成の単位（失敗時の補償削除に使用）
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int // 楽観的ロック用
}

// NewTicket は新しいチケットを空席状態で作成する
func NewTicket(eventID, typeName string, price int, batchID string) *Ticket {
	now := time.Now()
	return &Ticket{
		EventID:   eventID,
		TypeName:  typeName,
		Status:    StatusAvailable,
		Price:     price,
		BatchID:   batchID,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   0,
	}
}

// Validate はチケットの検証を行う
func (t *Ticket) Validate() error {
	if t.EventID == "" {
		return ErrEventIDRequired
	}
	if t.TypeName == "" {
		return ErrTypeNameRequired
	}
	if t.Price < 0 {
		return ErrInvalidPrice
	}
	return nil
}

// IsAvailable はチケットが購入可能かを返す
func (t *Ticket) IsAvailable() bool {
	return t.Status == StatusAvailable
}

// IsTerminal は終端状態（cancelled / refunded）かを返す
func (t *Ticket) IsTerminal() bool {
	return t.Status == StatusCancelled || t.Status == StatusRefunded
}

// Reserve はチケットを予約状態にする
func (t *Ticket) Reserve(userID string) error {
	if t.Status != StatusAvailable {
		return ErrTicketUnavailable
	}
	now := time.Now()
	t.Status = StatusReserved
	t.ReservingUserID = &userID
	t.ReservedAt = &now
	t.UpdatedAt = now
	return nil
}

// MarkSold は予約中のチケットを販売済みにする
// 同じ paymentID での再実行は冪等（既に sold なら no-op）
func (t *Ticket) MarkSold(paymentID string) error {
	if t.Status == StatusSold && t.PaymentID != nil && *t.PaymentID == paymentID {
		return nil
	}
	if t.Status != StatusReserved {
		return ErrTicketNotReserved
	}
	now := time.Now()
	t.Status = StatusSold
	t.PaymentID = &paymentID
	t.PurchasedAt = &now
	t.UpdatedAt = now
	return nil
}

// Release は予約を取り消してチケットを空席に戻す
func (t *Ticket) Release() error {
	if t.Status != StatusReserved {
		return ErrTicketNotReserved
	}
	t.Status = StatusAvailable
	t.ReservingUserID = nil
	t.PaymentID = nil
	t.ReservedAt = nil
	t.UpdatedAt = time.Now()
	return nil
}

// Cancel はチケットを管理キャンセル状態にする（空席・予約中から遷移可能）
func (t *Ticket) Cancel() error {
	if t.Status != StatusAvailable && t.Status != StatusReserved {
		return ErrInvalidStatusTransition
	}
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now()
	return nil
}

// Refund は販売済みチケットを返金済みにする
func (t *Ticket) Refund() error {
	if t.Status != StatusSold {
		return ErrTicketNotSold
	}
	t.Status = StatusRefunded
	t.UpdatedAt = time.Now()
	return nil
}

// ChangePrice は販売前のチケット価格を変更する
// 一度 sold になった価格は明示的な操作なしには変わらないという不変条件を守る
func (t *Ticket) ChangePrice(price int) error {
	if t.Status != StatusAvailable {
		return ErrPriceLocked
	}
	if price < 0 {
		return ErrInvalidPrice
	}
	t.Price = price
	t.UpdatedAt = time.Now()
	return nil
}
