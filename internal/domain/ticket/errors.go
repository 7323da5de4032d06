package ticket

import "errors"

// Ticket ドメインのエラー定義
var (
	ErrTicketNotFound          = errors.New("チケットが見つかりません")
	ErrTicketUnavailable       = errors.New("チケットは購入できません")
	ErrTicketNotReserved       = errors.New("チケットは予約されていません")
	ErrTicketNotSold           = errors.New("チケットは販売されていません")
	ErrInvalidStatusTransition = errors.New("許可されていない状態遷移です")
	ErrEventIDRequired         = errors.New("イベントIDは必須です")
	ErrTypeNameRequired        = errors.New("チケット種別名は必須です")
	ErrInvalidPrice            = errors.New("価格は0以上である必要があります")
	ErrPriceLocked             = errors.New("販売前のチケットのみ価格を変更できます")
	ErrPaymentIDMismatch       = errors.New("決済IDが予約と一致しません")
	ErrTooManyActiveHolds      = errors.New("同時に保持できる予約数の上限に達しています")
)
