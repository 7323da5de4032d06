package application

import "errors"

// アプリケーション層のエラー定義
var (
	// ErrInvalidQuantity は一括作成の枚数が不正な場合のエラー
	ErrInvalidQuantity = errors.New("作成枚数は1以上である必要があります")

	// ErrTicketTypeNotFound はイベントに存在しないチケット種別を指定した場合のエラー
	ErrTicketTypeNotFound = errors.New("指定されたチケット種別はイベントに存在しません")

	// ErrPoolBusy は在庫操作の分散ロックを取得できなかった場合のエラー
	ErrPoolBusy = errors.New("このイベントの在庫は他の操作で処理中です")

	// ErrPaymentOutcomeUnknown は決済結果を確認できなかった場合のエラー
	// チケットは予約中のまま保持され、Webhookまたはスイーパーが後続処理を行う
	ErrPaymentOutcomeUnknown = errors.New("決済結果を確認できません。予約は保持されます")

	// ErrRefundPartialFailure はイベント中止時の返金が一部失敗した場合のエラー
	ErrRefundPartialFailure = errors.New("一部のチケットの返金に失敗しました")
)
