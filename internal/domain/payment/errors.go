package payment

import (
	"errors"
	"fmt"
)

// ErrorKind はゲートウェイエラーの分類を表す
type ErrorKind string

const (
	// KindTransient は再試行で成功する可能性があるエラー（タイムアウト、5xx）
	KindTransient ErrorKind = "transient"
	// KindPermanent は再試行しても成功しないエラー（カード拒否、4xx）
	KindPermanent ErrorKind = "permanent"
	// KindAmbiguous は決済が成立したか判断できないエラー（送信後の切断など）
	KindAmbiguous ErrorKind = "ambiguous"
)

// GatewayError は決済ゲートウェイ呼び出しの失敗を表す
type GatewayError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("決済ゲートウェイエラー [%s/%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError はゲートウェイエラーを作成する
func NewGatewayError(kind ErrorKind, op string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Op: op, Err: err}
}

// KindOf はエラーの分類を返す。*GatewayError でない場合は ambiguous として扱う
// （性質の分からない失敗を permanent 扱いして決済済みの予約を戻してしまうより安全）
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindAmbiguous
}

// IsTransient は再試行可能なエラーかを返す
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsPermanent は再試行しても回復しないエラーかを返す
func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}

// IsAmbiguous は結果不明のエラーかを返す
func IsAmbiguous(err error) bool {
	return KindOf(err) == KindAmbiguous
}
