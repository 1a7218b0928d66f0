// Package apperr はモジュール横断のエラー分類を提供する
package apperr

import (
	"errors"
	"fmt"
)

// Kind はエラーの分類
type Kind string

const (
	// KindValidation は入力不正（リトライ不可、4xx相当）
	KindValidation Kind = "validation"
	// KindNotFound は対象が存在しない
	KindNotFound Kind = "not_found"
	// KindTransient は一時的な外部プロバイダ障害（リトライ可）
	KindTransient Kind = "transient"
	// KindTimeout はタイムアウト（リトライ可、ただし通常の通信障害とは区別する）
	KindTimeout Kind = "timeout"
	// KindDataIntegrity はデータ破損（フォールバック不可）
	KindDataIntegrity Kind = "data_integrity"
	// KindConflict は状態の競合
	KindConflict Kind = "conflict"
)

var (
	ErrValidation    = &kindSentinel{kind: KindValidation}
	ErrNotFound      = &kindSentinel{kind: KindNotFound}
	ErrTransient     = &kindSentinel{kind: KindTransient}
	ErrTimeout       = &kindSentinel{kind: KindTimeout}
	ErrDataIntegrity = &kindSentinel{kind: KindDataIntegrity}
	ErrConflict      = &kindSentinel{kind: KindConflict}
)

// kindSentinel は errors.Is で分類を判定するための番兵
type kindSentinel struct {
	kind Kind
}

func (s *kindSentinel) Error() string {
	return string(s.kind)
}

// Error は分類付きのエラー
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New は分類付きエラーを作成する
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Define は分類付きの番兵エラーを作成する
func Define(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は同じ分類の番兵と一致する
func (e *Error) Is(target error) bool {
	s, ok := target.(*kindSentinel)
	return ok && s.kind == e.Kind
}

// KindOf はエラーの分類を返す。分類がない場合は空文字
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable はバッチ処理で再試行してよいエラーかを判定する
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

// Wrap は既存の分類付き番兵に操作名と原因を付加する
//
// 返されるエラーは sentinel と cause の両方に errors.Is で一致する。
func Wrap(sentinel *Error, op string, cause error) *Error {
	if cause == nil {
		return &Error{Kind: sentinel.Kind, Op: op, Err: sentinel}
	}
	return &Error{Kind: sentinel.Kind, Op: op, Err: &causeError{sentinel: sentinel, cause: cause}}
}

// causeError は番兵と原因の両方を保持する
type causeError struct {
	sentinel error
	cause    error
}

func (c *causeError) Error() string {
	return fmt.Sprintf("%v: %v", c.sentinel, c.cause)
}

func (c *causeError) Unwrap() []error {
	return []error{c.sentinel, c.cause}
}
