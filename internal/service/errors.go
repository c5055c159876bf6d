package service

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind 业务错误分类，HTTP 层据此映射响应码
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindInvalidState       Kind = "INVALID_STATE"
	KindAmountMismatch     Kind = "AMOUNT_MISMATCH"
	KindInsufficientPoints Kind = "INSUFFICIENT_POINTS"
	KindGatewayError       Kind = "GATEWAY_ERROR"
	KindAuthFailure        Kind = "AUTH_FAILURE"
	KindConflict           Kind = "CONFLICT"
	KindInternal           Kind = "INTERNAL"
)

// Error 服务层统一错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类错误视为相等，便于 errors.Is(err, service.ErrNotFound)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrAmountMismatch     = &Error{Kind: KindAmountMismatch}
	ErrInsufficientPoints = &Error{Kind: KindInsufficientPoints}
	ErrGateway            = &Error{Kind: KindGatewayError}
	ErrAuthFailure        = &Error{Kind: KindAuthFailure}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrInternal           = &Error{Kind: KindInternal}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// internalError 已经是业务错误的原样返回，其余包装成 Internal
func internalError(err error, message string) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return wrapError(KindInternal, err, message)
}

// KindOf 提取错误分类，非业务错误视为 Internal
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// MessageOf 面向调用方的错误描述，不暴露内部错误细节
func MessageOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		if se.Kind == KindInternal {
			return "系统内部错误"
		}
		return se.Message
	}
	return "系统内部错误"
}
