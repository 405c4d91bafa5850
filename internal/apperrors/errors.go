package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind машиночитаемая категория ошибки
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
	KindRateLimited  Kind = "rate_limited"
)

// Уточняющие коды ошибок
const (
	CodeInvalidInput       = "invalid_input"
	CodeNotFound           = "not_found"
	CodeForbidden          = "forbidden"
	CodeSelfTrade          = "self_trade"
	CodeItemUnavailable    = "item_unavailable"
	CodeDuplicateRequest   = "duplicate_request"
	CodeInvalidState       = "invalid_state"
	CodeConflict           = "conflict"
	CodePreconditionFailed = "precondition_failed"
	CodeUnauthorized       = "unauthorized"
	CodeInternal           = "internal"
	CodeRateLimited        = "rate_limited"
)

// Error ошибка приложения с видом, HTTP статусом и сообщением для пользователя
type Error struct {
	Kind      Kind
	Code      string
	Status    int
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду, чтобы работал errors.Is с шаблонными значениями
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithErr возвращает копию ошибки с причиной
func (e *Error) WithErr(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// AsRetryable помечает ошибку как безопасную для повтора клиентом
func (e *Error) AsRetryable() *Error {
	c := *e
	c.Retryable = true
	return &c
}

func New(kind Kind, code string, status int, message string) *Error {
	return &Error{Kind: kind, Code: code, Status: status, Message: message}
}

func Validation(message string) *Error {
	return New(KindValidation, CodeInvalidInput, http.StatusBadRequest, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, CodeNotFound, http.StatusNotFound, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, CodeForbidden, http.StatusForbidden, message)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, CodeUnauthorized, http.StatusUnauthorized, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, CodeConflict, http.StatusConflict, message)
}

func SelfTrade() *Error {
	return New(KindValidation, CodeSelfTrade, http.StatusBadRequest, "Нельзя запросить обмен собственной книги")
}

func ItemUnavailable() *Error {
	return New(KindConflict, CodeItemUnavailable, http.StatusBadRequest, "Книга сейчас недоступна для обмена")
}

func DuplicateRequest() *Error {
	return New(KindConflict, CodeDuplicateRequest, http.StatusBadRequest, "Запрос на эту книгу уже отправлен")
}

func InvalidState(message string) *Error {
	return New(KindConflict, CodeInvalidState, http.StatusBadRequest, message)
}

func PreconditionFailed(message string) *Error {
	return New(KindConflict, CodePreconditionFailed, http.StatusConflict, message)
}

func RateLimited() *Error {
	return New(KindRateLimited, CodeRateLimited, http.StatusTooManyRequests, "Слишком много запросов, попробуйте позже")
}

// Internal оборачивает ошибку хранилища или непредвиденный сбой
func Internal(err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Status:  http.StatusInternalServerError,
		Message: "Внутренняя ошибка сервера",
		Err:     err,
	}
}

// Retryable оборачивает сбой, после которого операцию нужно повторить
func Retryable(err error) *Error {
	return Internal(err).AsRetryable()
}

// From приводит любую ошибку к *Error. Неизвестные ошибки становятся internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// KindOf возвращает вид ошибки или пустую строку
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// CodeOf возвращает код ошибки или пустую строку
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
