package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// KindValidation errors are rejected before any ledger is touched.
	KindValidation ErrorKind = "validation"
	// KindConflict errors carry enough detail to reconcile and retry.
	KindConflict ErrorKind = "conflict"
	// KindState errors are terminal for the given input.
	KindState ErrorKind = "state"
	KindAuth  ErrorKind = "auth"
)

type ErrorCode string

const (
	CodeInvalidRequest         ErrorCode = "INVALID_REQUEST"
	CodeEmptyCart              ErrorCode = "EMPTY_CART"
	CodeInvalidAddress         ErrorCode = "INVALID_ADDRESS"
	CodeInvalidQuantity        ErrorCode = "INVALID_QUANTITY"
	CodeProductNotFound        ErrorCode = "PRODUCT_NOT_FOUND"
	CodeInsufficientStock      ErrorCode = "INSUFFICIENT_STOCK"
	CodeLineNotFound           ErrorCode = "LINE_NOT_FOUND"
	CodeOrderNotFound          ErrorCode = "ORDER_NOT_FOUND"
	CodeNotOwner               ErrorCode = "NOT_OWNER"
	CodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	CodeDuplicateRequest       ErrorCode = "DUPLICATE_REQUEST"
	CodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	CodeForbidden              ErrorCode = "FORBIDDEN"
)

// Error is the typed failure returned by every core operation. Two errors
// match under errors.Is when their codes are equal.
type Error struct {
	Code    ErrorCode
	Kind    ErrorKind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) ProductID() (int64, bool) {
	id, ok := e.Details["productId"].(int64)
	return id, ok
}

func (e *Error) Available() (int, bool) {
	n, ok := e.Details["available"].(int)
	return n, ok
}

var (
	ErrInvalidRequest         = &Error{Code: CodeInvalidRequest, Kind: KindValidation, Message: "invalid request"}
	ErrEmptyCart              = &Error{Code: CodeEmptyCart, Kind: KindValidation, Message: "no items to check out"}
	ErrInvalidAddress         = &Error{Code: CodeInvalidAddress, Kind: KindValidation, Message: "shipping address must not be blank"}
	ErrInvalidQuantity        = &Error{Code: CodeInvalidQuantity, Kind: KindValidation, Message: "quantity must be at least 1"}
	ErrProductNotFound        = &Error{Code: CodeProductNotFound, Kind: KindConflict, Message: "product not found"}
	ErrInsufficientStock      = &Error{Code: CodeInsufficientStock, Kind: KindConflict, Message: "insufficient stock"}
	ErrLineNotFound           = &Error{Code: CodeLineNotFound, Kind: KindState, Message: "cart line not found"}
	ErrOrderNotFound          = &Error{Code: CodeOrderNotFound, Kind: KindState, Message: "order not found"}
	ErrNotOwner               = &Error{Code: CodeNotOwner, Kind: KindState, Message: "order belongs to another user"}
	ErrInvalidStateTransition = &Error{Code: CodeInvalidStateTransition, Kind: KindState, Message: "invalid order status transition"}
	ErrDuplicateRequest       = &Error{Code: CodeDuplicateRequest, Kind: KindConflict, Message: "a request with this idempotency key is in progress"}
	ErrUnauthorized           = &Error{Code: CodeUnauthorized, Kind: KindAuth, Message: "authentication required"}
	ErrForbidden              = &Error{Code: CodeForbidden, Kind: KindAuth, Message: "insufficient privileges"}
)

func InvalidRequest(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func InvalidQuantity(productID int64, quantity int) *Error {
	return &Error{
		Code:    CodeInvalidQuantity,
		Kind:    KindValidation,
		Message: fmt.Sprintf("quantity %d for product %d must be at least 1", quantity, productID),
		Details: map[string]any{"productId": productID, "quantity": quantity},
	}
}

func QuantityTooLarge(productID int64) *Error {
	return &Error{
		Code:    CodeInvalidQuantity,
		Kind:    KindValidation,
		Message: fmt.Sprintf("quantity for product %d exceeds the limit of %d", productID, MaxLineQuantity),
		Details: map[string]any{"productId": productID, "limit": MaxLineQuantity},
	}
}

func LineQuantityTooLarge(lineID int64) *Error {
	return &Error{
		Code:    CodeInvalidQuantity,
		Kind:    KindValidation,
		Message: fmt.Sprintf("quantity for cart line %d exceeds the limit of %d", lineID, MaxLineQuantity),
		Details: map[string]any{"lineId": lineID, "limit": MaxLineQuantity},
	}
}

func ProductNotFound(productID int64) *Error {
	return &Error{
		Code:    CodeProductNotFound,
		Kind:    KindConflict,
		Message: fmt.Sprintf("product %d not found", productID),
		Details: map[string]any{"productId": productID},
	}
}

func InsufficientStock(productID int64, available int) *Error {
	return &Error{
		Code:    CodeInsufficientStock,
		Kind:    KindConflict,
		Message: fmt.Sprintf("insufficient stock for product %d: %d available", productID, available),
		Details: map[string]any{"productId": productID, "available": available},
	}
}

func LineNotFound(lineID int64) *Error {
	return &Error{
		Code:    CodeLineNotFound,
		Kind:    KindState,
		Message: fmt.Sprintf("cart line %d not found", lineID),
		Details: map[string]any{"lineId": lineID},
	}
}

func OrderNotFound(orderID string) *Error {
	return &Error{
		Code:    CodeOrderNotFound,
		Kind:    KindState,
		Message: fmt.Sprintf("order %s not found", orderID),
		Details: map[string]any{"orderId": orderID},
	}
}

func InvalidStateTransition(from, to OrderStatus) *Error {
	return &Error{
		Code:    CodeInvalidStateTransition,
		Kind:    KindState,
		Message: fmt.Sprintf("order cannot move from %s to %s", from, to),
		Details: map[string]any{"from": from, "to": to},
	}
}

// AsError extracts the typed error from err, if there is one.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
