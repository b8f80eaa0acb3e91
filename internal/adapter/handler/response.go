package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rl1809/mall-checkout/internal/core/domain"
)

const codeInternal = "INTERNAL_ERROR"

// Envelope wraps every HTTP response body.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByCode = map[domain.ErrorCode]int{
	domain.CodeInvalidRequest:         http.StatusBadRequest,
	domain.CodeEmptyCart:              http.StatusBadRequest,
	domain.CodeInvalidAddress:         http.StatusBadRequest,
	domain.CodeInvalidQuantity:        http.StatusBadRequest,
	domain.CodeProductNotFound:        http.StatusNotFound,
	domain.CodeInsufficientStock:      http.StatusConflict,
	domain.CodeLineNotFound:           http.StatusNotFound,
	domain.CodeOrderNotFound:          http.StatusNotFound,
	domain.CodeNotOwner:               http.StatusForbidden,
	domain.CodeInvalidStateTransition: http.StatusConflict,
	domain.CodeDuplicateRequest:       http.StatusConflict,
	domain.CodeUnauthorized:           http.StatusUnauthorized,
	domain.CodeForbidden:              http.StatusForbidden,
}

// errorBody maps err to its HTTP status and wire form. Anything that is not
// a domain error is reported as an internal error without its text.
func errorBody(err error) (int, *ErrorBody) {
	var de *domain.Error
	if errors.As(err, &de) {
		status, ok := statusByCode[de.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		return status, &ErrorBody{Code: string(de.Code), Message: de.Message, Details: de.Details}
	}
	return http.StatusInternalServerError, &ErrorBody{Code: codeInternal, Message: "internal error"}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, Envelope{Success: true, Data: data, Message: message, Timestamp: time.Now().UTC()})
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	writeJSON(w, status, Envelope{Success: false, Message: body.Message, Error: body, Timestamp: time.Now().UTC()})
}
