// Package respond writes the JSON envelopes shared by every HTTP handler.
package respond

import (
	"encoding/json"
	"net/http"

	"smartdrive/user-service/internal/platform/errs"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes payload with statusCode.
func JSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// Success wraps data in {"status":"success","data":...}.
func Success(w http.ResponseWriter, statusCode int, data any) {
	JSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

// Message writes {"status":"success","message":...}.
func Message(w http.ResponseWriter, statusCode int, message string) {
	JSON(w, statusCode, map[string]any{
		"status":  "success",
		"message": message,
	})
}

// Error writes {"status":"error","code":...,"message":...}.
func Error(w http.ResponseWriter, statusCode int, code, message string) {
	JSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// Err maps err through errs.HTTPStatus and writes the error envelope.
func Err(w http.ResponseWriter, err error) {
	status, code, msg := errs.HTTPStatus(err)
	Error(w, status, code, msg)
}
