package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

func success(result any) Response {
	return Response{Status: statusOK, Result: result}
}

func failure(message string) Response {
	return Response{Status: statusError, Message: message}
}

var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(failure("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal fallback error response: %v", err))
	}
}

// writeJSONResponse marshals before writing headers so an encoding failure
// still yields a well-formed 500.
func writeJSONResponse(logger *zap.Logger, w http.ResponseWriter, statusCode int, response any) {
	payload, err := json.Marshal(response)
	if err != nil {
		logger.Error("failed to marshal JSON response", zap.Error(err))
		payload = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(payload); err != nil {
		logger.Error("failed to write JSON response", zap.Error(err))
	}
}
