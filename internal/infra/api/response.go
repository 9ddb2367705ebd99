package api

import (
	"encoding/json"
	"net/http"

	"splitmate-scan/internal/domain"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Details    string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data})
}

func writeErrorBody(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, errorEnvelope{Success: false, Error: body})
}

// writeError renders err with its public message. Anything that is not a
// ScanError is reported as SERVER_ERROR. The raw cause is only exposed when
// showDetails is set.
func writeError(w http.ResponseWriter, err error, showDetails bool) {
	se, ok := domain.AsScanError(err)
	if !ok {
		se = domain.NewScanError(domain.CodeServerError, err)
	}
	body := errorBody{
		Code:      string(se.Code),
		Message:   se.Message,
		Retryable: se.Retryable,
	}
	if showDetails && se.Err != nil {
		body.Details = se.Err.Error()
	}
	writeErrorBody(w, se.HTTPStatus(), body)
}
