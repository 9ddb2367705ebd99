// File: internal/domain/scan_error.go
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the public error taxonomy shared by the HTTP surface, the job
// record and the client SDK.
type ErrorCode string

const (
	CodeNoFile          ErrorCode = "NO_FILE"
	CodeInvalidFileType ErrorCode = "INVALID_FILE_TYPE"
	CodeFileTooLarge    ErrorCode = "FILE_TOO_LARGE"
	CodeInvalidJobID    ErrorCode = "INVALID_JOB_ID"
	CodeJobNotFound     ErrorCode = "JOB_NOT_FOUND"
	CodeRateLimited     ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeGeminiTimeout   ErrorCode = "GEMINI_TIMEOUT"
	CodeParseFailed     ErrorCode = "PARSE_FAILED"
	CodeInvalidReceipt  ErrorCode = "INVALID_RECEIPT"
	CodeGeminiAPI       ErrorCode = "GEMINI_API_ERROR"
	CodeServerError     ErrorCode = "SERVER_ERROR"
)

type codeInfo struct {
	status    int
	retryable bool
	message   string
}

var codeTable = map[ErrorCode]codeInfo{
	CodeNoFile:          {http.StatusBadRequest, false, "No receipt file was uploaded."},
	CodeInvalidFileType: {http.StatusBadRequest, false, "Unsupported file type. Upload a JPEG, PNG or PDF."},
	CodeFileTooLarge:    {http.StatusRequestEntityTooLarge, false, "The uploaded file is too large."},
	CodeInvalidJobID:    {http.StatusBadRequest, false, "Invalid scan job id."},
	CodeJobNotFound:     {http.StatusNotFound, false, "Scan job not found or expired."},
	CodeRateLimited:     {http.StatusTooManyRequests, true, "Too many requests. Please try again later."},
	CodeGeminiTimeout:   {http.StatusGatewayTimeout, true, "Receipt analysis timed out. Please try again."},
	CodeParseFailed:     {http.StatusBadGateway, false, "Could not read the receipt. Try a clearer photo."},
	CodeInvalidReceipt:  {http.StatusUnprocessableEntity, false, "This image does not look like a receipt."},
	CodeGeminiAPI:       {http.StatusBadGateway, true, "The receipt analysis service is unavailable."},
	CodeServerError:     {http.StatusInternalServerError, true, "Something went wrong. Please try again."},
}

// ScanError is the typed error carried through every layer of the scan
// pipeline. Message is always safe to show to end users; Err keeps the raw
// cause for logs and non-production responses.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScanError) Unwrap() error { return e.Err }

// HTTPStatus maps the code onto its response status.
func (e *ScanError) HTTPStatus() int {
	if info, ok := codeTable[e.Code]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// NewScanError builds an error with the default public message and
// retryability for code.
func NewScanError(code ErrorCode, cause error) *ScanError {
	info, ok := codeTable[code]
	if !ok {
		info = codeTable[CodeServerError]
	}
	return &ScanError{Code: code, Message: info.message, Retryable: info.retryable, Err: cause}
}

// WithMessage overrides the public message.
func (e *ScanError) WithMessage(msg string) *ScanError {
	cp := *e
	cp.Message = msg
	return &cp
}

// WithRetryable overrides the retryable flag.
func (e *ScanError) WithRetryable(retryable bool) *ScanError {
	cp := *e
	cp.Retryable = retryable
	return &cp
}

// AsScanError unwraps err looking for a *ScanError.
func AsScanError(err error) (*ScanError, bool) {
	var se *ScanError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	se, ok := AsScanError(err)
	return ok && se.Code == code
}

// DefaultMessage returns the public message registered for code.
func DefaultMessage(code ErrorCode) string {
	if info, ok := codeTable[code]; ok {
		return info.message
	}
	return codeTable[CodeServerError].message
}
