package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpInvalidRequestError = "invalid_request"
	HttpInvalidModeError    = "invalid_mode"
	HttpInvalidPeriodError  = "invalid_period"
	HttpStoreWriteError     = "store_write_failed"
	HttpStoreUnavailable    = "store_unavailable"
)

// ErrorResponse is the error body returned by every HTTP endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
