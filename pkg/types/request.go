package types

import "encoding/json"

// ProxyRequest is the body of POST /proxy. Absent headers and params decode to
// empty values and an absent body stays nil.
type ProxyRequest struct {
	URL     string          `json:"url" validate:"required"`
	Method  string          `json:"method" validate:"required"`
	Headers Headers         `json:"headers,omitempty"`
	Params  Params          `json:"params,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

type ProxyResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Data       json.RawMessage   `json:"data"`
	RequestID  *string           `json:"requestId"`
	// HistoryError is set when the relay succeeded but the history record
	// could not be saved.
	HistoryError string `json:"historyError,omitempty"`
}

type HistoryRecord struct {
	ID             string            `json:"id"`
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	QueryParams    Params            `json:"queryParams"`
	Body           json.RawMessage   `json:"body"`
	ResponseStatus int               `json:"responseStatus"`
	ResponseBody   json.RawMessage   `json:"responseBody"`
	DurationMs     int64             `json:"durationMs"`
	CreatedAt      string            `json:"createdAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
