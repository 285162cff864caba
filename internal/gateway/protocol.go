// Package gateway implements the ClientGateway: the bidirectional WebSocket
// protocol described in spec §6 — bearer-token authentication on upgrade,
// request/response framing paired by id, and EventBus fan-out filtered by
// session authorization.
package gateway

import "encoding/json"

// Frame is the wire envelope for every message exchanged over the
// connection (spec §6): a request carries Type+ID+params inlined via Raw, a
// response carries Type="response.ok"/"response.error", and an event
// carries Type="<topic>" with no ID.
type Frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  any             `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

// ErrorCode enumerates the response.error codes named in spec §6.
type ErrorCode string

const (
	CodeUnauthenticated ErrorCode = "unauthenticated"
	CodeForbidden       ErrorCode = "forbidden"
	CodeNotFound        ErrorCode = "not_found"
	CodeInvalidArgument ErrorCode = "invalid_argument"
	CodeQuotaExceeded   ErrorCode = "quota_exceeded"
	CodeUnavailable     ErrorCode = "unavailable"
	CodeInternal        ErrorCode = "internal"
)

// ProtocolError pairs an ErrorCode with a human-readable message for
// handlers to return from Dispatch.
type ProtocolError struct {
	Code    ErrorCode
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// NewProtocolError constructs a ProtocolError.
func NewProtocolError(code ErrorCode, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// responseOK builds the success response frame for a request id.
func responseOK(id string, data any) Frame {
	return Frame{Type: "response.ok", ID: id, Data: data}
}

// responseErr builds the error response frame for a request id.
func responseErr(id string, code ErrorCode, message string) Frame {
	return Frame{Type: "response.error", ID: id, Error: message, Code: string(code)}
}

// eventFrame builds a server-initiated event frame for topic.
func eventFrame(topic string, payload any) Frame {
	return Frame{Type: topic, Data: payload}
}

// request is the shape decoded from an inbound client frame: Type names the
// dotted verb (e.g. "process.spawn"), ID is the client-chosen correlation
// id, and Params carries the verb-specific arguments.
type request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"-"`
}

// decodeRequest unmarshals raw into a request, treating every field besides
// type/id as the params payload re-marshaled verbatim (spec §6: "{type, id,
// ...params}").
func decodeRequest(raw []byte) (request, error) {
	var typed struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(raw, &typed); err != nil {
		return request{}, err
	}
	return request{Type: typed.Type, ID: typed.ID, Params: raw}, nil
}
