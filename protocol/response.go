package protocol

import (
	"github.com/google/uuid"
)

type StatusCode int

const (
	StatusSuccess                  StatusCode = 200
	StatusNoContent                StatusCode = 204
	StatusPartialContent           StatusCode = 206
	StatusUnauthorized             StatusCode = 401
	StatusForbidden                StatusCode = 403
	StatusAuthenticate             StatusCode = 407
	StatusMalformedRequest         StatusCode = 498
	StatusInvalidRequestArguments  StatusCode = 499
	StatusServerError              StatusCode = 500
	StatusScriptEvaluationError    StatusCode = 597
	StatusServerTimeout            StatusCode = 598
	StatusServerSerializationError StatusCode = 599
)

// IsTerminal is true for every status except partial content.
func (s StatusCode) IsTerminal() bool {
	return s != StatusPartialContent
}

func (s StatusCode) IsSuccess() bool {
	return s == StatusSuccess || s == StatusNoContent || s == StatusPartialContent
}

type Status struct {
	Code       StatusCode
	Message    string
	Attributes map[string]interface{}
}

// Response is one decoded response message. A request produces zero or more partial content responses followed by
// exactly one terminal response.
type Response struct {
	RequestID uuid.UUID
	Status    Status
	Data      []interface{}
	Meta      map[string]interface{}
}

// TypedValue holds a GraphSON value of a type the serializer does not convert, e.g. g:Vertex.
type TypedValue struct {
	Type  string
	Value interface{}
}
