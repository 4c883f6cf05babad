package protocol

// Serializer converts requests to transport messages and transport messages to responses.
//
// DeserializeResponse returns a non-nil Response together with the error when the request id could be decoded but
// the rest of the message could not, so the failure can still be routed to the request.
type Serializer interface {
	MimeType() string
	SerializeRequest(msg *RequestMessage) ([]byte, error)
	DeserializeResponse(message []byte) (*Response, error)
}
