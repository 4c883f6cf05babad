package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	ProcessorStandard  = ""
	ProcessorTraversal = "traversal"
	ProcessorSession   = "session"

	OpEval           = "eval"
	OpBytecode       = "bytecode"
	OpAuthentication = "authentication"
	OpClose          = "close"

	ArgGremlin           = "gremlin"
	ArgAliases           = "aliases"
	ArgBindings          = "bindings"
	ArgLanguage          = "language"
	ArgSession           = "session"
	ArgBatchSize         = "batchSize"
	ArgEvaluationTimeout = "evaluationTimeout"

	LanguageGremlinGroovy = "gremlin-groovy"
)

// RequestMessage is a single request to the server. The request id is generated when the message is created and is
// the key responses are correlated on, so a message that is submitted again reuses its id.
// RequestMessage is immutable, WithArg returns a modified copy.
type RequestMessage struct {
	requestID uuid.UUID
	processor string
	op        string
	args      *Args
}

func NewRequestMessage(processor string, op string, args *Args) *RequestMessage {
	return newRequestMessage(uuid.New(), processor, op, args)
}

func newRequestMessage(requestID uuid.UUID, processor string, op string, args *Args) *RequestMessage {
	if args == nil {
		args = NewArgs()
	} else {
		args = args.Copy()
	}
	return &RequestMessage{
		requestID: requestID,
		processor: processor,
		op:        op,
		args:      args,
	}
}

// NewEvalRequest creates a request which evaluates a script on the server.
func NewEvalRequest(script string, bindings map[string]interface{}) *RequestMessage {
	args := NewArgs().
		Put(ArgGremlin, script).
		Put(ArgLanguage, LanguageGremlinGroovy)
	if len(bindings) > 0 {
		args.Put(ArgBindings, bindings)
	}
	return NewRequestMessage(ProcessorStandard, OpEval, args)
}

// NewBytecodeRequest creates a traversal request. The bytecode is opaque to the driver, it must encode itself when
// marshalled.
func NewBytecodeRequest(bytecode interface{}) *RequestMessage {
	return NewRequestMessage(ProcessorTraversal, OpBytecode, NewArgs().Put(ArgGremlin, bytecode))
}

func (r *RequestMessage) RequestID() uuid.UUID {
	return r.requestID
}

func (r *RequestMessage) Processor() string {
	return r.processor
}

func (r *RequestMessage) Op() string {
	return r.op
}

// Args returns a copy of the arguments.
func (r *RequestMessage) Args() *Args {
	return r.args.Copy()
}

func (r *RequestMessage) Arg(key string) (interface{}, bool) {
	return r.args.Get(key)
}

// WithArg returns a copy of the message with the argument set. The copy keeps the request id.
func (r *RequestMessage) WithArg(key string, value interface{}) *RequestMessage {
	c := newRequestMessage(r.requestID, r.processor, r.op, r.args)
	c.args.Put(key, value)
	return c
}

// WithProcessor returns a copy of the message sent to a different processor. The copy keeps the request id.
func (r *RequestMessage) WithProcessor(processor string) *RequestMessage {
	return newRequestMessage(r.requestID, processor, r.op, r.args)
}

func (r *RequestMessage) String() string {
	return fmt.Sprintf("RequestMessage[id=%s processor=%q op=%q args=%v]", r.requestID, r.processor, r.op, r.args.Keys())
}
