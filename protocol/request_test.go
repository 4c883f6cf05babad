package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestIDGeneratedAtConstruction(t *testing.T) {
	msg1 := NewRequestMessage(ProcessorTraversal, OpBytecode, NewArgs().Put(ArgGremlin, "bytecode"))
	msg2 := NewRequestMessage(ProcessorTraversal, OpBytecode, NewArgs().Put(ArgGremlin, "bytecode"))
	require.NotEqual(t, msg1.RequestID(), msg2.RequestID())
	// Reading the id again does not change it
	require.Equal(t, msg1.RequestID(), msg1.RequestID())
}

func TestRequestMessageIsImmutable(t *testing.T) {
	args := NewArgs().Put(ArgGremlin, "g.V()")
	msg := NewRequestMessage(ProcessorStandard, OpEval, args)

	// Changing the args used to build the message does not change the message
	args.Put(ArgLanguage, "gremlin-python")
	_, ok := msg.Arg(ArgLanguage)
	require.False(t, ok)

	// Nor does changing the args returned by the message
	msg.Args().Put(ArgSession, "s1")
	_, ok = msg.Arg(ArgSession)
	require.False(t, ok)

	withAlias := msg.WithArg(ArgAliases, map[string]interface{}{"g": "g"})
	require.Equal(t, msg.RequestID(), withAlias.RequestID())
	require.True(t, withAlias.args.Contains(ArgAliases))
	require.False(t, msg.args.Contains(ArgAliases))

	inSession := msg.WithProcessor(ProcessorSession)
	require.Equal(t, ProcessorSession, inSession.Processor())
	require.Equal(t, ProcessorStandard, msg.Processor())
	require.Equal(t, msg.RequestID(), inSession.RequestID())
}

func TestArgsKeepInsertionOrder(t *testing.T) {
	args := ArgsOf("z", 1, "a", 2, "m", 3)
	require.Equal(t, []string{"z", "a", "m"}, args.Keys())
	require.Equal(t, 3, args.Len())
	b, err := args.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `{"z":1,"a":2,"m":3}`, string(b))

	var visited []string
	args.Each(func(key string, _ interface{}) bool {
		visited = append(visited, key)
		return key != "a"
	})
	require.Equal(t, []string{"z", "a"}, visited)
}

func TestNewEvalRequest(t *testing.T) {
	msg := NewEvalRequest("g.V(x)", map[string]interface{}{"x": 1})
	require.Equal(t, OpEval, msg.Op())
	require.Equal(t, ProcessorStandard, msg.Processor())
	script, ok := msg.args.GetString(ArgGremlin)
	require.True(t, ok)
	require.Equal(t, "g.V(x)", script)
	lang, _ := msg.args.GetString(ArgLanguage)
	require.Equal(t, LanguageGremlinGroovy, lang)
	require.True(t, msg.args.Contains(ArgBindings))

	noBindings := NewEvalRequest("g.V()", nil)
	require.False(t, noBindings.args.Contains(ArgBindings))
}

func TestNewBytecodeRequest(t *testing.T) {
	msg := NewBytecodeRequest(TypedValue{Type: "g:Bytecode", Value: map[string]interface{}{"step": []interface{}{[]interface{}{"V"}}}})
	require.Equal(t, ProcessorTraversal, msg.Processor())
	require.Equal(t, OpBytecode, msg.Op())
	require.Contains(t, msg.String(), "gremlin")
}
