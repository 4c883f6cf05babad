package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/duckofyork/tinkerpop/errors"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	MimeTypeGraphSONV2 = "application/vnd.gremlin-v2.0+json"
	MimeTypeGraphSONV3 = "application/vnd.gremlin-v3.0+json"

	typeKey  = "@type"
	valueKey = "@value"
)

var _ Serializer = (*GraphSONSerializer)(nil)

/*
GraphSONSerializer encodes requests and decodes responses as GraphSON JSON.

The request wire format is:
 1. mime type length - 1 byte
 2. mime type - ascii
 3. the request as a JSON document

Responses are plain JSON documents. Typed GraphSON values are converted to Go values where there is an obvious
mapping (numbers, uuids, dates, lists, sets, maps), anything else is returned as a TypedValue.
*/
type GraphSONSerializer struct {
	version  int
	mimeType string
}

func NewGraphSONSerializer(version int) (*GraphSONSerializer, error) {
	switch version {
	case 2:
		return &GraphSONSerializer{version: 2, mimeType: MimeTypeGraphSONV2}, nil
	case 3:
		return &GraphSONSerializer{version: 3, mimeType: MimeTypeGraphSONV3}, nil
	default:
		return nil, errors.Errorf("unsupported GraphSON version %d", version)
	}
}

func (g *GraphSONSerializer) MimeType() string {
	return g.mimeType
}

func (g *GraphSONSerializer) Version() int {
	return g.version
}

func (g *GraphSONSerializer) SerializeRequest(msg *RequestMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(g.mimeType)))
	buf.WriteString(g.mimeType)
	buf.WriteString(`{"requestId":`)
	if err := g.writeValue(&buf, msg.requestID); err != nil {
		return nil, err
	}
	buf.WriteString(`,"op":`)
	writeString(&buf, msg.op)
	buf.WriteString(`,"processor":`)
	writeString(&buf, msg.processor)
	buf.WriteString(`,"args":`)
	if err := g.writeValue(&buf, msg.args); err != nil {
		return nil, errors.NewProtocolErrorf("failed to serialize request %s: %v", msg.requestID, err)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (g *GraphSONSerializer) DeserializeResponse(message []byte) (*Response, error) {
	if !gjson.ValidBytes(message) {
		return nil, errors.NewProtocolErrorf("response is not valid JSON")
	}
	root := gjson.ParseBytes(message)
	id, err := decodeRequestID(root.Get("requestId"))
	if err != nil {
		return nil, err
	}
	resp := &Response{RequestID: id}
	code := root.Get("status.code")
	if !code.Exists() || code.Type != gjson.Number {
		return resp, errors.NewProtocolErrorf("response for request %s has no status code", id)
	}
	resp.Status.Code = StatusCode(code.Int())
	resp.Status.Message = root.Get("status.message").String()
	resp.Status.Attributes = toStringMap(g.decode(root.Get("status.attributes")))
	resp.Meta = toStringMap(g.decode(root.Get("result.meta")))
	switch data := g.decode(root.Get("result.data")).(type) {
	case nil:
	case []interface{}:
		resp.Data = data
	default:
		resp.Data = []interface{}{data}
	}
	return resp, nil
}

// DeserializeRequest is the inverse of SerializeRequest. Servers (and test servers) use it.
func (g *GraphSONSerializer) DeserializeRequest(message []byte) (*RequestMessage, error) {
	if len(message) == 0 || len(message) < 1+int(message[0]) {
		return nil, errors.NewProtocolErrorf("request is too short to contain a mime type")
	}
	mimeLen := int(message[0])
	mimeType := string(message[1 : 1+mimeLen])
	if mimeType != g.mimeType {
		return nil, errors.NewProtocolErrorf("unexpected mime type %q, expected %q", mimeType, g.mimeType)
	}
	body := message[1+mimeLen:]
	if !gjson.ValidBytes(body) {
		return nil, errors.NewProtocolErrorf("request is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	id, err := decodeRequestID(root.Get("requestId"))
	if err != nil {
		return nil, err
	}
	args := NewArgs()
	root.Get("args").ForEach(func(key, value gjson.Result) bool {
		args.Put(key.String(), g.decode(value))
		return true
	})
	return newRequestMessage(id, root.Get("processor").String(), root.Get("op").String(), args), nil
}

// SerializeResponse is the inverse of DeserializeResponse.
func (g *GraphSONSerializer) SerializeResponse(resp *Response) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"requestId":`)
	writeString(&buf, resp.RequestID.String())
	buf.WriteString(`,"status":{"code":`)
	buf.WriteString(fmt.Sprintf("%d", int(resp.Status.Code)))
	buf.WriteString(`,"message":`)
	writeString(&buf, resp.Status.Message)
	buf.WriteString(`,"attributes":`)
	if err := g.writeValue(&buf, nonNilMap(resp.Status.Attributes)); err != nil {
		return nil, err
	}
	buf.WriteString(`},"result":{"data":`)
	var data interface{}
	if resp.Data != nil {
		data = resp.Data
	}
	if err := g.writeValue(&buf, data); err != nil {
		return nil, err
	}
	buf.WriteString(`,"meta":`)
	if err := g.writeValue(&buf, nonNilMap(resp.Meta)); err != nil {
		return nil, err
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func (g *GraphSONSerializer) writeValue(buf *bytes.Buffer, v interface{}) error { //nolint:gocyclo
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		writeString(buf, t)
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		if t >= math.MinInt32 && t <= math.MaxInt32 {
			writeTyped(buf, "g:Int32", fmt.Sprintf("%d", t))
		} else {
			writeTyped(buf, "g:Int64", fmt.Sprintf("%d", t))
		}
	case int8, int16, int32:
		writeTyped(buf, "g:Int32", fmt.Sprintf("%d", t))
	case int64, uint8, uint16, uint32, uint64, uint:
		writeTyped(buf, "g:Int64", fmt.Sprintf("%d", t))
	case float32:
		writeTyped(buf, "g:Float", formatFloat(float64(t)))
	case float64:
		writeTyped(buf, "g:Double", formatFloat(t))
	case uuid.UUID:
		writeTyped(buf, "g:UUID", `"`+t.String()+`"`)
	case time.Time:
		writeTyped(buf, "g:Date", fmt.Sprintf("%d", t.UnixMilli()))
	case []interface{}:
		return g.writeList(buf, t)
	case []string:
		l := make([]interface{}, len(t))
		for i, s := range t {
			l[i] = s
		}
		return g.writeList(buf, l)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := g.writeValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case map[string]string:
		m := make(map[string]interface{}, len(t))
		for k, s := range t {
			m[k] = s
		}
		return g.writeValue(buf, m)
	case *Args:
		var err error
		first := true
		buf.WriteByte('{')
		t.Each(func(key string, value interface{}) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			writeString(buf, key)
			buf.WriteByte(':')
			err = g.writeValue(buf, value)
			return err == nil
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	case TypedValue:
		buf.WriteString(`{"@type":`)
		writeString(buf, t.Type)
		buf.WriteString(`,"@value":`)
		if err := g.writeValue(buf, t.Value); err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		// Values such as traversal bytecode encode themselves
		b, err := json.Marshal(v)
		if err != nil {
			return errors.WithStack(err)
		}
		buf.Write(b)
	}
	return nil
}

func (g *GraphSONSerializer) writeList(buf *bytes.Buffer, l []interface{}) error {
	if g.version >= 3 {
		buf.WriteString(`{"@type":"g:List","@value":`)
	}
	buf.WriteByte('[')
	for i, e := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := g.writeValue(buf, e); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	if g.version >= 3 {
		buf.WriteByte('}')
	}
	return nil
}

func (g *GraphSONSerializer) decode(r gjson.Result) interface{} { //nolint:gocyclo
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return nil
	case r.IsArray():
		arr := r.Array()
		l := make([]interface{}, len(arr))
		for i, e := range arr {
			l[i] = g.decode(e)
		}
		return l
	case r.IsObject():
		m := r.Map()
		typ, hasType := m[typeKey]
		val, hasValue := m[valueKey]
		if hasType && hasValue && len(m) == 2 {
			return g.decodeTyped(typ.String(), val)
		}
		obj := make(map[string]interface{}, len(m))
		for k, v := range m {
			obj[k] = g.decode(v)
		}
		return obj
	case r.Type == gjson.String:
		return r.String()
	case r.Type == gjson.Number:
		if strings.ContainsAny(r.Raw, ".eE") {
			return r.Float()
		}
		return r.Int()
	case r.Type == gjson.True:
		return true
	case r.Type == gjson.False:
		return false
	}
	return r.Value()
}

func (g *GraphSONSerializer) decodeTyped(typ string, val gjson.Result) interface{} {
	switch typ {
	case "g:Int32":
		return int32(val.Int())
	case "g:Int64":
		return val.Int()
	case "g:Float":
		return float32(val.Float())
	case "g:Double":
		return val.Float()
	case "g:UUID":
		id, err := uuid.Parse(val.String())
		if err != nil {
			return TypedValue{Type: typ, Value: val.String()}
		}
		return id
	case "g:Date", "g:Timestamp":
		return time.UnixMilli(val.Int())
	case "g:List", "g:Set", "g:BulkSet":
		l, _ := g.decode(val).([]interface{})
		if l == nil {
			l = []interface{}{}
		}
		return l
	case "g:Map":
		// Maps are a flat list of alternating keys and values
		arr := val.Array()
		m := make(map[interface{}]interface{}, len(arr)/2)
		for i := 0; i+1 < len(arr); i += 2 {
			m[hashableKey(g.decode(arr[i]))] = g.decode(arr[i+1])
		}
		return m
	case "g:T", "g:Direction", "g:Class":
		return val.String()
	default:
		return TypedValue{Type: typ, Value: g.decode(val)}
	}
}

func decodeRequestID(r gjson.Result) (uuid.UUID, error) {
	var s string
	if r.IsObject() {
		s = r.Map()[valueKey].String()
	} else {
		s = r.String()
	}
	if s == "" {
		return uuid.Nil, errors.NewProtocolErrorf("message has no request id")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.NewProtocolErrorf("message has invalid request id %q", s)
	}
	return id, nil
}

func hashableKey(k interface{}) interface{} {
	switch k.(type) {
	case nil, string, bool, int32, int64, float32, float64, uuid.UUID, time.Time:
		return k
	default:
		return fmt.Sprintf("%v", k)
	}
}

func toStringMap(v interface{}) map[string]interface{} {
	switch m := v.(type) {
	case map[string]interface{}:
		return m
	case map[interface{}]interface{}:
		sm := make(map[string]interface{}, len(m))
		for k, val := range m {
			sm[fmt.Sprintf("%v", k)] = val
		}
		return sm
	default:
		return nil
	}
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func writeTyped(buf *bytes.Buffer, typ string, rawValue string) {
	buf.WriteString(`{"@type":"`)
	buf.WriteString(typ)
	buf.WriteString(`","@value":`)
	buf.WriteString(rawValue)
	buf.WriteByte('}')
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return `"NaN"`
	}
	if math.IsInf(f, 1) {
		return `"Infinity"`
	}
	if math.IsInf(f, -1) {
		return `"-Infinity"`
	}
	b, _ := json.Marshal(f)
	s := string(b)
	if !strings.ContainsAny(s, ".eE") {
		// Keep a fraction so untyped readers still see a floating point number
		s += ".0"
	}
	return s
}
