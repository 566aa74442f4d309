package pollrpc

import (
	"strconv"
)

// PingMethod is the procedure used for keepalive pings. Pings always carry id 0,
// which is never handed out to callers.
const PingMethod = "rc:ping"

const (
	protocolVersion = "2.0"
	pingID          = 0
)

var pingMessage = encodeRequest(PingMethod, nil, pingID, true)

// encodeRequest builds a newline terminated request or, without an id, a notification.
// Params are always sent as an array, even when empty.
func encodeRequest(procedure string, params []Value, id uint32, withID bool) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, `{"jsonrpc":"2.0","method":`...)
	buf = appendQuoted(buf, procedure)
	buf = append(buf, `,"params":[`...)

	for i, p := range params {
		if i > 0 {
			buf = append(buf, ',')
		}

		buf = p.appendJSON(buf)
	}

	buf = append(buf, ']')

	if withID {
		buf = append(buf, `,"id":`...)
		buf = strconv.AppendUint(buf, uint64(id), 10)
	}

	return append(buf, "}\n"...)
}

// encodeResult builds a newline terminated success response.
func encodeResult(result Value, id int64) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, `{"jsonrpc":"2.0","result":`...)
	buf = result.appendJSON(buf)
	buf = append(buf, `,"id":`...)
	buf = strconv.AppendInt(buf, id, 10)

	return append(buf, "}\n"...)
}

// encodeError builds a newline terminated error response.
func encodeError(e *Error, id int64) []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, `{"jsonrpc":"2.0","error":`...)
	buf = e.Value().appendJSON(buf)
	buf = append(buf, `,"id":`...)
	buf = strconv.AppendInt(buf, id, 10)

	return append(buf, "}\n"...)
}

// field returns the member key of obj when obj is an Object and the member has the given kind.
func field(obj Value, key string, kind Kind) (Value, bool) {
	f, ok := obj.Field(key)
	if !ok || f.Kind() != kind {
		return Value{}, false
	}

	return f, true
}

// hasVersion reports whether obj carries "jsonrpc":"2.0".
func hasVersion(obj Value) bool {
	v, ok := field(obj, "jsonrpc", KindString)
	if !ok {
		return false
	}

	s, _ := v.AsString()

	return s == protocolVersion
}

// response is a decoded result or error object.
type response struct {
	result Value
	err    *Error
	id     uint32
}

// parseResponse extracts a response from msg. ok is false when msg has neither a result
// nor an error member, or when the id is missing or outside the range of correlation ids.
// Error objects must carry an integer code and a string message. An object carrying both
// result and error is rejected.
func parseResponse(msg Value) (resp response, isResponse bool, ok bool) {
	result, hasResult := msg.Field("result")
	errObj, hasError := field(msg, "error", KindObject)

	if !hasResult && !hasError {
		return response{}, false, false
	}

	idVal, hasID := field(msg, "id", KindInteger)
	id, _ := idVal.AsInteger()

	if !hasID || id < 0 || id > int64(^uint32(0)) || (hasResult && hasError) {
		return response{}, true, false
	}

	resp.id = uint32(id)

	if hasResult {
		resp.result = result

		return resp, true, true
	}

	code, okCode := field(errObj, "code", KindInteger)
	msgVal, okMsg := field(errObj, "message", KindString)

	if !okCode || !okMsg {
		return response{}, true, false
	}

	c, _ := code.AsInteger()
	m, _ := msgVal.AsString()
	data, _ := errObj.Field("data")
	resp.err = &Error{Code: c, Message: m, Data: data}

	return resp, true, true
}
