// Package rpcserver serves line-delimited JSON-RPC requests over a byte stream.
//
// Each input line carries one request object and yields exactly one response
// line. Requests are handled strictly in order; a malformed line produces a
// parse error response and the loop keeps reading.
package rpcserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is one decoded input line. ID keeps the caller's raw value.
type Request struct {
	Method string
	Params json.RawMessage
	ID     json.RawMessage
}

// Response is one output line. Exactly one of Result and Error is set.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is the error member of a Response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

var errNotRequest = errors.New("request must be a JSON object with a string method")

// idPattern recovers the id of a line that is not valid JSON.
var idPattern = regexp.MustCompile(`"id"\s*:\s*("(?:[^"\\]|\\.)*"|-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?|null)`)

// decodeRequest parses line. On failure it still returns whatever id it could
// recover so the parse error can be correlated by the caller.
func decodeRequest(line []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Request{ID: recoverID(line)}, err
	}

	req := Request{ID: fields["id"]}
	raw, ok := fields["method"]
	if !ok {
		return req, errNotRequest
	}
	if err := json.Unmarshal(raw, &req.Method); err != nil {
		return req, errNotRequest
	}

	params := bytes.TrimSpace(fields["params"])
	switch {
	case len(params) == 0, bytes.Equal(params, []byte("null")):
		req.Params = json.RawMessage("{}")
	case params[0] == '{':
		req.Params = params
	default:
		return req, errors.New("params must be a JSON object")
	}
	return req, nil
}

func recoverID(line []byte) json.RawMessage {
	m := idPattern.FindSubmatch(line)
	if m == nil {
		return nil
	}
	id := m[1]
	if !json.Valid(id) {
		return nil
	}
	return json.RawMessage(bytes.Clone(id))
}

func errorResponse(id json.RawMessage, code int, msg string) Response {
	return Response{ID: id, Error: &Error{Code: code, Message: msg}}
}
