package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Op names a store operation on the websocket wire.
type Op string

const (
	OpGet          Op = "get"
	OpSet          Op = "set"
	OpUpdate       Op = "update"
	OpRemove       Op = "remove"
	OpPush         Op = "push"
	OpCompareSet   Op = "cas"
	OpSubscribe    Op = "subscribe"
	OpUnsubscribe  Op = "unsubscribe"
	OpOnDisconnect Op = "onDisconnect"
)

// Wire error codes.
const (
	CodeInvalidPath  = "invalid_path"
	CodeInvalidValue = "invalid_value"
	CodeConflict     = "conflict"
	CodeMismatch     = "mismatch"
	CodeBadRequest   = "bad_request"
	CodeInternal     = "internal"
)

// Message types sent by the gateway.
const (
	MessageReply    = "reply"
	MessageSnapshot = "snapshot"
)

// Request is a client to gateway message.
type Request struct {
	ID      uint64                     `json:"id"`
	Op      Op                         `json:"op"`
	Path    string                     `json:"path,omitempty"`
	Value   json.RawMessage            `json:"value,omitempty"`
	Expect  json.RawMessage            `json:"expect,omitempty"`
	Updates map[string]json.RawMessage `json:"updates,omitempty"`
	SubID   uint64                     `json:"subId,omitempty"`
}

// Message is a gateway to client message: either the reply to a request or
// a pushed snapshot for a subscription.
type Message struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id,omitempty"`
	SubID  uint64          `json:"subId,omitempty"`
	Path   string          `json:"path,omitempty"`
	Exists bool            `json:"exists,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Key    string          `json:"key,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// serverValue is the wire form of Increment, the same shape browser SDKs
// use for server-side values.
type serverValue struct {
	SV struct {
		Increment float64 `json:"increment"`
	} `json:".sv"`
}

// EncodeValue encodes a tree value, turning Increment into its wire form.
func EncodeValue(v any) (json.RawMessage, error) {
	if inc, ok := v.(Increment); ok {
		var sv serverValue
		sv.SV.Increment = inc.Delta
		return json.Marshal(sv)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return data, nil
}

// DecodeValue decodes a wire value, recognising the increment form.
func DecodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		if sv, ok := m[".sv"].(map[string]any); ok {
			if n, ok := sv["increment"].(float64); ok {
				return Increment{Delta: n}, nil
			}
		}
	}
	return v, nil
}

// CodeFor maps a store error to its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPath):
		return CodeInvalidPath
	case errors.Is(err, ErrInvalidValue):
		return CodeInvalidValue
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, errMismatch):
		return CodeMismatch
	}
	return CodeInternal
}

// ErrorFor maps a wire code back to a store error.
func ErrorFor(code, msg string) error {
	switch code {
	case CodeInvalidPath:
		return fmt.Errorf("%w: %s", ErrInvalidPath, msg)
	case CodeInvalidValue:
		return fmt.Errorf("%w: %s", ErrInvalidValue, msg)
	case CodeConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case CodeMismatch:
		return errMismatch
	}
	return fmt.Errorf("remote store: %s", msg)
}

// errMismatch is the compare-and-set failure a remote transaction retries on.
var errMismatch = errors.New("value changed")

// CompareAndSet sets path to next only if its current value equals expect.
// It is the primitive remote transactions are built on.
func CompareAndSet(ctx context.Context, s Store, path string, expect, next any) error {
	expect, err := Normalize(expect)
	if err != nil {
		return err
	}
	return s.Transaction(ctx, path, func(current any) (any, error) {
		if !equalValues(current, expect) {
			return nil, errMismatch
		}
		return next, nil
	})
}
