package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Remote job states reported by the status service.
const (
	RemotePending    = "PENDING"
	RemoteProcessing = "PROCESSING"
	RemoteSuccess    = "SUCCESS"
	RemoteFailure    = "FAILURE"
	RemoteRevoked    = "REVOKED"
)

// RemoteStatus is one status response for a job handle.
type RemoteStatus struct {
	State  string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ResultKind tags the decoded shape of a successful job's payload.
type ResultKind int

// Result kinds.
const (
	ResultPayload ResultKind = iota
	ResultAppError
	ResultMultiGroup
)

func (k ResultKind) String() string {
	switch k {
	case ResultPayload:
		return "payload"
	case ResultAppError:
		return "app_error"
	case ResultMultiGroup:
		return "multi_group"
	default:
		return "unknown"
	}
}

// maxUnwrapDepth bounds how many wrapper layers DecodeResult peels off.
const maxUnwrapDepth = 3

// Result is the decoded payload of a SUCCESS response.
type Result struct {
	Kind    ResultKind
	Payload json.RawMessage
	Message string
	Groups  map[string]json.RawMessage
}

// DecodeResult classifies raw once at ingestion. JSON strings holding JSON
// and single-key "result"/"data" wrappers are unwrapped first.
func DecodeResult(raw json.RawMessage) Result {
	raw = unwrap(raw, maxUnwrapDepth)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return Result{Kind: ResultPayload, Payload: raw}
	}

	if msg, ok := embeddedError(obj); ok {
		return Result{Kind: ResultAppError, Payload: raw, Message: msg}
	}

	if len(obj) > 0 {
		groups := make(map[string]json.RawMessage, len(obj))
		for k, v := range obj {
			if !isObject(v) {
				groups = nil
				break
			}
			groups[k] = v
		}
		if groups != nil {
			return Result{Kind: ResultMultiGroup, Payload: raw, Groups: groups}
		}
	}

	return Result{Kind: ResultPayload, Payload: raw}
}

func unwrap(raw json.RawMessage, depth int) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if depth == 0 || len(raw) == 0 {
		return raw
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			inner := []byte(strings.TrimSpace(s))
			if json.Valid(inner) && len(inner) > 0 && (inner[0] == '{' || inner[0] == '[' || inner[0] == '"') {
				return unwrap(inner, depth-1)
			}
		}
		return raw
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return raw
	}
	for _, key := range []string{"result", "data"} {
		if inner, ok := obj[key]; ok {
			return unwrap(inner, depth-1)
		}
	}
	return raw
}

// embeddedError extracts a logical error from an otherwise successful payload.
func embeddedError(obj map[string]json.RawMessage) (string, bool) {
	v, ok := obj["error"]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}

	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(v, &nested); err == nil && nested.Message != "" {
		return nested.Message, true
	}
	return "", false
}

func isObject(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '{'
}
