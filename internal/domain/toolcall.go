package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ToolKind names a tool-call variant on the wire.
type ToolKind string

const (
	ToolDataQuery      ToolKind = "dataQuery"
	ToolSemanticSearch ToolKind = "semanticSearch"
	ToolCreateEntity   ToolKind = "createEntity"
	ToolUpdateEntity   ToolKind = "updateEntity"
)

// ErrUnknownToolKind is returned when decoding a tool call of an unsupported kind.
var ErrUnknownToolKind = errors.New("unknown tool kind")

// ToolRequest is the closed set of tool-call payloads. Only the types in
// this package implement it, so a type switch over DataQuery,
// SemanticSearch, CreateEntity and UpdateEntity is exhaustive.
type ToolRequest interface {
	Kind() ToolKind
	sealed()
}

// DataQuery runs a statement against the business data store.
type DataQuery struct {
	Statement string `json:"query"`
	Args      []any  `json:"args,omitempty"`
}

// SemanticSearch looks up stored knowledge similar to Query.
type SemanticSearch struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// CreateEntity asks the owning domain endpoint to create an entity.
type CreateEntity struct {
	Entity string         `json:"entity"`
	Data   map[string]any `json:"data"`
}

// UpdateEntity asks the owning domain endpoint to update an entity.
type UpdateEntity struct {
	Entity string         `json:"entity"`
	ID     string         `json:"id"`
	Data   map[string]any `json:"data"`
}

func (DataQuery) Kind() ToolKind      { return ToolDataQuery }
func (SemanticSearch) Kind() ToolKind { return ToolSemanticSearch }
func (CreateEntity) Kind() ToolKind   { return ToolCreateEntity }
func (UpdateEntity) Kind() ToolKind   { return ToolUpdateEntity }

func (DataQuery) sealed()      {}
func (SemanticSearch) sealed() {}
func (CreateEntity) sealed()   {}
func (UpdateEntity) sealed()   {}

// DecodeToolRequest builds the request variant for kind from raw parameters.
func DecodeToolRequest(kind ToolKind, raw json.RawMessage) (ToolRequest, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	var (
		req ToolRequest
		err error
	)
	switch kind {
	case ToolDataQuery:
		var q DataQuery
		err = json.Unmarshal(raw, &q)
		req = q
	case ToolSemanticSearch:
		var q SemanticSearch
		err = json.Unmarshal(raw, &q)
		req = q
	case ToolCreateEntity:
		var q CreateEntity
		err = json.Unmarshal(raw, &q)
		req = q
	case ToolUpdateEntity:
		var q UpdateEntity
		err = json.Unmarshal(raw, &q)
		req = q
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownToolKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s parameters: %w", kind, err)
	}
	return req, nil
}

// ToolCall is one proposed auxiliary operation together with its outcome.
// Exactly one of Result or Err is set once the call has been executed.
type ToolCall struct {
	Request ToolRequest
	Result  any
	Err     string
}

// NewToolCall wraps a request in an unexecuted tool call.
func NewToolCall(req ToolRequest) *ToolCall {
	return &ToolCall{Request: req}
}

// Kind returns the variant of the wrapped request.
func (c *ToolCall) Kind() ToolKind {
	if c.Request == nil {
		return ""
	}
	return c.Request.Kind()
}

// Succeed stores a successful result.
func (c *ToolCall) Succeed(result any) {
	c.Result = result
	c.Err = ""
}

// Fail stores the failure reason and clears any result.
func (c *ToolCall) Fail(err error) {
	c.Result = nil
	if err == nil {
		c.Err = "unknown error"
		return
	}
	c.Err = err.Error()
}

// Failed reports whether the call recorded an error.
func (c *ToolCall) Failed() bool {
	return c.Err != ""
}

type toolCallWire struct {
	Kind       ToolKind        `json:"kind"`
	Parameters json.RawMessage `json:"parameters"`
	Result     any             `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// MarshalJSON encodes the call as {kind, parameters, result?, error?}.
func (c *ToolCall) MarshalJSON() ([]byte, error) {
	params := json.RawMessage("{}")
	if c.Request != nil {
		b, err := json.Marshal(c.Request)
		if err != nil {
			return nil, fmt.Errorf("marshal tool parameters: %w", err)
		}
		params = b
	}
	return json.Marshal(toolCallWire{
		Kind:       c.Kind(),
		Parameters: params,
		Result:     c.Result,
		Error:      c.Err,
	})
}

// UnmarshalJSON decodes the wire form into the matching request variant.
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var w toolCallWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	req, err := DecodeToolRequest(w.Kind, w.Parameters)
	if err != nil {
		return err
	}
	c.Request = req
	c.Result = w.Result
	c.Err = w.Error
	return nil
}
