package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestToolCallUnmarshalSelectsVariant(t *testing.T) {
	t.Parallel()

	raw := `[
		{"kind":"dataQuery","parameters":{"query":"SELECT 1"}},
		{"kind":"semanticSearch","parameters":{"query":"vacinas","limit":3}},
		{"kind":"createEntity","parameters":{"entity":"animal","data":{"name":"Rex"}}},
		{"kind":"updateEntity","parameters":{"entity":"animal","id":"42","data":{"status":"adopted"}}}
	]`
	var calls []*ToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(calls))
	}

	for _, c := range calls {
		switch req := c.Request.(type) {
		case DataQuery:
			if req.Statement != "SELECT 1" {
				t.Errorf("unexpected statement %q", req.Statement)
			}
		case SemanticSearch:
			if req.Limit != 3 {
				t.Errorf("unexpected limit %d", req.Limit)
			}
		case CreateEntity:
			if req.Data["name"] != "Rex" {
				t.Errorf("unexpected data %v", req.Data)
			}
		case UpdateEntity:
			if req.ID != "42" {
				t.Errorf("unexpected id %q", req.ID)
			}
		default:
			t.Errorf("unexpected variant %T", req)
		}
	}
}

func TestToolCallUnknownKind(t *testing.T) {
	t.Parallel()

	var c ToolCall
	err := json.Unmarshal([]byte(`{"kind":"shell","parameters":{}}`), &c)
	if !errors.Is(err, ErrUnknownToolKind) {
		t.Fatalf("expected ErrUnknownToolKind, got %v", err)
	}
}

func TestToolCallMarshalReportsOutcome(t *testing.T) {
	t.Parallel()

	ok := NewToolCall(DataQuery{Statement: "SELECT 1"})
	ok.Succeed(map[string]int{"n": 1})
	failed := NewToolCall(SemanticSearch{Query: "x"})
	failed.Fail(errors.New("search unavailable"))

	data, err := json.Marshal([]*ToolCall{ok, failed})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"kind":"dataQuery"`) || !strings.Contains(s, `"result":{"n":1}`) {
		t.Fatalf("missing success fields: %s", s)
	}
	if !strings.Contains(s, `"error":"search unavailable"`) {
		t.Fatalf("missing error field: %s", s)
	}
	if strings.Count(s, `"result"`) != 1 {
		t.Fatalf("failed call must not carry a result: %s", s)
	}
}

func TestActionAcceptsStringShorthand(t *testing.T) {
	t.Parallel()

	var actions []Action
	if err := json.Unmarshal([]byte(`["retry", {"type":"view","label":"Ver"}]`), &actions); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if actions[0].Type != "retry" || actions[0].Label != "retry" {
		t.Fatalf("unexpected shorthand action: %+v", actions[0])
	}
	if actions[1].Label != "Ver" {
		t.Fatalf("unexpected object action: %+v", actions[1])
	}
}
