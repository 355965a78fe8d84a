package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type failingStore struct{}

func (failingStore) SearchArticles(context.Context, string, int) ([]Article, error) {
	return nil, errors.New("db down")
}
func (failingStore) Mode() string { return "failing" }
func (failingStore) Close() error { return nil }

func decodeOutput(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, raw)
	}
	return out
}

func TestToolsDefinitions(t *testing.T) {
	defs := NewTools(NewSeededInMemoryStore()).Definitions()
	if len(defs) != 2 {
		t.Fatalf("len(Definitions()) = %d, want 2", len(defs))
	}
	names := map[string]bool{}
	for _, d := range defs {
		if d.Type != "function" {
			t.Fatalf("definition %q type = %q, want function", d.Name, d.Type)
		}
		names[d.Name] = true
	}
	if !names[FunctionSearchKnowledgeBase] || !names[FunctionGetServiceInfo] {
		t.Fatalf("unexpected definitions: %+v", names)
	}
}

func TestToolsSearch(t *testing.T) {
	tools := NewTools(NewSeededInMemoryStore())
	raw, err := tools.Call(context.Background(), FunctionSearchKnowledgeBase, `{"query":"penetration"}`)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	out := decodeOutput(t, raw)
	if out["status"] != "success" {
		t.Fatalf("status = %v, want success", out["status"])
	}
	results, _ := out["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
}

func TestToolsServiceInfo(t *testing.T) {
	tools := NewTools(NewSeededInMemoryStore())
	raw, err := tools.Call(context.Background(), FunctionGetServiceInfo, `{"service":"SOC 2"}`)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	out := decodeOutput(t, raw)
	svc, _ := out["service"].(map[string]any)
	if svc["key"] != "soc2" {
		t.Fatalf("service.key = %v, want soc2", svc["key"])
	}

	raw, err = tools.Call(context.Background(), FunctionGetServiceInfo, `{"service":"gardening"}`)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out := decodeOutput(t, raw); out["status"] != "not_found" {
		t.Fatalf("status = %v, want not_found", out["status"])
	}
}

func TestToolsErrors(t *testing.T) {
	tools := NewTools(NewSeededInMemoryStore())
	if _, err := tools.Call(context.Background(), "book_meeting", `{}`); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("unknown function error = %v, want ErrUnknownFunction", err)
	}
	if _, err := tools.Call(context.Background(), FunctionSearchKnowledgeBase, `{"query":`); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("malformed args error = %v, want ErrInvalidArguments", err)
	}
	if _, err := tools.Call(context.Background(), FunctionSearchKnowledgeBase, ``); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("empty query error = %v, want ErrInvalidArguments", err)
	}
	if _, err := NewTools(failingStore{}).Call(context.Background(), FunctionSearchKnowledgeBase, `{"query":"x"}`); err == nil {
		t.Fatalf("store failure error = nil, want error")
	}
}
