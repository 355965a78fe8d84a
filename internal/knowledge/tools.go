package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cyberguardng/voicegateway/internal/protocol"
)

const (
	FunctionSearchKnowledgeBase = "search_knowledge_base"
	FunctionGetServiceInfo      = "get_service_info"
)

// Tools answers speech-model function calls from the knowledge base.
type Tools struct {
	store Store
	limit int
}

func NewTools(store Store) *Tools {
	return &Tools{store: store, limit: defaultSearchLimit}
}

type toolOutput struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Results []SearchResult `json:"results,omitempty"`
	Service *Service       `json:"service,omitempty"`
}

func (t *Tools) Definitions() []protocol.ToolDefinition {
	return []protocol.ToolDefinition{
		{
			Type:        "function",
			Name:        FunctionSearchKnowledgeBase,
			Description: "Search the CyberGuardNG knowledge base for security and compliance articles relevant to the caller's question.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Short search phrase, for example \"ransomware\" or \"SOC 2 audit\".",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Type:        "function",
			Name:        FunctionGetServiceInfo,
			Description: "Look up one CyberGuardNG service: description, typical timeline and contact.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"service": map[string]any{
						"type":        "string",
						"description": "Service name such as soc2, iso27001, pcidss, incident-response, pentest or vciso.",
					},
				},
				"required": []string{"service"},
			},
		},
	}
}

// Call runs the named function with its JSON arguments and returns the JSON
// output sent back to the model.
func (t *Tools) Call(ctx context.Context, name, arguments string) (string, error) {
	switch name {
	case FunctionSearchKnowledgeBase:
		var args struct {
			Query string `json:"query"`
		}
		if err := decodeArguments(arguments, &args); err != nil {
			return "", err
		}
		query := strings.TrimSpace(args.Query)
		if query == "" {
			return "", fmt.Errorf("%w: query is required", ErrInvalidArguments)
		}
		return t.search(ctx, query)
	case FunctionGetServiceInfo:
		var args struct {
			Service string `json:"service"`
		}
		if err := decodeArguments(arguments, &args); err != nil {
			return "", err
		}
		return t.serviceInfo(args.Service)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
}

func (t *Tools) search(ctx context.Context, query string) (string, error) {
	articles, err := t.store.SearchArticles(ctx, query, t.limit)
	if err != nil {
		return "", fmt.Errorf("search knowledge base: %w", err)
	}
	results := make([]SearchResult, 0, len(articles))
	for _, a := range articles {
		results = append(results, Summarize(a))
	}
	return encodeOutput(toolOutput{
		Status:  "success",
		Message: FormatForVoice(results),
		Results: results,
	})
}

func (t *Tools) serviceInfo(name string) (string, error) {
	svc, ok := LookupService(name)
	if !ok {
		return encodeOutput(toolOutput{
			Status:  "not_found",
			Message: "I don't have details on that service, but a specialist can call you back. Our main services are SOC 2, ISO 27001, PCI DSS, incident response, penetration testing and virtual CISO.",
		})
	}
	return encodeOutput(toolOutput{
		Status:  "success",
		Message: FormatServiceForVoice(svc),
		Service: &svc,
	})
}

func decodeArguments(arguments string, out any) error {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	if err := json.Unmarshal([]byte(arguments), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func encodeOutput(out toolOutput) (string, error) {
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode function output: %w", err)
	}
	return string(raw), nil
}
