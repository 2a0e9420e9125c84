// Package nodeexec provides the built-in NodeExecutor implementations
// for the node families named in the Mission graph: triggers, a subset
// of Data/AI/Logic/Transform nodes, and the leaf Output family. Leaf
// integrations (web search, LLM completion, channel dispatch) are
// called out through novacore/internal/collaborators, never implemented
// here directly.
package nodeexec

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"novacore/internal/app/executor"
	"novacore/internal/collaborators"
	"novacore/internal/domain/mission"
	"novacore/internal/errors"
)

// RegisterBuiltins wires every built-in executor into reg. llm, search,
// and dispatcher may be nil; their node types then fail with a
// descriptive error rather than panicking. LLM completion and web search
// calls are each routed through a named circuit breaker so a failing
// provider stops being hammered by every node in a mission run.
func RegisterBuiltins(reg *executor.Registry, llm collaborators.LLMCompleter, search collaborators.WebSearcher, dispatcher collaborators.ChannelDispatcher) {
	breakers := errors.NewCircuitBreakerManager(errors.DefaultCircuitBreakerConfig())
	registerTriggers(reg)
	registerData(reg, search, breakers)
	registerAI(reg, llm, breakers)
	registerLogic(reg)
	registerTransform(reg)
	registerOutput(reg, dispatcher)
}

func registerTriggers(reg *executor.Registry) {
	passthrough := func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true, Data: map[string]any{"triggered": true}}
	}
	reg.Register(mission.TypeManualTrigger, passthrough)
	reg.Register(mission.TypeScheduleTrigger, passthrough)
	reg.Register(mission.TypeWebhookTrigger, passthrough)
	reg.Register(mission.TypeEventTrigger, passthrough)
}

func registerData(reg *executor.Registry, search collaborators.WebSearcher, breakers *errors.CircuitBreakerManager) {
	reg.Register("web-search", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		if search == nil {
			mErr := errors.NewMissionError("NO_COLLABORATOR", "no web search provider configured")
			return mission.NodeOutput{OK: false, ErrorCode: mErr.Code, Error: mErr.Message}
		}
		query := ec.ResolveExpr(n.StringField("query"))
		cb := breakers.Get("web-search")
		resp, err := errors.ExecuteFunc(cb, ctx, func(ctx context.Context) (collaborators.SearchResponse, error) {
			return search.Search(ctx, query, nil, ec.Scope)
		})
		if err != nil {
			return mission.NodeOutput{OK: false, ErrorCode: "SEARCH_FAILED", Error: err.Error()}
		}
		var b strings.Builder
		for i, r := range resp.Results {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(r.Title)
			b.WriteString(": ")
			b.WriteString(r.Snippet)
		}
		items := make([]any, len(resp.Results))
		for i, r := range resp.Results {
			items[i] = map[string]any{"title": r.Title, "url": r.URL, "snippet": r.Snippet}
		}
		return mission.NodeOutput{OK: true, Text: b.String(), Items: items}
	})

	reg.Register("form-input", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true, Text: ec.ResolveExpr(n.StringField("value"))}
	})
}

func registerAI(reg *executor.Registry, llm collaborators.LLMCompleter, breakers *errors.CircuitBreakerManager) {
	complete := func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext, systemText string) mission.NodeOutput {
		if llm == nil {
			mErr := errors.NewMissionError("NO_COLLABORATOR", "no LLM provider configured")
			return mission.NodeOutput{OK: false, ErrorCode: mErr.Code, Error: mErr.Message}
		}
		userText := ec.ResolveExpr(n.StringField("input"))
		maxTokens := 512
		cb := breakers.Get("llm-complete")
		result, err := errors.ExecuteFunc(cb, ctx, func(ctx context.Context) (collaborators.LLMResult, error) {
			return llm.Complete(ctx, systemText, userText, maxTokens, ec.Scope, n.StringField("model"))
		})
		if err != nil {
			return mission.NodeOutput{OK: false, ErrorCode: "LLM_FAILED", Error: err.Error()}
		}
		return mission.NodeOutput{OK: true, Text: result.Text}
	}

	reg.Register("ai-summarize", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return complete(ctx, n, ec, "Summarize the following content concisely.")
	})
	reg.Register("ai-classify", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return complete(ctx, n, ec, "Classify the following content into one of: "+n.StringField("labels"))
	})
	reg.Register("ai-extract", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return complete(ctx, n, ec, "Extract the following field from the content: "+n.StringField("field"))
	})
	reg.Register("ai-generate", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return complete(ctx, n, ec, n.StringField("systemPrompt"))
	})
	reg.Register("ai-chat", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return complete(ctx, n, ec, n.StringField("systemPrompt"))
	})
}

func registerLogic(reg *executor.Registry) {
	reg.Register("condition", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		resolved := ec.ResolveExpr(n.StringField("expression"))
		port := mission.PortFalse
		if truthy(resolved) {
			port = mission.PortTrue
		}
		return mission.NodeOutput{OK: true, Port: port, Text: resolved}
	})

	reg.Register("switch", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		resolved := ec.ResolveExpr(n.StringField("expression"))
		cases, _ := n.Field("cases")
		if caseMap, ok := cases.(map[string]any); ok {
			if _, ok := caseMap[resolved]; ok {
				return mission.NodeOutput{OK: true, Port: resolved, Text: resolved}
			}
		}
		return mission.NodeOutput{OK: true, Port: "default", Text: resolved}
	})

	reg.Register("merge", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		var parts []string
		for _, out := range ec.NodeOutputs {
			if out.OK && strings.TrimSpace(out.Text) != "" {
				parts = append(parts, out.Text)
			}
		}
		return mission.NodeOutput{OK: true, Text: strings.Join(parts, "\n")}
	})

	reg.Register("wait", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true}
	})
}

func registerTransform(reg *executor.Registry) {
	reg.Register("set-variables", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		assignments, _ := n.Field("assignments")
		m, ok := assignments.(map[string]any)
		if !ok {
			return mission.NodeOutput{OK: true}
		}
		for k, v := range m {
			ec.Variables[k] = ec.ResolveExpr(fmt.Sprintf("%v", v))
		}
		return mission.NodeOutput{OK: true, Data: map[string]any{"assigned": len(m)}}
	})

	reg.Register("format", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true, Text: ec.ResolveExpr(n.StringField("template"))}
	})

	reg.Register("filter", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		contains := n.StringField("contains")
		var kept []any
		for _, out := range ec.NodeOutputs {
			for _, item := range out.Items {
				if s := fmt.Sprintf("%v", item); contains == "" || strings.Contains(s, contains) {
					kept = append(kept, item)
				}
			}
		}
		return mission.NodeOutput{OK: true, Items: kept}
	})

	reg.Register("sort", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		source, _ := n.Field("items")
		items, ok := source.([]any)
		if !ok {
			return mission.NodeOutput{OK: true}
		}
		sorted := append([]any(nil), items...)
		sort.Slice(sorted, func(i, j int) bool {
			return fmt.Sprintf("%v", sorted[i]) < fmt.Sprintf("%v", sorted[j])
		})
		return mission.NodeOutput{OK: true, Items: sorted}
	})

	reg.Register("dedupe", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		source, _ := n.Field("items")
		items, ok := source.([]any)
		if !ok {
			return mission.NodeOutput{OK: true}
		}
		seen := make(map[string]bool, len(items))
		var out []any
		for _, item := range items {
			key := fmt.Sprintf("%v", item)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
		return mission.NodeOutput{OK: true, Items: out}
	})
}

func registerOutput(reg *executor.Registry, dispatcher collaborators.ChannelDispatcher) {
	channels := map[string]string{
		"telegram-output": "telegram",
		"discord-output":  "discord",
		"email-output":    "email",
		"webhook-output":  "webhook",
		"slack-output":    "slack",
		"novachat-output": "novachat",
	}
	for nodeType, channel := range channels {
		channel := channel
		reg.Register(nodeType, func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
			if dispatcher == nil {
				mErr := errors.NewMissionError("NO_COLLABORATOR", "no channel dispatcher configured")
				return mission.NodeOutput{OK: false, ErrorCode: mErr.Code, Error: mErr.Message}
			}
			text := ec.ResolveExpr(n.StringField("text"))
			results, err := dispatcher.Dispatch(ctx, channel, text, stringSliceField(n, "recipients"), false, ec.Scope, collaborators.DispatchMeta{
				MissionRunID: ec.RunID, NodeID: n.ID,
			})
			if err != nil {
				return mission.NodeOutput{OK: false, ErrorCode: "DISPATCH_FAILED", Error: err.Error()}
			}
			for _, r := range results {
				if !r.OK {
					return mission.NodeOutput{OK: false, ErrorCode: "DISPATCH_FAILED", Error: r.Error}
				}
			}
			return mission.NodeOutput{OK: true, Text: text}
		})
	}
}

func stringSliceField(n mission.Node, name string) []string {
	v, ok := n.Field(name)
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func truthy(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "false" || s == "0" {
		return false
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return true
}
