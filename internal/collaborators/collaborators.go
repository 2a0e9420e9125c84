// Package collaborators defines the interfaces for every out-of-scope
// external dependency the Mission DAG Executor calls out to: the
// workflow builder, leaf channel executors, LLM/web-search providers,
// and the integration catalog. None of these are implemented here —
// only their contracts, so the executor core can be built and tested
// against fakes.
package collaborators

import "context"

// LLMCompletionError wraps a provider failure.
type LLMCompletionError struct {
	Provider string
	Cause    error
}

func (e *LLMCompletionError) Error() string {
	return "llm completion failed (" + e.Provider + "): " + e.Cause.Error()
}

func (e *LLMCompletionError) Unwrap() error { return e.Cause }

// LLMResult is one completion response.
type LLMResult struct {
	Provider string
	Model    string
	Text     string
}

// LLMCompleter is the interface ai-* node executors call out to. It is
// implemented by a concrete HTTP client outside this core.
type LLMCompleter interface {
	Complete(ctx context.Context, systemText, userText string, maxTokens int, scope string, override string) (LLMResult, error)
}

// SearchResult is one web-search hit.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// SearchResponse is returned by WebSearcher.Search. An empty Results
// slice means no usable data was found — not an error.
type SearchResponse struct {
	SearchURL string
	Provider  string
	Results   []SearchResult
}

// WebSearcher is the interface the web-search node executor calls out
// to.
type WebSearcher interface {
	Search(ctx context.Context, query string, headers map[string]string, scope string) (SearchResponse, error)
}

// DispatchResult is one per-recipient delivery outcome.
type DispatchResult struct {
	OK     bool
	Error  string
	Status string
}

// DispatchMeta carries idempotency and provenance for a dispatch
// attempt. Dispatchers must be idempotent for the same
// (MissionRunID, NodeID, OutputIndex) triple.
type DispatchMeta struct {
	MissionRunID string
	NodeID       string
	OutputIndex  int
}

// ChannelDispatcher is the interface every leaf output executor
// (telegram/discord/email/webhook/slack/novachat) calls out to.
type ChannelDispatcher interface {
	Dispatch(ctx context.Context, channel string, text string, recipients []string, scheduleLike bool, scope string, meta DispatchMeta) ([]DispatchResult, error)
}

// CatalogItem is one read-only integration descriptor.
type CatalogItem struct {
	ID        string
	Kind      string
	Connected bool
	Endpoint  string
	Label     string
}

// IntegrationCatalog is the interface executors use to discover
// connected third-party integrations. The executor treats it as
// read-only.
type IntegrationCatalog interface {
	List(ctx context.Context, scope string) ([]CatalogItem, error)
}

// MissionBuilder is the out-of-scope natural-language workflow builder:
// LLM prompt engineering and topic detection that turns a user request
// into a Mission. Only its contract is specified.
type MissionBuilder interface {
	Build(ctx context.Context, userID, prompt string) (BuildResult, error)
}

// BuildResult is what the builder hands back to the core for
// persistence via MissionStore.UpsertMission.
type BuildResult struct {
	MissionID string
	Summary   string
}
