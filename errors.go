package engine

import "fmt"

// ErrLLM wraps a failure from an LLM provider call (extractor, consolidator,
// reflector). Providers wrap model-side failures in ErrLLM and transport
// failures in ErrHTTP, so callers can distinguish "the model errored" from
// "we couldn't reach it".
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP wraps a transient transport failure (timeouts, 5xx responses) from
// an embedding, rerank, or LLM HTTP call. Retry wrappers key off this type.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrValidation signals an input-validation failure (§7): malformed bank ID,
// content over the length limit, empty query. The caller never touches the
// store before this is returned.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// ErrInvariant signals a data-model invariant violation (§3, §8): an
// observation persisted without sources, a cross-bank link, a duplicate
// (bank, entity_id) mental model. This is a programmer error — callers
// should treat it as fatal to the current operation rather than retry.
type ErrInvariant struct {
	Invariant string
	Detail    string
}

func (e *ErrInvariant) Error() string {
	return fmt.Sprintf("invariant violated: %s: %s", e.Invariant, e.Detail)
}
