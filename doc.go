// Package engine implements a long-term episodic and semantic memory
// store for a conversational agent.
//
// It exposes four operations — Retain, Recall, Reflect, and
// TriggerConsolidation — backed by a bank-scoped relational store with
// vector and trigram indices. Retain extracts structured facts from free
// text and persists them with embeddings and graph links. Recall fuses
// semantic, keyword, graph-walk, and temporal retrieval into a ranked,
// token-budgeted result set. Reflect drives an LLM tool-calling loop over
// three memory tiers with citation validation. A background worker
// continuously consolidates raw facts into durable observations and
// maintains higher-level mental-model summaries.
//
// The engine never talks to an LLM, embedding model, or database
// directly — those are supplied by the caller through the Provider,
// EmbeddingProvider, Reranker, and Store interfaces, keeping the engine
// itself free of any specific vendor SDK.
package engine
