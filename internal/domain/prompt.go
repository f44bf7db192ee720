package domain

import "time"

// PromptUse records which prompt template a pipeline node used, where it came
// from, and a stable hash of its content. One entry is recorded per
// LLM-using node execution in a job's prompt_manifest.
type PromptUse struct {
	Name        string       `json:"name"`
	Tag         string       `json:"tag,omitempty"`
	Source      PromptSource `json:"source"`
	Hash        string       `json:"hash"` // lowercase hex SHA-256 of the template
	RetrievedAt time.Time    `json:"retrieved_at"`
	CacheHit    bool         `json:"cache_hit"`
}

// PromptManifest is a per-job record of which prompt template each node used.
type PromptManifest map[PipelineNodeName]PromptUse
