// Package expertrouter implements the Expert Router & LLM Gateway (spec
// §4.2): a static table mapping a logical pipeline node to an expert class,
// and from there to a primary/fallback endpoint pair, fronted by a single
// Gateway satisfying pipeline.ExpertGateway. It also hosts the allow-listed
// math sandbox tool (SPEC_FULL.md SUPPLEMENTED FEATURES #5).
package expertrouter

import "time"

// Endpoint is one resolvable chat-completion target: a base URL an
// OpenAI-compatible client can point at, plus the model identifier to send.
type Endpoint struct {
	BaseURL string
	Model   string
}

// Config is the Expert Router's static routing table (spec §4.2:
// "Extraction->Worker with Brain fallback; Critic->Brain (no fallback);
// Vision->Vision; Synthesizer/Drafter->Drafter; Saver->Worker"). Saver is a
// deterministic persistence node in this codebase and never calls the
// gateway, so it has no entry here.
type Config struct {
	APIKey string

	Reasoning  Endpoint // LOGIC_REASONING (critic) -- no fallback
	Extraction Endpoint // EXTRACTION_SCHEMA (cartographer)
	Fallback   Endpoint // extraction's sole fallback, per spec's Worker->Brain pairing
	Vision     Endpoint // VISION
	Drafter    Endpoint // PROSE_WRITING (synthesizer)

	ChatTimeout time.Duration

	// Backpressure thresholds (spec §4.2): >=High is retry_later, [Delay,High)
	// sleeps DelaySleep and proceeds, below Delay proceeds immediately.
	BackpressureHigh  float64
	BackpressureDelay float64
	DelaySleep        time.Duration
}

// DefaultConfig mirrors the spec's literal thresholds; callers only need to
// fill in the endpoints.
func DefaultConfig() Config {
	return Config{
		ChatTimeout:       30 * time.Second,
		BackpressureHigh:  0.95,
		BackpressureDelay: 0.85,
		DelaySleep:        200 * time.Millisecond,
	}
}
