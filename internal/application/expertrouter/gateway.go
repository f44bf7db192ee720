package expertrouter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/smilemakc/vyasa/internal/application/pipeline"
	"github.com/smilemakc/vyasa/internal/domain"
)

// Gateway is the concrete pipeline.ExpertGateway: it resolves an expert
// class to an endpoint pair, calls an OpenAI-compatible chat-completion API
// (the same client the teacher's OpenAICompletionExecutor used), retries
// once on a configured fallback, and emits one telemetry event per attempt
// (spec §4.2 "Emit one telemetry event per attempt with attempt index,
// latency, and outcome").
type Gateway struct {
	cfg       Config
	telemetry pipeline.Telemetry

	clientFor func(baseURL string) *openai.Client
}

// NewGateway constructs a Gateway. telemetry may be nil, in which case
// attempts are silently dropped (pipeline.Deps.telemetry() does the same
// nil-to-NoOp substitution for node-level events).
func NewGateway(cfg Config, telemetry pipeline.Telemetry) *Gateway {
	return &Gateway{cfg: cfg, telemetry: telemetry, clientFor: defaultClientFor(cfg.APIKey)}
}

func defaultClientFor(apiKey string) func(baseURL string) *openai.Client {
	return func(baseURL string) *openai.Client {
		key := apiKey
		if key == "" {
			key = "unused"
		}
		clientCfg := openai.DefaultConfig(key)
		if baseURL != "" {
			clientCfg.BaseURL = baseURL
		}
		return openai.NewClientWithConfig(clientCfg)
	}
}

func (g *Gateway) emit(kind string, payload map[string]any) {
	if g.telemetry == nil {
		return
	}
	g.telemetry.Emit(kind, payload)
}

// endpointsFor resolves an expert class to its primary endpoint and an
// optional fallback, per the static table spec §4.2 defines.
func (g *Gateway) endpointsFor(expert domain.ExpertClass) (primary Endpoint, fallback *Endpoint, err error) {
	switch expert {
	case domain.ExpertLogicReasoning:
		return g.cfg.Reasoning, nil, nil
	case domain.ExpertExtractionSchema:
		fb := g.cfg.Fallback
		return g.cfg.Extraction, &fb, nil
	case domain.ExpertVision:
		return g.cfg.Vision, nil, nil
	case domain.ExpertProseWriting:
		return g.cfg.Drafter, nil, nil
	default:
		return Endpoint{}, nil, fmt.Errorf("expertrouter: no route configured for expert class %q", expert)
	}
}

// Chat implements pipeline.ExpertGateway. It calls the primary endpoint and,
// on failure, retries exactly once against the fallback if one is
// configured for this expert class (spec §4.2 "Never retry more than
// once").
func (g *Gateway) Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.ChatResponse, error) {
	primary, fallback, err := g.endpointsFor(req.Expert)
	if err != nil {
		return pipeline.ChatResponse{}, err
	}

	resp, err := g.attempt(ctx, req, primary, domain.PathPrimary, 1)
	if err == nil {
		return resp, nil
	}
	if fallback == nil || fallback.BaseURL == "" {
		return pipeline.ChatResponse{}, err
	}

	resp, fbErr := g.attempt(ctx, req, *fallback, domain.PathFallback, 2)
	if fbErr != nil {
		return pipeline.ChatResponse{}, fbErr
	}
	return resp, nil
}

func (g *Gateway) attempt(ctx context.Context, req pipeline.ChatRequest, ep Endpoint, path domain.ExpertPath, attempt int) (pipeline.ChatResponse, error) {
	if ep.BaseURL == "" {
		return pipeline.ChatResponse{}, fmt.Errorf("expertrouter: no endpoint configured for expert %q path %q", req.Expert, path)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if g.cfg.ChatTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.ChatTimeout)
		defer cancel()
	}

	ccReq := g.buildRequest(req, ep)

	start := time.Now()
	raw, err := g.clientFor(ep.BaseURL).CreateChatCompletion(callCtx, ccReq)
	latency := time.Since(start)

	if err == nil && len(raw.Choices) > 0 {
		choice := raw.Choices[0]
		if toolCall, ok := mathToolCall(choice.Message.ToolCalls); ok {
			raw, err = g.resolveMathToolCall(callCtx, ccReq, raw, toolCall, ep)
		}
	}

	outcome := "success"
	if err != nil || len(raw.Choices) == 0 {
		outcome = "error"
	}
	g.emit("expert_chat_attempt", map[string]any{
		"expert":     string(req.Expert),
		"path":       string(path),
		"attempt":    attempt,
		"latency_ms": latency.Milliseconds(),
		"outcome":    outcome,
		"model":      ep.Model,
	})

	if err != nil {
		return pipeline.ChatResponse{}, fmt.Errorf("expertrouter: chat call to %s failed: %w", ep.BaseURL, err)
	}
	if len(raw.Choices) == 0 {
		return pipeline.ChatResponse{}, errors.New("expertrouter: chat completion returned no choices")
	}

	return pipeline.ChatResponse{
		Content: raw.Choices[0].Message.Content,
		Path:    path,
		Model:   ep.Model,
	}, nil
}

func (g *Gateway) buildRequest(req pipeline.ChatRequest, ep Endpoint) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	if req.ImageB64 != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.UserPrompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: "data:image/png;base64," + req.ImageB64,
					},
				},
			},
		})
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		})
	}

	ccReq := openai.ChatCompletionRequest{
		Model:    ep.Model,
		Messages: messages,
	}
	if req.JSONResponse {
		ccReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	if toolsInclude(req.AllowedTools, MathToolName) {
		ccReq.Tools = []openai.Tool{mathTool()}
	}
	return ccReq
}

func toolsInclude(allowed []string, name string) bool {
	for _, t := range allowed {
		if t == name {
			return true
		}
	}
	return false
}

// resolveMathToolCall runs the math sandbox for a single tool call and
// completes the conversation with the tool's result appended, rather than
// handing the tool call back to the node -- the math tool is never invoked
// outside this one call site (SPEC_FULL.md SUPPLEMENTED FEATURES #5).
func (g *Gateway) resolveMathToolCall(
	ctx context.Context,
	req openai.ChatCompletionRequest,
	first openai.ChatCompletionResponse,
	call openai.ToolCall,
	ep Endpoint,
) (openai.ChatCompletionResponse, error) {
	args, err := parseMathToolArgs(call.Function.Arguments)
	if err != nil {
		return first, nil // degrade to the model's ungrounded answer rather than fail the whole call
	}

	followUp := req
	followUp.Messages = append(append([]openai.ChatCompletionMessage{}, req.Messages...),
		first.Choices[0].Message,
		openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			ToolCallID: call.ID,
			Content:    mathToolResultContent(args.Expression),
		},
	)

	return g.clientFor(ep.BaseURL).CreateChatCompletion(ctx, followUp)
}

// Backpressure implements pipeline.ExpertGateway (spec §4.2): fetch a KV-
// cache utilization gauge from the target endpoint and translate it into an
// admission decision. Unavailable metrics proceed without delay rather than
// failing the call.
func (g *Gateway) Backpressure(ctx context.Context, expert domain.ExpertClass) (domain.BackpressureAction, error) {
	primary, _, err := g.endpointsFor(expert)
	if err != nil || primary.BaseURL == "" {
		return domain.BackpressureProceed, nil
	}

	utilization, ok := fetchKVUtilization(ctx, primary.BaseURL)
	if !ok {
		return domain.BackpressureProceed, nil
	}

	switch {
	case utilization >= g.cfg.BackpressureHigh:
		return domain.BackpressureRetryLater, nil
	case utilization >= g.cfg.BackpressureDelay:
		select {
		case <-ctx.Done():
			return domain.BackpressureRetryLater, ctx.Err()
		case <-time.After(g.cfg.DelaySleep):
		}
		return domain.BackpressureDelay, nil
	default:
		return domain.BackpressureProceed, nil
	}
}
