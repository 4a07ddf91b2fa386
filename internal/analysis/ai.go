package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/qcx/diario-pipeline/pkg/config"
)

// aiCompleter is the narrow external call, satisfied by *AnthropicAnalyzer;
// narrowed to an interface so AIAnalyzer can be tested without a live
// model endpoint.
type aiCompleter interface {
	complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AIAnalyzer is the Phase B analyzer.: it receives
// the OCR text enriched with the Phase A analysis context (primary
// document type, category set, key entities) as structured priors, and
// returns findings shaped like every other analyzer's.
type AIAnalyzer struct {
	id       string
	priority float64
	model    aiCompleter
}

// NewAIAnalyzer builds the AI analyzer over any aiCompleter, typically
// *AnthropicAnalyzer.
func NewAIAnalyzer(id string, priority float64, model aiCompleter) *AIAnalyzer {
	return &AIAnalyzer{id: id, priority: priority, model: model}
}

func (a *AIAnalyzer) ID() string        { return a.id }
func (a *AIAnalyzer) Type() string      { return TypeAI }
func (a *AIAnalyzer) Priority() float64 { return a.priority }

// aiSystemPrompt fixes the finding shape we ask the model to return; keeping it a
// constrained JSON shape means the rest of the pipeline never has to
// parse free-form prose.
const aiSystemPrompt = `You are classifying a Brazilian municipal or state official gazette excerpt.
Respond with a JSON array of findings, each shaped as:
{"type": "ai", "confidence": 0..1, "data": {"category": string, "documentType": string, "summary": string}}
Return [] if nothing notable is found. Respond with ONLY the JSON array, no prose.`

func (a *AIAnalyzer) Analyze(ctx context.Context, text string, analysisCtx *Context) ([]Finding, error) {
	userPrompt := a.buildPrompt(text, analysisCtx)

	raw, err := a.model.complete(ctx, aiSystemPrompt, userPrompt)
	if err != nil {
		return []Finding{{Type: TypeAI, Confidence: 0, Data: map[string]any{"status": "failure", "error": err.Error()}}}, nil
	}

	var parsed []struct {
		Type       string         `json:"type"`
		Confidence float64        `json:"confidence"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return []Finding{{Type: TypeAI, Confidence: 0, Data: map[string]any{"status": "failure", "error": "unparseable model response"}}}, nil
	}

	findings := make([]Finding, 0, len(parsed))
	for _, p := range parsed {
		findings = append(findings, Finding{Type: TypeAI, Confidence: p.Confidence, Data: p.Data})
	}
	return findings, nil
}

func (a *AIAnalyzer) buildPrompt(text string, analysisCtx *Context) string {
	var b strings.Builder
	if analysisCtx != nil {
		fmt.Fprintf(&b, "Known document type (from earlier analyzers): %s\n", analysisCtx.PrimaryDocumentType())
		fmt.Fprintf(&b, "Known categories: %s\n", strings.Join(analysisCtx.SortedCategories(), ", "))
		for entType, vals := range analysisCtx.Entities {
			fmt.Fprintf(&b, "Known %s entities: %s\n", entType, strings.Join(vals, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("Gazette excerpt:\n")
	b.WriteString(text)
	return b.String()
}

// AnthropicAnalyzer is the production aiCompleter, backed by
// anthropic-sdk-go behind a circuit breaker so a struggling model
// endpoint doesn't stall every in-flight analysis message.
type AnthropicAnalyzer struct {
	client  anthropic.Client
	model   anthropic.Model
	breaker *gobreaker.CircuitBreaker
}

// NewAnthropicAnalyzer builds the production AI completer from config.
func NewAnthropicAnalyzer(cfg *config.AnalysisConfig) *AnthropicAnalyzer {
	model := anthropic.Model(cfg.AIModel)
	if model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}
	return &AnthropicAnalyzer{
		client: anthropic.NewClient(option.WithAPIKey(cfg.AIAPIKey)),
		model:  model,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "anthropic-analysis",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (a *AnthropicAnalyzer) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	v, err := a.breaker.Execute(func() (any, error) {
		msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     a.model,
			MaxTokens: 1024,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
			},
		})
		if err != nil {
			return "", err
		}
		var out strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				out.WriteString(block.Text)
			}
		}
		return out.String(), nil
	})
	if err != nil {
		return "", fmt.Errorf("analysis: anthropic call: %w", err)
	}
	return v.(string), nil
}
