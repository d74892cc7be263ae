// Package agent turns retrieved policy context into a coverage decision with
// an LLM, degrading to "Insufficient Information" when the model cannot be
// reached or answers garbage.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"

	"policypilot/model"
)

// Decision is the closed set of claim outcomes.
type Decision string

const (
	DecisionApproved         Decision = "Approved"
	DecisionRejected         Decision = "Rejected"
	DecisionPending          Decision = "Pending"
	DecisionInsufficientInfo Decision = "Insufficient Information"
)

// ClauseRef ties a decision back to the policy text that justifies it.
type ClauseRef struct {
	Source    string  `json:"source"`
	Section   string  `json:"section,omitempty"`
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

// Result is the reasoner's verdict over one query.
type Result struct {
	Decision      Decision    `json:"decision"`
	Amount        string      `json:"amount,omitempty"`
	Justification string      `json:"justification"`
	Confidence    float64     `json:"confidence"`
	Clauses       []ClauseRef `json:"referenced_clauses,omitempty"`
}

// Reasoner evaluates claims against retrieved policy context.
type Reasoner struct {
	client *openai.Client
	model  string
}

// NewReasoner returns nil when no API key is configured; the query endpoint
// then serves retrieval-only responses.
func NewReasoner() *Reasoner {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil
	}
	m := os.Getenv("REASONING_MODEL")
	if m == "" {
		m = openai.GPT4
	}
	return &Reasoner{client: openai.NewClient(key), model: m}
}

const reasonerMaxAttempts = 2

// Evaluate asks the model for a decision over the query and context. Any
// failure collapses into an InsufficientInfo result instead of an error, so a
// flaky LLM never breaks the query endpoint.
func (r *Reasoner) Evaluate(ctx context.Context, parsed model.ParsedQuery, policyContext string) Result {
	prompt := buildDecisionPrompt(parsed, policyContext)

	if count, err := countTokens(prompt); err == nil {
		log.Printf("[REASONER] decision prompt is %d tokens", count)
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var lastErr error
	raw := ""
	for attempt := 1; attempt <= reasonerMaxAttempts; attempt++ {
		content := prompt
		if attempt > 1 {
			content = buildRepairPrompt(raw)
		}

		resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: r.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You are an insurance claim evaluator. Base every decision strictly on the provided policy clauses. Always respond with valid JSON.",
				},
				{Role: openai.ChatMessageRoleUser, Content: content},
			},
			Temperature: 0.1,
			MaxTokens:   800,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("empty completion")
			continue
		}
		raw = resp.Choices[0].Message.Content

		result, err := decodeResult(raw)
		if err != nil {
			lastErr = err
			continue
		}
		return result
	}

	log.Printf("[REASONER] evaluation failed after %d attempts: %v", reasonerMaxAttempts, lastErr)
	return Result{
		Decision:      DecisionInsufficientInfo,
		Justification: "Unable to evaluate the claim against the policy context.",
		Confidence:    0,
	}
}

func buildDecisionPrompt(parsed model.ParsedQuery, policyContext string) string {
	var sb strings.Builder
	sb.WriteString("Evaluate the following insurance claim against the policy clauses below.\n\n")
	sb.WriteString("Claim details:\n")
	sb.WriteString(fmt.Sprintf("- Query: %s\n", parsed.OriginalQuery))
	if parsed.Age > 0 {
		sb.WriteString(fmt.Sprintf("- Age: %d\n", parsed.Age))
	}
	if parsed.Gender != "" && parsed.Gender != model.GenderUnknown {
		sb.WriteString(fmt.Sprintf("- Gender: %s\n", parsed.Gender))
	}
	if parsed.Procedure != "" {
		sb.WriteString(fmt.Sprintf("- Procedure: %s\n", parsed.Procedure))
	}
	if parsed.Location != "" {
		sb.WriteString(fmt.Sprintf("- Location: %s\n", parsed.Location))
	}
	if parsed.PolicyDuration != "" {
		sb.WriteString(fmt.Sprintf("- Policy duration: %s\n", parsed.PolicyDuration))
	}
	if parsed.AmountClaimed != "" {
		sb.WriteString(fmt.Sprintf("- Amount claimed: %s\n", parsed.AmountClaimed))
	}

	sb.WriteString("\nPolicy clauses:\n")
	if policyContext == "" {
		sb.WriteString("(no relevant clauses found)\n")
	} else {
		sb.WriteString(policyContext)
		sb.WriteString("\n")
	}

	sb.WriteString(`
Return a JSON object:
{
  "decision": "Approved" | "Rejected" | "Pending" | "Insufficient Information",
  "amount": "approved amount or null",
  "justification": "reasoning referencing specific clauses",
  "confidence": 0.0-1.0,
  "referenced_clauses": [
    {"source": "...", "section": "...", "text": "exact clause text", "relevance": 0.0-1.0}
  ]
}

Respond only with valid JSON:`)
	return sb.String()
}

func decodeResult(raw string) (Result, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return Result{}, errors.New("no valid json found")
	}

	var result Result
	if err := json.Unmarshal([]byte(raw[start:end+1]), &result); err != nil {
		return Result{}, err
	}

	switch result.Decision {
	case DecisionApproved, DecisionRejected, DecisionPending, DecisionInsufficientInfo:
	default:
		result.Decision = DecisionInsufficientInfo
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}

func buildRepairPrompt(badOutput string) string {
	return fmt.Sprintf(`
You previously returned an invalid JSON.

Your task is to FIX the JSON.

RULES:
- Output ONLY valid JSON
- Do NOT add or remove information
- Do NOT add explanations
- Do NOT include markdown

INVALID OUTPUT:
<<<
%s
>>>

Return the corrected JSON only.
`, badOutput)
}

func countTokens(text string) (int, error) {
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
