package justify

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

const systemPrompt = "You help platform engineers document Kubernetes resource changes. " +
	"Write a short, professional justification (2-3 sentences) suitable for a change ticket. " +
	"Be specific about the numbers. Do not use markdown headings or bullet lists."

// AnthropicJustifier rewrites the calculator's deterministic justification
// into change-ticket prose. Any failure leaves the deterministic text in
// place, so this path never blocks a workflow.
type AnthropicJustifier struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a justifier using the given API key and model name.
func New(apiKey, model string) *AnthropicJustifier {
	return &AnthropicJustifier{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Justify implements the workflow engine's Justifier contract.
func (j *AnthropicJustifier) Justify(ctx context.Context, rec *models.Recommendation) (string, error) {
	prompt := fmt.Sprintf(
		"Workload %s on cluster %s.\n"+
			"Current resources: %s.\n"+
			"Proposed resources: %s.\n"+
			"Measurement basis: %s\n"+
			"Write the justification.",
		rec.Ref, rec.Ref.Cluster, rec.Current, rec.Proposed, rec.Justification)

	msg, err := j.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     j.model,
		MaxTokens: 400,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("generating justification: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}
