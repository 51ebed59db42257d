package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic implements the Model interface using the Claude Messages API
type Anthropic struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates a new Anthropic Model instance
func NewAnthropic(apiKey string, modelName string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}

	return &Anthropic{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0), // one call per item
		),
		model:     modelName,
		maxTokens: 1024,
	}, nil
}

// Generate sends the prompt, and the image if present, as a single user message
func (a *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	blocks := make([]sdk.ContentBlockParamUnion, 0, 2)
	if req.Image != nil {
		blocks = append(blocks, sdk.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(req.Image)))
	}
	blocks = append(blocks, sdk.NewTextBlock(req.Prompt))

	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", classifyCallError(fmt.Errorf("creating message: %w", err))
	}

	var responseText strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			responseText.WriteString(block.Text)
		}
	}
	if responseText.Len() == 0 {
		return "", fmt.Errorf("%w: no text in anthropic response", ErrInvalidResponse)
	}
	return responseText.String(), nil
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (a *Anthropic) Close() error {
	return nil
}
