package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"tailoredletters/internal/config"
	"tailoredletters/internal/types"
)

// OpenAIGenerator implements LetterGenerator on the OpenAI chat completions
// API. The model is selected by plan tier: paying customers get the larger
// model, the free tier gets the cheaper one.
type OpenAIGenerator struct {
	client      *openai.Client
	freeModel   string
	paidModel   string
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

// NewOpenAIGenerator creates a generator from the generation configuration.
func NewOpenAIGenerator(cfg config.GenerationConfig, logger *slog.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIGenerator{
		client:      openai.NewClient(cfg.OpenAIAPIKey.Unmask()),
		freeModel:   cfg.FreeModel,
		paidModel:   cfg.PaidModel,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

// Generate drafts a cover letter for the given input.
func (g *OpenAIGenerator) Generate(ctx context.Context, input GenerationInput) (string, error) {
	model := g.freeModel
	if input.Plan.Paid() {
		model = g.paidModel
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert career writer. Write a concise, professional cover letter tailored to the job description. Do not invent qualifications the applicant did not list.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildLetterPrompt(input),
			},
		},
	})
	if err != nil {
		return "", mapOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			"generation backend returned no choices",
			nil,
		)
	}

	letter := strings.TrimSpace(resp.Choices[0].Message.Content)
	if letter == "" {
		return "", types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			"generation backend returned empty content",
			nil,
		)
	}

	g.logger.DebugContext(ctx, "letter generated",
		"model", model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return letter, nil
}

// buildLetterPrompt assembles the user prompt from applicant profile data and
// the job description.
func buildLetterPrompt(input GenerationInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a cover letter for %s applying to the following position.\n\n", input.ApplicantName)
	fmt.Fprintf(&b, "Job description:\n%s\n\n", input.JobDescription)

	if input.Studies != "" {
		fmt.Fprintf(&b, "Education: %s\n", input.Studies)
	}
	if len(input.Experiences) > 0 {
		b.WriteString("Relevant experience:\n")
		for _, exp := range input.Experiences {
			fmt.Fprintf(&b, "- %s\n", exp)
		}
	}
	if input.Language != "" {
		fmt.Fprintf(&b, "\nWrite the letter in %s.\n", input.Language)
	}

	return b.String()
}

// mapOpenAIError translates OpenAI client errors into the domain taxonomy.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return types.NewAppError(
				types.ErrCodeUpstreamRateLimited,
				"generation backend rate limit exceeded",
				err,
			)
		case apiErr.HTTPStatusCode >= 500:
			return types.NewAppError(
				types.ErrCodeUpstreamUnavailable,
				"generation backend unavailable",
				err,
			)
		}
	}
	return types.NewAppError(
		types.ErrCodeUpstreamGeneration,
		"generation request failed",
		err,
	)
}

var _ LetterGenerator = (*OpenAIGenerator)(nil)
