package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/illegalcall/wingwoman/internal/models"
)

const (
	MinAssessmentImages = 2
	MaxAssessmentImages = 6
	expectedIcebreakers = 5
)

// Image is an uploaded picture ready to be sent inline to the model.
type Image struct {
	Data     []byte
	MIMEType string
}

// Client wraps the four generation features around a Model. It performs no
// retries.
type Client struct {
	model   Model
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a Client. A zero timeout leaves the caller's deadline in charge.
func NewClient(model Model, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		model:   model,
		timeout: timeout,
		logger:  logger.With("component", "generation"),
	}
}

func (c *Client) generate(ctx context.Context, op string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.model.Generate(ctx, contents, config)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		c.logger.Error("Generation failed", "op", op, "error", err, "duration", time.Since(start))
		return "", &GenerationError{Op: op, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		c.logger.Error("Generation returned no text", "op", op)
		return "", &GenerationError{Op: op, Err: ErrEmptyResponse}
	}

	c.logger.Debug("Generation completed", "op", op, "duration", time.Since(start), "chars", len(text))
	return text, nil
}

func imagePart(img Image) (*genai.Part, error) {
	if len(img.Data) == 0 || !strings.HasPrefix(img.MIMEType, "image/") {
		return nil, ErrImageType
	}
	return genai.NewPartFromBytes(img.Data, img.MIMEType), nil
}

// AssessProfile scores a dating profile from its screenshots.
func (c *Client) AssessProfile(ctx context.Context, images []Image, platform string) (string, error) {
	if len(images) < MinAssessmentImages || len(images) > MaxAssessmentImages {
		return "", ErrImageCount
	}
	if platform == "" {
		platform = "dating app"
	}

	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		part, err := imagePart(img)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	parts = append(parts, genai.NewPartFromText(
		fmt.Sprintf("Analyze this %s profile. Follow the system instructions for assessment.", platform)))

	return c.generate(ctx, "assess_profile",
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction(assessmentInstruction), genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.7),
		})
}

// GenerateIcebreakers produces opening messages for a match's interest.
func (c *Client) GenerateIcebreakers(ctx context.Context, interest, matchContext string) (models.IcebreakerSet, error) {
	const op = "generate_icebreakers"

	prompt := fmt.Sprintf("Generate icebreakers for interest: %s. Context about match: %s. Remember to return ONLY JSON.",
		interest, matchContext)

	text, err := c.generate(ctx, op,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction(icebreakerInstruction), genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.8),
			ResponseMIMEType:  "application/json",
		})
	if err != nil {
		return models.IcebreakerSet{}, err
	}

	set, err := ParseIcebreakers(text, interest)
	if err != nil {
		c.logger.Error("Failed to parse icebreaker response", "error", err)
		return models.IcebreakerSet{}, &GenerationError{Op: op, Err: err}
	}
	if len(set.Icebreakers) != expectedIcebreakers {
		c.logger.Warn("Unexpected icebreaker count", "expected", expectedIcebreakers, "got", len(set.Icebreakers))
	}
	return set, nil
}

// AnalyzePrompt reviews a single prompt answer, given as text, as a screenshot, or both.
func (c *Client) AnalyzePrompt(ctx context.Context, question, answer string, image *Image) (string, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if answer == "" && image == nil {
		return "", ErrNothingToAssess
	}

	var b strings.Builder
	b.WriteString("Analyze this prompt.")
	if question != "" {
		fmt.Fprintf(&b, " Prompt question: %s.", question)
	}
	if answer != "" {
		fmt.Fprintf(&b, " Input text/context: %s", answer)
	}

	parts := make([]*genai.Part, 0, 2)
	if image != nil {
		part, err := imagePart(*image)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	parts = append(parts, genai.NewPartFromText(b.String()))

	return c.generate(ctx, "analyze_prompt",
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction(analyzerInstruction), genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.7),
		})
}

// AskAssistant answers a free-form dating question. The prior transcript is
// replayed as conversation turns.
func (c *Client) AskAssistant(ctx context.Context, question string, transcript []models.ChatMessage) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	return c.generate(ctx, "ask_assistant",
		transcriptContents(transcript, question),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction(amaInstruction), genai.RoleUser),
		})
}

// transcriptContents converts a transcript into model turns ending with the
// new question. Leading assistant entries are dropped since a conversation
// must open with a user turn.
func transcriptContents(transcript []models.ChatMessage, question string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(transcript)+1)
	for _, msg := range transcript {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == models.RoleAssistant {
			if len(contents) == 0 {
				continue
			}
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}
	return append(contents, genai.NewContentFromText(question, genai.RoleUser))
}
