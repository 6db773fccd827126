package api

import (
	"context"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/illegalcall/wingwoman/internal/generation"
	"github.com/illegalcall/wingwoman/internal/models"
	"github.com/illegalcall/wingwoman/internal/storage"
)

// imageInput is an assessment or prompt-analysis request after its images
// have been resolved.
type imageInput struct {
	Platform string
	Question string
	Answer   string
	Images   []generation.Image
}

func (s *Server) handleAssessProfile(c *fiber.Ctx) error {
	sess := currentSession(c)

	in, err := s.readImageInput(c, "images")
	if err != nil {
		return s.respondError(c, err)
	}
	if n := len(in.Images); n < generation.MinAssessmentImages || n > generation.MaxAssessmentImages {
		return s.respondError(c, generation.ErrImageCount)
	}

	cost := sess.AssessmentCost()
	release, err := s.spend(c, sess, "assessments", cost, models.ActivityAssessments)
	if err != nil {
		return s.rejectSpend(c, sess, cost, err)
	}
	defer release()

	start := time.Now()
	report, err := s.gen.AssessProfile(c.UserContext(), in.Images, in.Platform)
	s.recordGeneration("assessment", start, err)
	if err != nil {
		return s.respondError(c, err)
	}
	sess.MarkAssessed()

	return c.JSON(fiber.Map{
		"report":   report,
		"markdown": generation.ToMarkdown(report),
		"cost":     cost,
		"credits":  sess.Ledger.Balance(),
	})
}

func (s *Server) handleGenerateIcebreakers(c *fiber.Ctx) error {
	var req models.IcebreakerRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}
	sess := currentSession(c)

	cost := float64(models.CostIcebreaker)
	release, err := s.spend(c, sess, "icebreakers", cost, models.ActivityIcebreakers)
	if err != nil {
		return s.rejectSpend(c, sess, cost, err)
	}
	defer release()

	start := time.Now()
	set, err := s.gen.GenerateIcebreakers(c.UserContext(), strings.TrimSpace(req.Interest), strings.TrimSpace(req.Context))
	s.recordGeneration("icebreakers", start, err)
	if err != nil {
		return s.respondError(c, err)
	}

	saved := make([]bool, len(set.Icebreakers))
	for i, ib := range set.Icebreakers {
		saved[i] = sess.Saved.IsSaved(ib.MessageText)
	}

	return c.JSON(fiber.Map{
		"icebreakers": set.Icebreakers,
		"pro_tip":     set.ProTip,
		"saved":       saved,
		"credits":     sess.Ledger.Balance(),
	})
}

func (s *Server) handleAnalyzePrompt(c *fiber.Ctx) error {
	sess := currentSession(c)

	in, err := s.readImageInput(c, "image")
	if err != nil {
		return s.respondError(c, err)
	}
	if len(in.Images) > 1 {
		return s.respondError(c, models.NewValidationError("only one screenshot can be analyzed at a time"))
	}
	var image *generation.Image
	if len(in.Images) == 1 {
		image = &in.Images[0]
	}
	if strings.TrimSpace(in.Answer) == "" && image == nil {
		return s.respondError(c, generation.ErrNothingToAssess)
	}

	cost := float64(models.CostPromptAnalyzer)
	release, err := s.spend(c, sess, "prompts", cost, models.ActivityPrompts)
	if err != nil {
		return s.rejectSpend(c, sess, cost, err)
	}
	defer release()

	start := time.Now()
	report, err := s.gen.AnalyzePrompt(c.UserContext(), in.Question, in.Answer, image)
	s.recordGeneration("prompt_analysis", start, err)
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"report":   report,
		"markdown": generation.ToMarkdown(report),
		"credits":  sess.Ledger.Balance(),
	})
}

func (s *Server) handleAsk(c *fiber.Ctx) error {
	var req models.AskRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return s.respondError(c, generation.ErrEmptyQuestion)
	}
	sess := currentSession(c)

	cost := float64(models.CostAMAQuestion)
	release, err := s.spend(c, sess, "ama", cost, models.ActivityQuestions)
	if err != nil {
		return s.rejectSpend(c, sess, cost, err)
	}
	defer release()

	start := time.Now()
	reply, err := s.gen.AskAssistant(c.UserContext(), question, sess.Transcript())
	s.recordGeneration("ama", start, err)
	if err != nil {
		return s.respondError(c, err)
	}

	msg := sess.AppendExchange(question, reply, time.Now().UTC())
	return c.JSON(fiber.Map{
		"message": msg,
		"credits": sess.Ledger.Balance(),
	})
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"messages": currentSession(c).Transcript()})
}

func (s *Server) recordGeneration(feature string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordGeneration(feature, time.Since(start), err)
	}
}

// readImageInput accepts either a multipart form with files under field, or a
// JSON body whose sources are URLs or base64 data.
func (s *Server) readImageInput(c *fiber.Ctx, field string) (imageInput, error) {
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return imageInput{}, models.NewValidationError("Invalid multipart form")
		}
		images, err := s.readUploads(form.File[field])
		if err != nil {
			return imageInput{}, err
		}
		return imageInput{
			Platform: formValue(form, "platform"),
			Question: formValue(form, "question"),
			Answer:   formValue(form, "answer"),
			Images:   images,
		}, nil
	}

	var req models.ImageSourcesRequest
	if err := s.bind(c, &req); err != nil {
		return imageInput{}, err
	}
	images, err := s.fetchSources(c.UserContext(), req.Sources)
	if err != nil {
		return imageInput{}, err
	}
	return imageInput{
		Platform: req.Platform,
		Question: req.Question,
		Answer:   req.Answer,
		Images:   images,
	}, nil
}

func (s *Server) readUploads(files []*multipart.FileHeader) ([]generation.Image, error) {
	if len(files) > generation.MaxAssessmentImages {
		return nil, generation.ErrImageCount
	}
	images := make([]generation.Image, 0, len(files))
	for _, fh := range files {
		if fh.Size > s.cfg.Storage.MaxSize {
			return nil, storage.ErrTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload: %w", err)
		}
		img, err := storage.Read(f, s.cfg.Storage.MaxSize)
		f.Close()
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// fetchSources resolves every source concurrently, keeping the request order.
func (s *Server) fetchSources(ctx context.Context, sources []string) ([]generation.Image, error) {
	if len(sources) > generation.MaxAssessmentImages {
		return nil, generation.ErrImageCount
	}
	images := make([]generation.Image, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			img, err := storage.Fetch(gctx, s.storage, src)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
