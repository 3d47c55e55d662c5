package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"

	"leadflow/internal/adapters/llm"
	"leadflow/internal/models"
	"leadflow/internal/storage"
	"leadflow/internal/store"
)

const (
	categoryCertaintyThreshold = 0.6
	visionMaxSide              = 1024
	visionJPEGQuality          = 85
	visionMaxTokens            = 500
)

const baselineImagePrompt = `Describe this image objectively in a few sentences, as a report for a support team.
Mention any visible damage, fault or problem, where it seems to be and how severe it looks.
Write the description in the language with ISO code %s.`

const categoryDetectionPrompt = `Classify a customer's image into one of the company's ticket categories.

Image description:
%s

Customer caption:
%s

Categories (id: name - description):
%s
Reply only with a JSON object: {"category_id": "<id or empty>", "certainty": <number between 0 and 1>, "explanation": "<short reason>"}`

// ImageAnalysis is the outcome of the image flow, ready for the ticket engine.
type ImageAnalysis struct {
	MediaID     string
	BlobKey     string
	ContentType string
	Caption     string
	Description string
	Category    *models.TicketCategory
	Certainty   float64
}

type categoryGuess struct {
	CategoryID  string  `json:"category_id"`
	Certainty   float64 `json:"certainty"`
	Explanation string  `json:"explanation"`
}

// MediaPipeline downloads, stores and interprets audio and images.
type MediaPipeline struct {
	st              *store.Stores
	messenger       Messenger
	blobs           storage.BlobStore
	assistant       *Assistant
	tenants         *TenantRegistry
	transcribeModel string
	visionModel     string
	probe           DurationProbe
}

func NewMediaPipeline(st *store.Stores, messenger Messenger, blobs storage.BlobStore, assistant *Assistant, tenants *TenantRegistry, transcribeModel, visionModel string) *MediaPipeline {
	return &MediaPipeline{
		st:              st,
		messenger:       messenger,
		blobs:           blobs,
		assistant:       assistant,
		tenants:         tenants,
		transcribeModel: transcribeModel,
		visionModel:     visionModel,
		probe:           FFProbeDuration,
	}
}

// SetDurationProbe replaces the audio duration probe.
func (p *MediaPipeline) SetDurationProbe(probe DurationProbe) {
	p.probe = probe
}

// Transcribe runs the audio flow for a stored audio message and returns the
// transcription. On any failure the AudioMessage ends as failed.
func (p *MediaPipeline) Transcribe(ctx context.Context, company *models.Company, msg *models.Message, mediaID string) (string, error) {
	audio := &models.AudioMessage{MessageID: msg.ID}
	if err := p.st.Audio.Create(ctx, audio); err != nil {
		return "", err
	}
	fail := func(stage string, err error) (string, error) {
		if ferr := p.st.Audio.Fail(ctx, audio.ID, fmt.Sprintf("%s: %v", stage, err), store.Now()); ferr != nil {
			log.Error().Err(ferr).Str("audioID", audio.ID).Msg("Failed to mark audio as failed")
		}
		log.Warn().Err(err).Str("audioID", audio.ID).Str("stage", stage).Msg("Audio processing failed")
		return "", fmt.Errorf("audio %s: %w", stage, err)
	}

	media, err := p.messenger.FetchMedia(ctx, p.tenants.Credentials(company), mediaID)
	if err != nil {
		return fail("fetch", err)
	}
	key, err := p.blobs.Put(ctx, company.ID, media.ContentType, media.Data)
	if err != nil {
		return fail("store", err)
	}
	if err := p.st.Audio.SetBlobKey(ctx, audio.ID, key); err != nil {
		return fail("store", err)
	}
	if err := p.st.Audio.Transition(ctx, audio.ID, models.AudioPending, models.AudioProcessing); err != nil {
		return fail("transition", err)
	}

	ext := storage.Extension(media.ContentType)
	duration := 0
	if p.probe != nil {
		if d, err := p.probe(ctx, media.Data, ext); err == nil {
			duration = d
		} else {
			log.Debug().Err(err).Str("audioID", audio.ID).Msg("Audio duration unavailable")
		}
	}

	text, err := p.assistant.Transcribe(ctx, CallMeta{CompanyID: company.ID, SessionID: msg.SessionID, Purpose: PurposeTranscription},
		p.transcribeModel, "audio"+ext, media.Data)
	if err != nil {
		return fail("transcribe", err)
	}
	if err := p.st.Audio.Complete(ctx, audio.ID, msg.ID, text, duration, store.Now()); err != nil {
		return fail("complete", err)
	}
	msg.Text = text
	log.Info().Str("audioID", audio.ID).Str("messageID", msg.ID).Int("duration", duration).Msg("Audio transcribed")
	return text, nil
}

// AnalyzeImage fetches and stores an image, describes it and detects its
// ticket category. Vision failures degrade to the caption.
func (p *MediaPipeline) AnalyzeImage(ctx context.Context, company *models.Company, sess *models.Session, mediaID, caption, lang string) (*ImageAnalysis, error) {
	media, err := p.messenger.FetchMedia(ctx, p.tenants.Credentials(company), mediaID)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	key, err := p.blobs.Put(ctx, company.ID, media.ContentType, media.Data)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	out := &ImageAnalysis{
		MediaID:     mediaID,
		BlobKey:     key,
		ContentType: media.ContentType,
		Caption:     strings.TrimSpace(caption),
	}
	meta := CallMeta{CompanyID: company.ID, SessionID: &sess.ID}
	contentType, data := prepareForVision(media.ContentType, media.Data)

	meta.Purpose = PurposeImageAnalysis
	baseline, err := p.describe(ctx, meta, fmt.Sprintf(baselineImagePrompt, userLanguage(lang)), contentType, data, p.visionModel, visionMaxTokens)
	if err != nil {
		log.Warn().Err(err).Str("mediaID", mediaID).Msg("Baseline image analysis failed")
		baseline = out.Caption
	}
	out.Description = baseline

	categories, err := p.tenants.Categories(ctx, company.ID)
	if err != nil {
		log.Warn().Err(err).Str("companyID", company.ID).Msg("Failed to load ticket categories")
	}
	if len(categories) == 0 || baseline == "" {
		return out, nil
	}

	meta.Purpose = PurposeCategoryDetection
	guess, err := p.detectCategory(ctx, meta, baseline, out.Caption, categories)
	if err != nil {
		log.Warn().Err(err).Str("mediaID", mediaID).Msg("Category detection failed")
		return out, nil
	}
	for i := range categories {
		if categories[i].ID == guess.CategoryID {
			out.Category = &categories[i]
			break
		}
	}
	out.Certainty = guess.Certainty
	if out.Category == nil || guess.Certainty < categoryCertaintyThreshold {
		out.Category = nil
		return out, nil
	}

	prompt, model, maxTokens := p.categoryPrompt(ctx, company.ID, out.Category, out.Caption, lang)
	if prompt == "" {
		return out, nil
	}
	meta.Purpose = PurposeImageAnalysis
	detailed, err := p.describe(ctx, meta, prompt, contentType, data, model, maxTokens)
	if err != nil {
		log.Warn().Err(err).Str("mediaID", mediaID).Str("category", out.Category.Name).Msg("Category image analysis failed; keeping baseline")
		return out, nil
	}
	out.Description = detailed
	return out, nil
}

func (p *MediaPipeline) describe(ctx context.Context, meta CallMeta, prompt, contentType string, data []byte, model string, maxTokens int) (string, error) {
	completion, _, err := p.assistant.Call(ctx, meta, llm.ChatRequest{
		Model:     model,
		Messages:  []llm.Message{llm.VisionMessage(prompt, contentType, data)},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	if completion.Text == "" {
		return "", llm.ErrEmptyCompletion
	}
	return completion.Text, nil
}

func (p *MediaPipeline) detectCategory(ctx context.Context, meta CallMeta, description, caption string, categories []models.TicketCategory) (*categoryGuess, error) {
	var list strings.Builder
	for _, c := range categories {
		fmt.Fprintf(&list, "%s: %s - %s\n", c.ID, c.Name, c.Description)
	}
	if caption == "" {
		caption = "(none)"
	}
	completion, _, err := p.assistant.Call(ctx, meta, llm.ChatRequest{
		Messages: []llm.Message{
			llm.TextMessage("user", fmt.Sprintf(categoryDetectionPrompt, description, caption, list.String())),
		},
		Temperature:    0,
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}
	var guess categoryGuess
	if err := llm.ParseJSON(completion.Text, &guess); err != nil {
		return nil, err
	}
	if guess.Certainty < 0 || guess.Certainty > 1 {
		return nil, fmt.Errorf("certainty %v out of range", guess.Certainty)
	}
	return &guess, nil
}

// categoryPrompt resolves the re-analysis prompt of a category: a configured
// ImageAnalysisPrompt first, then the category's own instructions.
func (p *MediaPipeline) categoryPrompt(ctx context.Context, companyID string, category *models.TicketCategory, caption, lang string) (string, string, int) {
	replacer := strings.NewReplacer(
		"{category}", category.Name,
		"{caption}", caption,
		"{language}", userLanguage(lang),
	)
	if tmpl, err := p.st.Prompts.ForCategory(ctx, companyID, category.ID); err == nil {
		model := tmpl.Model
		if model == "" {
			model = p.visionModel
		}
		maxTokens := tmpl.MaxTokens
		if maxTokens <= 0 {
			maxTokens = visionMaxTokens
		}
		return replacer.Replace(tmpl.Template), model, maxTokens
	}
	if strings.TrimSpace(category.PromptInstructions) != "" {
		prompt := replacer.Replace(category.PromptInstructions) + "\n\n" + fmt.Sprintf(baselineImagePrompt, userLanguage(lang))
		return prompt, p.visionModel, visionMaxTokens
	}
	return "", "", 0
}

// prepareForVision downsizes large images to keep vision requests small.
// Undecodable formats are sent as they are.
func prepareForVision(contentType string, data []byte) (string, []byte) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return contentType, data
	}
	b := img.Bounds()
	if b.Dx() <= visionMaxSide && b.Dy() <= visionMaxSide {
		return contentType, data
	}
	thumb := resize.Thumbnail(visionMaxSide, visionMaxSide, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: visionJPEGQuality}); err != nil {
		return contentType, data
	}
	return "image/jpeg", buf.Bytes()
}
