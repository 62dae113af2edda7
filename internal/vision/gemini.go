package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const callTimeout = 45 * time.Second

// GeminiProvider implements Provider on the Gemini API: generateContent
// with JSON response schemas for the analysis calls, Imagen for the
// promotional image.
type GeminiProvider struct {
	apiKey     string
	model      string
	imageModel string
	client     *genai.Client
}

func NewGeminiProvider(apiKey, model, imageModel string) *GeminiProvider {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if imageModel == "" {
		imageModel = "imagen-3.0-generate-002"
	}
	return &GeminiProvider{apiKey: strings.TrimSpace(apiKey), model: model, imageModel: imageModel}
}

var ErrNoAPIKey = fmt.Errorf("gemini: api key not configured")

func (p *GeminiProvider) ensureClient(ctx context.Context) error {
	if p.apiKey == "" {
		return ErrNoAPIKey
	}
	if p.client != nil {
		return nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return wrap("client", err)
	}
	p.client = c
	return nil
}

func (p *GeminiProvider) CountInventory(ctx context.Context, shelf []byte, refs []Reference) ([]CountedItem, error) {
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var key strings.Builder
	parts := []*genai.Part{nil, genai.NewPartFromBytes(shelf, "image/jpeg")}
	for i, r := range refs {
		fmt.Fprintf(&key, "- Image %d is a reference for item ID '%s' (Name: %s).\n", i+2, r.ID, r.Name)
		mime := r.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(r.Data, mime))
	}
	parts[0] = genai.NewPartFromText(countPrompt(key.String()))

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   inventorySchema(),
		})
	if err != nil {
		return nil, wrap("count", err)
	}

	var out struct {
		Inventory []RawOrdered `json:"inventory"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text())), &out); err != nil {
		return nil, &Error{Kind: Malformed, Op: "count", Err: err}
	}
	if out.Inventory == nil {
		return nil, &Error{Kind: Malformed, Op: "count", Err: errors.New("response has no inventory list")}
	}

	// Keep only ids we asked about: a hallucinated id must never reach
	// the reconciler.
	known := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		known[r.ID] = struct{}{}
	}
	items := make([]CountedItem, 0, len(out.Inventory))
	for _, it := range out.Inventory {
		if _, ok := known[it.ID]; !ok {
			continue
		}
		items = append(items, CountedItem{ID: it.ID, Name: it.Name, Quantity: it.Quantity.Int(), Unit: it.Unit})
	}
	return items, nil
}

func (p *GeminiProvider) DecideAction(ctx context.Context, stock []StockLevel) (ActionResponse, error) {
	if err := p.ensureClient(ctx); err != nil {
		return ActionResponse{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{genai.NewContentFromParts(
			[]*genai.Part{genai.NewPartFromText(decidePrompt(stock))}, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   actionSchema(),
		})
	if err != nil {
		return ActionResponse{}, wrap("decide", err)
	}

	var out ActionResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text())), &out); err != nil {
		return ActionResponse{}, &Error{Kind: Malformed, Op: "decide", Err: err}
	}
	return out, nil
}

func (p *GeminiProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, &Error{Kind: Malformed, Op: "image", Err: errors.New("empty prompt")}
	}
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := p.client.Models.GenerateImages(ctx, p.imageModel, prompt,
		&genai.GenerateImagesConfig{
			OutputMIMEType: "image/jpeg",
			AspectRatio:    "1:1",
		})
	if err != nil {
		return nil, wrap("image", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil ||
		len(resp.GeneratedImages[0].Image.ImageBytes) == 0 {
		return nil, &Error{Kind: Malformed, Op: "image", Err: errors.New("no image in response")}
	}
	return resp.GeneratedImages[0].Image.ImageBytes, nil
}

func (p *GeminiProvider) ClassifyIntent(ctx context.Context, text string) (bool, error) {
	if err := p.ensureClient(ctx); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{genai.NewContentFromParts(
			[]*genai.Part{genai.NewPartFromText(intentPrompt(text))}, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   intentSchema(),
		})
	if err != nil {
		return false, wrap("intent", err)
	}

	var out struct {
		AddItems bool `json:"addItems"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text())), &out); err != nil {
		return false, &Error{Kind: Malformed, Op: "intent", Err: err}
	}
	return out.AddItems, nil
}

// wrap classifies transport-level failures. 429 / RESOURCE_EXHAUSTED is
// surfaced as RateLimited so the operator sees the wait-and-retry hint.
func wrap(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || strings.Contains(apiErr.Status, "RESOURCE_EXHAUSTED") {
			return &Error{Kind: RateLimited, Op: op, Err: err}
		}
	}
	if strings.Contains(err.Error(), "429") || strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return &Error{Kind: RateLimited, Op: op, Err: err}
	}
	return &Error{Kind: Transport, Op: op, Err: err}
}
