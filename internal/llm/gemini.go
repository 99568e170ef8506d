package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"
)

var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// GeminiOptions configures a GeminiBackend
type GeminiOptions struct {
	APIKey          string
	Model           string
	SafetyThreshold string
	Temperature     float64
	Logger          *log.Logger
}

// GeminiBackend implements Backend with the Google Gen AI SDK
type GeminiBackend struct {
	mu        sync.Mutex
	apiKey    string
	client    *genai.Client
	model     string
	threshold genai.HarmBlockThreshold
	temp      float32
	logger    *log.Logger
}

// NewGeminiBackend creates a backend. The SDK client is created on first use
// and recreated when the key changes.
func NewGeminiBackend(opts GeminiOptions) *GeminiBackend {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().With("component", "gemini")
	}
	threshold := genai.HarmBlockThreshold(strings.ToUpper(strings.TrimSpace(opts.SafetyThreshold)))
	if threshold == "" {
		threshold = genai.HarmBlockThresholdBlockMediumAndAbove
	}
	return &GeminiBackend{
		apiKey:    strings.TrimSpace(opts.APIKey),
		model:     opts.Model,
		threshold: threshold,
		temp:      float32(opts.Temperature),
		logger:    logger,
	}
}

// SetAPIKey replaces the credential
func (g *GeminiBackend) SetAPIKey(key string) {
	key = strings.TrimSpace(key)
	g.mu.Lock()
	defer g.mu.Unlock()
	if key == g.apiKey {
		return
	}
	g.apiKey = key
	g.client = nil
	g.logger.Info("API key updated", "configured", key != "")
}

// Configured reports whether an API key is set
func (g *GeminiBackend) Configured() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.apiKey != ""
}

func (g *GeminiBackend) getClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.client = client
	return client, nil
}

func (g *GeminiBackend) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.model
}

// Stream sends the request and yields response chunks in arrival order
func (g *GeminiBackend) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		client, err := g.getClient(ctx)
		if err != nil {
			yield(Chunk{}, err)
			return
		}

		model := g.modelFor(req)
		g.logger.Debug("Streaming request", "model", model, "turns", len(req.Turns), "urls", len(req.URLs))

		for resp, err := range client.Models.GenerateContentStream(ctx, model, buildContents(req.Turns), g.buildConfig(req)) {
			if err != nil {
				yield(Chunk{}, wrap(err))
				return
			}
			if !yield(chunkFromResponse(resp), nil) {
				return
			}
		}
	}
}

// Generate sends the request and returns the complete response text
func (g *GeminiBackend) Generate(ctx context.Context, req Request) (string, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, g.modelFor(req), buildContents(req.Turns), g.buildConfig(req))
	if err != nil {
		return "", wrap(err)
	}
	return chunkFromResponse(resp).Text, nil
}

func buildContents(turns []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			if p.IsInline() {
				parts = append(parts, genai.NewPartFromBytes(p.Data, p.MimeType))
			} else if p.Text != "" {
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := genai.RoleUser
		if turn.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.Role(role)))
	}
	return contents
}

func (g *GeminiBackend) buildConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temp),
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if len(req.URLs) > 0 {
		cfg.Tools = []*genai.Tool{{URLContext: &genai.URLContext{}}}
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	for _, category := range safetyCategories {
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  category,
			Threshold: g.threshold,
		})
	}
	return cfg
}

func chunkFromResponse(resp *genai.GenerateContentResponse) Chunk {
	var chunk Chunk
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return chunk
	}
	cand := resp.Candidates[0]

	if cand.Content != nil {
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
		chunk.Text = sb.String()
	}

	if cand.CitationMetadata != nil {
		for _, c := range cand.CitationMetadata.Citations {
			if c == nil {
				continue
			}
			chunk.Citations = append(chunk.Citations, Citation{
				StartIndex: int(c.StartIndex),
				EndIndex:   int(c.EndIndex),
				URI:        c.URI,
				License:    c.License,
				Title:      c.Title,
			})
		}
	}

	if cand.URLContextMetadata != nil {
		for _, m := range cand.URLContextMetadata.URLMetadata {
			if m == nil {
				continue
			}
			chunk.URLs = append(chunk.URLs, URLStatus{
				URL:    m.RetrievedURL,
				Status: string(m.URLRetrievalStatus),
			})
		}
	}
	return chunk
}
