// Package copywriter produces short marketing blurbs for product pages.
package copywriter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-3-flash-preview"

const (
	// NoCredentialCopy is returned when no generative model is configured.
	NoCredentialCopy = "The ultimate protection for your daily driver. Sleek, durable, and ready for anything. 📱✨"
	// FailedCopy is returned when the model call fails.
	FailedCopy = "The ultimate protection for your daily driver. Sleek, durable, and ready for anything."
	// EmptyCopy is returned when the model answers with no text.
	EmptyCopy = "This case is just built different. Protect your tech in style. 📱✨"
)

const promptTemplate = `You are a trendy Gen-Z copywriter for a high-end dropshipping phone case brand called "Shoptrae".

Write a short, punchy, and "hype" product description (max 2 sentences) for a phone case named %q.
Base details: %s.

Use emojis. Make it sound like a "must-have" fashion accessory. Avoid being cringey, keep it cool and minimal.`

// Model turns a prompt into text.
type Model interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// GenAIModel calls the Gemini API.
type GenAIModel struct {
	client *genai.Client
	model  string
}

// NewGenAIModel builds a Gemini-backed model. An empty model name selects DefaultModel.
func NewGenAIModel(ctx context.Context, apiKey, model string) (*GenAIModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("copywriter: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("copywriter: create genai client: %w", err)
	}
	return &GenAIModel{client: client, model: model}, nil
}

// GenerateText implements Model.
func (m *GenAIModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// WriterDeps wires a Writer. A nil Model means no credential was configured.
type WriterDeps struct {
	Model  Model
	Logger *zap.Logger
}

// Writer generates copy once per title and description and remembers the answer.
type Writer struct {
	model  Model
	logger *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]string
}

// NewWriter returns a Writer. It never fails; without a model every call yields NoCredentialCopy.
func NewWriter(deps WriterDeps) *Writer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("copywriter")
	if deps.Model == nil {
		logger.Warn("generative model not configured; copy will use the default text")
	}
	return &Writer{model: deps.Model, logger: logger, cache: make(map[string]string)}
}

// Generate returns marketing copy for a product. Failures degrade to fixed text.
func (w *Writer) Generate(ctx context.Context, title, baseDescription string) string {
	if w.model == nil {
		return NoCredentialCopy
	}
	key := title + "\x00" + baseDescription

	w.mu.RLock()
	cached, ok := w.cache[key]
	w.mu.RUnlock()
	if ok {
		return cached
	}

	// The shared call runs detached from any one caller; each caller only stops waiting.
	shared := context.WithoutCancel(ctx)
	result := w.group.DoChan(key, func() (any, error) {
		text, err := w.model.GenerateText(shared, fmt.Sprintf(promptTemplate, title, baseDescription))
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			text = EmptyCopy
		}
		w.mu.Lock()
		w.cache[key] = text
		w.mu.Unlock()
		return text, nil
	})

	select {
	case <-ctx.Done():
		w.logger.Debug("copy request abandoned", zap.String("title", title), zap.Error(ctx.Err()))
		return FailedCopy
	case res := <-result:
		if res.Err != nil {
			w.logger.Warn("failed to generate copy", zap.String("title", title), zap.Error(res.Err))
			return FailedCopy
		}
		return res.Val.(string)
	}
}
