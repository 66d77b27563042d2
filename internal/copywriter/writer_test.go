package copywriter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	mu      sync.Mutex
	text    string
	err     error
	calls   int
	prompts []string
}

func (m *stubModel) GenerateText(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	return m.text, m.err
}

func TestGenerateWithoutModel(t *testing.T) {
	w := NewWriter(WriterDeps{})
	assert.Equal(t, NoCredentialCopy, w.Generate(context.Background(), "Clear Case", "Slim"))
}

func TestGenerateCachesPerProduct(t *testing.T) {
	model := &stubModel{text: "  Built to flex. ✨ "}
	w := NewWriter(WriterDeps{Model: model})

	first := w.Generate(context.Background(), "Neon Grid", "Glow in the dark")
	second := w.Generate(context.Background(), "Neon Grid", "Glow in the dark")

	assert.Equal(t, "Built to flex. ✨", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, model.calls)
	require.Len(t, model.prompts, 1)
	assert.True(t, strings.Contains(model.prompts[0], `"Neon Grid"`))
	assert.True(t, strings.Contains(model.prompts[0], "Glow in the dark"))

	w.Generate(context.Background(), "Neon Grid", "Other details")
	assert.Equal(t, 2, model.calls)
}

func TestGenerateEmptyText(t *testing.T) {
	w := NewWriter(WriterDeps{Model: &stubModel{text: "   "}})
	assert.Equal(t, EmptyCopy, w.Generate(context.Background(), "Matte Black", ""))
}

func TestGenerateFailureIsNotCached(t *testing.T) {
	model := &stubModel{err: errors.New("quota exceeded")}
	w := NewWriter(WriterDeps{Model: model})

	assert.Equal(t, FailedCopy, w.Generate(context.Background(), "Matte Black", "Soft touch"))

	model.mu.Lock()
	model.err = nil
	model.text = "Stealth mode on. 🖤"
	model.mu.Unlock()

	assert.Equal(t, "Stealth mode on. 🖤", w.Generate(context.Background(), "Matte Black", "Soft touch"))
	assert.Equal(t, 2, model.calls)
}

func TestNewGenAIModelRequiresKey(t *testing.T) {
	_, err := NewGenAIModel(context.Background(), " ", "")
	require.Error(t, err)
}

type blockingModel struct {
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (m *blockingModel) GenerateText(ctx context.Context, _ string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	m.started <- struct{}{}
	<-m.release
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "Drop-tested and iconic.", nil
}

func TestGenerateCancelledCallerDoesNotFailOthers(t *testing.T) {
	model := &blockingModel{started: make(chan struct{}, 1), release: make(chan struct{})}
	w := NewWriter(WriterDeps{Model: model})

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan string, 1)
	go func() { first <- w.Generate(firstCtx, "Carbon Fiber Pro", "Aramid") }()
	<-model.started

	second := make(chan string, 1)
	go func() { second <- w.Generate(context.Background(), "Carbon Fiber Pro", "Aramid") }()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.Equal(t, FailedCopy, <-first)

	close(model.release)
	assert.Equal(t, "Drop-tested and iconic.", <-second)
	assert.Equal(t, "Drop-tested and iconic.", w.Generate(context.Background(), "Carbon Fiber Pro", "Aramid"))

	model.mu.Lock()
	defer model.mu.Unlock()
	assert.Equal(t, 1, model.calls)
}
