package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"ai_workspace/backend"
	"ai_workspace/llamaruntime"
	"ai_workspace/modelcache"
	"ai_workspace/sdruntime"
	"ai_workspace/vision"
)

// cacheSource acquires from a real cache on a fixed backend.
type cacheSource struct {
	cache   *modelcache.Cache
	backend backend.Identity
}

func (s cacheSource) Acquire(ctx context.Context, kind backend.Kind, modelID string) (*modelcache.Lease, error) {
	return s.cache.Get(ctx, modelcache.Key{Kind: kind, ModelID: modelID, Backend: s.backend})
}

// fakeImage lets a test control Generate.
type fakeImage struct {
	generate func(ctx context.Context, p sdruntime.GenerateParams, onStep sdruntime.StepFunc) (*sdruntime.GenerateResult, error)
}

func (f *fakeImage) Close() error { return nil }

func (f *fakeImage) Generate(ctx context.Context, p sdruntime.GenerateParams, onStep sdruntime.StepFunc) (*sdruntime.GenerateResult, error) {
	return f.generate(ctx, p, onStep)
}

// fakeChat records calls and returns a canned reply or error.
type fakeChat struct {
	mu     sync.Mutex
	calls  int
	last   llamaruntime.InferenceParams
	tokens []string
	err    error
}

func (f *fakeChat) Close() error { return nil }

func (f *fakeChat) InferStream(ctx context.Context, p llamaruntime.InferenceParams, onToken func(string)) (*llamaruntime.InferenceResult, error) {
	f.mu.Lock()
	f.calls++
	f.last = p
	tokens, err := f.tokens, f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	text := ""
	for _, tok := range tokens {
		onToken(tok)
		text += tok
	}
	return &llamaruntime.InferenceResult{Text: text, TokensGenerated: len(tokens), StopReason: "eos"}, nil
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// harness wires a runner, pool and cache with real CPU runtimes. The image
// runtime can be swapped for a fake.
type harness struct {
	runner *Runner
	pool   *Pool
	cache  *modelcache.Cache
	models cacheSource
	chat   *fakeChat
	image  *fakeImage
}

func newHarness(t *testing.T, poolCfg PoolConfig, buffer int) *harness {
	t.Helper()
	h := &harness{chat: &fakeChat{tokens: []string{"Hello", " there"}}}
	loader := backend.LoaderFunc(func(ctx context.Context, spec backend.LoadSpec) (backend.Model, error) {
		switch spec.Kind {
		case backend.KindImage:
			if h.image != nil {
				return h.image, nil
			}
			return sdruntime.NewLocalModel(ctx, spec.ModelID, string(spec.Backend))
		case backend.KindDepth:
			return vision.NewDepthModel(ctx, spec.ModelID, string(spec.Backend))
		case backend.KindSegmentation:
			return vision.NewSegmenter(ctx, spec.ModelID, string(spec.Backend))
		case backend.KindChat:
			return h.chat, nil
		}
		return nil, errors.New("unknown kind")
	})
	logger := zaptest.NewLogger(t)
	h.cache = modelcache.New(loader, modelcache.WithLogger(logger))
	h.models = cacheSource{cache: h.cache, backend: backend.CPU}
	h.pool = NewPool(poolCfg, logger, nil)
	h.runner = NewRunner(RunnerConfig{EventBuffer: buffer}, h.pool, logger, nil, nil)
	t.Cleanup(func() {
		_ = h.pool.Close(context.Background())
		h.cache.Close()
	})
	return h
}

// statuses collapses consecutive duplicate statuses.
func statuses(events []ProgressEvent) []string {
	var out []string
	for _, ev := range events {
		if len(out) == 0 || out[len(out)-1] != ev.Status {
			out = append(out, ev.Status)
		}
	}
	return out
}

// singleTerminalLast checks the stream contract: exactly one terminal
// event, and it comes last.
func singleTerminalLast(t *testing.T, events []ProgressEvent) ProgressEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("stream produced no events")
	}
	terminals := 0
	for _, ev := range events {
		if ev.IsTerminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("got %d terminal events, want exactly 1", terminals)
	}
	last := events[len(events)-1]
	if !last.IsTerminal() {
		t.Fatalf("last event %q is not terminal", last.Status)
	}
	return last
}

// wantComplete fails unless ev completed with a result.
func wantComplete(t *testing.T, ev ProgressEvent) *Result {
	t.Helper()
	if ev.Status != StatusComplete {
		t.Fatalf("status = %q (%v), want complete", ev.Status, ev.Err)
	}
	if ev.Result == nil {
		t.Fatal("complete event without result")
	}
	return ev.Result
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func flatGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func squareOnWhite(size, inner int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	off := (size - inner) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if x >= off && x < off+inner && y >= off && y < off+inner {
				c = color.RGBA{0, 0, 0, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
