package pipeline

import (
	"context"
	"image/color"
	"math"
	"testing"

	"ai_workspace/core"
)

func TestDepthPipeline_FlatImage(t *testing.T) {
	h := newHarness(t, DefaultPoolConfig(), DefaultEventBuffer)
	p := NewDepthPipeline(h.runner, h.models, "MiDaS_small")

	stream, err := p.Run(context.Background(), DepthRequest{Image: flatGray(50, 50, 128), OutputFormat: DepthBoth})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := Collect(stream)
	result := wantComplete(t, singleTerminalLast(t, events))

	want := []string{StatusLoadingModel, StatusProcessing, StatusPostProcessing, StatusComplete}
	if got := statuses(events); !equalStrings(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	depth := result.Depth
	if depth == nil {
		t.Fatal("no depth image")
	}
	if depth.Bounds().Dx() != 50 {
		t.Errorf("depth width = %d, want 50", depth.Bounds().Dx())
	}
	first := depth.Pix[0]
	for i, v := range depth.Pix {
		if v != first {
			t.Fatalf("depth pixel %d = %d, want uniform %d", i, v, first)
		}
	}
	if result.DepthRaw == nil {
		t.Error("raw depth missing for output_format both")
	}
	if got := result.Metadata["original_size"]; got != [2]int{50, 50} {
		t.Errorf("original_size = %v, want [50 50]", got)
	}
}

func TestDepthPipeline_Validation(t *testing.T) {
	h := newHarness(t, DefaultPoolConfig(), DefaultEventBuffer)
	p := NewDepthPipeline(h.runner, h.models, "MiDaS_small")

	if _, err := p.Run(context.Background(), DepthRequest{}); !core.IsInvalidRequest(err) {
		t.Errorf("missing image: error = %v, want InvalidRequest", err)
	}
	if _, err := p.Run(context.Background(), DepthRequest{Image: flatGray(4, 4, 0), OutputFormat: "exr"}); !core.IsInvalidRequest(err) {
		t.Errorf("unknown format: error = %v, want InvalidRequest", err)
	}
}

func TestSegmentationPipeline(t *testing.T) {
	h := newHarness(t, DefaultPoolConfig(), DefaultEventBuffer)
	p := NewSegmentationPipeline(h.runner, h.models, "deeplabv3")

	stream, err := p.Run(context.Background(), SegmentationRequest{Image: squareOnWhite(40, 20)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := Collect(stream)
	result := wantComplete(t, singleTerminalLast(t, events))

	want := []string{StatusLoadingModel, StatusProcessing, StatusPostProcessing, StatusComplete}
	if got := statuses(events); !equalStrings(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	coverage, _ := result.Metadata["coverage"].(float64)
	if math.Abs(coverage-0.25) > 0.01 {
		t.Errorf("coverage = %v, want 0.25", result.Metadata["coverage"])
	}
	if result.Cutout == nil {
		t.Fatal("no cutout")
	}
	if a := result.Cutout.NRGBAAt(0, 0).A; a != 0 {
		t.Errorf("background alpha = %d, want transparent", a)
	}
	if a := result.Cutout.NRGBAAt(20, 20).A; a != 255 {
		t.Errorf("subject alpha = %d, want opaque", a)
	}
}

func TestNormalMapPipeline_Flat(t *testing.T) {
	h := newHarness(t, DefaultPoolConfig(), DefaultEventBuffer)
	p := NewNormalMapPipeline(h.runner)

	stream, err := p.Run(context.Background(), NormalMapRequest{Depth: flatGray(16, 16, 90), BlurRadius: 2})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := Collect(stream)
	result := wantComplete(t, singleTerminalLast(t, events))
	if got, want := statuses(events), []string{StatusProcessing, StatusComplete}; !equalStrings(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if got := result.Normal.RGBAAt(8, 8); got != (color.RGBA{127, 127, 255, 255}) {
		t.Errorf("flat normal = %v, want {127 127 255 255}", got)
	}

	if _, err := p.Run(context.Background(), NormalMapRequest{Depth: flatGray(4, 4, 0), BlurRadius: -1}); !core.IsInvalidRequest(err) {
		t.Errorf("negative blur: error = %v, want InvalidRequest", err)
	}
}
