package backend

import (
	"context"
	"errors"
	"testing"
)

type nopModel struct{ spec LoadSpec }

func (nopModel) Close() error { return nil }

func TestRegistry_Load(t *testing.T) {
	r := NewRegistry()
	r.Register(KindDepth, LoaderFunc(func(_ context.Context, spec LoadSpec) (Model, error) {
		return nopModel{spec: spec}, nil
	}))

	spec := LoadSpec{Kind: KindDepth, ModelID: "MiDaS_small", Backend: CPU}
	m, err := r.Load(context.Background(), spec)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := m.(nopModel).spec; got != spec {
		t.Errorf("loader received %v, want %v", got, spec)
	}

	_, err = r.Load(context.Background(), LoadSpec{Kind: KindChat})
	var noLoader *ErrNoLoader
	if !errors.As(err, &noLoader) || noLoader.Kind != KindChat {
		t.Errorf("Load(chat) error = %v, want ErrNoLoader{chat}", err)
	}

	if kinds := r.Kinds(); len(kinds) != 1 || kinds[0] != KindDepth {
		t.Errorf("Kinds() = %v, want [depth]", kinds)
	}
}

func TestLoadSpec_String(t *testing.T) {
	spec := LoadSpec{Kind: KindImage, ModelID: "sd-1.5", Backend: VendorGPU}
	if got, want := spec.String(), "image/sd-1.5@vendor-gpu"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
