package devices

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/models"
)

var fixtures = []models.DeviceDescriptor{
	{DeviceID: "cam-1", Kind: models.VideoInput, Label: "Integrated Camera"},
	{DeviceID: "cam-2", Kind: models.VideoInput, Label: "USB Camera"},
	{DeviceID: "mic-1", Kind: models.AudioInput, Label: "Built-in Microphone"},
}

func TestListEnumeratesOnFirstUse(t *testing.T) {
	r := NewRegistry(StaticProvider(fixtures), zap.NewNop())
	all := r.List(context.Background(), "")
	if len(all) != 3 {
		t.Fatalf("devices = %d, want 3", len(all))
	}
}

func TestListFiltersByKind(t *testing.T) {
	r := NewRegistry(StaticProvider(fixtures), zap.NewNop())
	vids := r.List(context.Background(), models.VideoInput)
	if len(vids) != 2 {
		t.Fatalf("video devices = %d, want 2", len(vids))
	}
	for _, d := range vids {
		if d.Kind != models.VideoInput {
			t.Fatalf("unexpected kind %s", d.Kind)
		}
	}
	mics := r.List(context.Background(), models.AudioInput)
	if len(mics) != 1 || mics[0].DeviceID != "mic-1" {
		t.Fatalf("audio devices = %+v", mics)
	}
}

func TestEnumerationFailureYieldsEmptyList(t *testing.T) {
	provider := ProviderFunc(func(context.Context) ([]models.DeviceDescriptor, error) {
		return nil, errors.New("listing denied")
	})
	r := NewRegistry(provider, zap.NewNop())
	if got := r.List(context.Background(), ""); len(got) != 0 {
		t.Fatalf("devices = %+v, want empty", got)
	}
}

func TestRefreshReplacesCache(t *testing.T) {
	current := fixtures
	provider := ProviderFunc(func(context.Context) ([]models.DeviceDescriptor, error) {
		out := make([]models.DeviceDescriptor, len(current))
		copy(out, current)
		return out, nil
	})
	r := NewRegistry(provider, zap.NewNop())
	if got := r.List(context.Background(), ""); len(got) != 3 {
		t.Fatalf("devices = %d, want 3", len(got))
	}

	// Camera unplugged between enumerations.
	current = fixtures[1:]
	if got := r.Refresh(context.Background()); len(got) != 2 {
		t.Fatalf("devices after refresh = %d, want 2", len(got))
	}
	if got := r.List(context.Background(), models.VideoInput); len(got) != 1 {
		t.Fatalf("video devices after refresh = %d, want 1", len(got))
	}
}
