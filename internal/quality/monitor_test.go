package quality

import (
	"testing"

	"github.com/google/uuid"

	"github.com/brightclass/backend/internal/models"
)

func sample(rtt float64, lost, received int64) models.QualitySample {
	return models.QualitySample{RoundTripTimeMs: rtt, PacketsLost: lost, PacketsReceived: received}
}

func TestCurrentTierNoSamples(t *testing.T) {
	m := NewMonitor()
	if got := m.CurrentTier(); got != models.TierExcellent {
		t.Fatalf("empty monitor tier = %s, want excellent", got)
	}
}

func TestCurrentTierThresholds(t *testing.T) {
	tests := []struct {
		name string
		s    models.QualitySample
		want models.QualityTier
	}{
		{"low rtt no loss", sample(50, 0, 1000), models.TierExcellent},
		{"just under excellent", sample(99.9, 9, 991), models.TierExcellent},
		{"rtt at excellent bound", sample(100, 0, 1000), models.TierGood},
		{"loss disqualifies excellent", sample(50, 20, 980), models.TierGood},
		{"good range", sample(150, 20, 980), models.TierGood},
		{"rtt at good bound", sample(200, 0, 1000), models.TierFair},
		{"loss disqualifies good", sample(150, 40, 960), models.TierFair},
		{"fair range", sample(399, 49, 951), models.TierFair},
		{"rtt at fair bound", sample(400, 0, 1000), models.TierPoor},
		{"loss at fair bound", sample(50, 50, 950), models.TierPoor},
		{"both bad", sample(800, 200, 800), models.TierPoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			m.Record(uuid.New(), tt.s)
			if got := m.CurrentTier(); got != tt.want {
				t.Fatalf("tier = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCurrentTierAverages(t *testing.T) {
	m := NewMonitor()
	// 50ms and 250ms average to 150ms: good despite one fair-range peer.
	m.Record(uuid.New(), sample(50, 0, 1000))
	m.Record(uuid.New(), sample(250, 0, 1000))
	if got := m.CurrentTier(); got != models.TierGood {
		t.Fatalf("tier = %s, want good", got)
	}
}

func TestRecordReplacesPriorSample(t *testing.T) {
	m := NewMonitor()
	id := uuid.New()
	m.Record(id, sample(500, 100, 900))
	m.Record(id, sample(40, 0, 1000))
	if got := m.CurrentTier(); got != models.TierExcellent {
		t.Fatalf("tier = %s, want excellent after replacement", got)
	}
}

func TestRemoveAndReset(t *testing.T) {
	m := NewMonitor()
	id := uuid.New()
	m.Record(id, sample(500, 100, 900))
	m.Remove(id)
	if got := m.CurrentTier(); got != models.TierExcellent {
		t.Fatalf("tier = %s, want excellent after remove", got)
	}

	m.Record(uuid.New(), sample(500, 100, 900))
	m.Reset()
	if got := m.CurrentTier(); got != models.TierExcellent {
		t.Fatalf("tier = %s, want excellent after reset", got)
	}
}

func TestLossRatioZeroPackets(t *testing.T) {
	s := sample(100, 0, 0)
	if got := s.LossRatio(); got != 0 {
		t.Fatalf("loss ratio = %f, want 0", got)
	}
}
