package quality

import (
	"sync"

	"github.com/google/uuid"

	"github.com/brightclass/backend/internal/models"
)

// Tier thresholds. A tier requires BOTH its RTT and loss bound to hold;
// failing either disqualifies the tier.
const (
	excellentMaxRTTMs = 100.0
	excellentMaxLoss  = 0.01
	goodMaxRTTMs      = 200.0
	goodMaxLoss       = 0.03
	fairMaxRTTMs      = 400.0
	fairMaxLoss       = 0.05
)

// Monitor converts raw per-peer transport samples into one session-wide
// quality tier. Only the most recent sample per participant is retained.
type Monitor struct {
	mu      sync.RWMutex
	samples map[uuid.UUID]models.QualitySample
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{samples: make(map[uuid.UUID]models.QualitySample)}
}

// Record ingests the latest sample for a participant, replacing any prior one.
func (m *Monitor) Record(participantID uuid.UUID, sample models.QualitySample) {
	m.mu.Lock()
	m.samples[participantID] = sample
	m.mu.Unlock()
}

// Remove drops the sample for a participant who left the session.
func (m *Monitor) Remove(participantID uuid.UUID) {
	m.mu.Lock()
	delete(m.samples, participantID)
	m.mu.Unlock()
}

// Reset drops all samples.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.samples = make(map[uuid.UUID]models.QualitySample)
	m.mu.Unlock()
}

// CurrentTier averages round-trip time and loss ratio across all
// participants with a recorded sample. With no samples it returns
// TierExcellent: an optimistic default, not a claim of measured quality.
func (m *Monitor) CurrentTier() models.QualityTier {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.samples) == 0 {
		return models.TierExcellent
	}

	var sumRTT, sumLoss float64
	for _, s := range m.samples {
		sumRTT += s.RoundTripTimeMs
		sumLoss += s.LossRatio()
	}
	n := float64(len(m.samples))
	avgRTT := sumRTT / n
	avgLoss := sumLoss / n

	switch {
	case avgRTT < excellentMaxRTTMs && avgLoss < excellentMaxLoss:
		return models.TierExcellent
	case avgRTT < goodMaxRTTMs && avgLoss < goodMaxLoss:
		return models.TierGood
	case avgRTT < fairMaxRTTMs && avgLoss < fairMaxLoss:
		return models.TierFair
	default:
		return models.TierPoor
	}
}
