package models

import "time"

// QualityTier is the coarse classification of aggregate transport health.
type QualityTier string

const (
	TierExcellent QualityTier = "excellent"
	TierGood      QualityTier = "good"
	TierFair      QualityTier = "fair"
	TierPoor      QualityTier = "poor"
)

// QualitySample is one per-peer transport measurement. Ephemeral: the
// monitor keeps only the most recent sample per participant.
type QualitySample struct {
	RoundTripTimeMs float64   `json:"round_trip_time_ms"`
	PacketsLost     int64     `json:"packets_lost"`
	PacketsReceived int64     `json:"packets_received"`
	SampledAt       time.Time `json:"sampled_at"`
}

// LossRatio returns packetsLost / (packetsLost + packetsReceived), or 0
// when no packets were observed at all.
func (s QualitySample) LossRatio() float64 {
	total := s.PacketsLost + s.PacketsReceived
	if total == 0 {
		return 0
	}
	return float64(s.PacketsLost) / float64(total)
}
