package tracker

import (
	"fmt"

	"github.com/banshee-data/boardwatch/internal/config"
)

// StartPlacement is the FEN of the canonical opening position. Calibration
// assumes the board starts here.
const StartPlacement = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Config holds the tracker dials. They were tuned empirically against a
// specific camera and are defaults, not rules.
type Config struct {
	CalibrationTarget int     // scans absorbed before tracking (default: 5)
	ResyncPeriod      int     // forced resync every N changed scans (default: 3)
	BaseConfidence    float64 // clean two-square move (default: 0.9)
	OracleBonus       float64 // added when the oracle says legal (default: 0.1)
	OraclePenalty     float64 // removed when the oracle says illegal (default: 0.2)
	NoiseThreshold    int     // more changes than this forces a resync (default: 4)
	SyncConfidence    float64 // reported with a forced resync (default: 0.3)
	DesyncStreak      int     // consecutive noisy scans before DesyncOverflow (default: 3)

	// Degraded confidence per ambiguous change count (defaults: 0.6, 0.5, 0.4)
	AmbiguousSingle float64
	AmbiguousTriple float64
	AmbiguousQuad   float64

	// StartPlacement is the placement assumed during calibration.
	StartPlacement string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		CalibrationTarget: cfg.GetCalibrationTarget(),
		ResyncPeriod:      cfg.GetResyncPeriod(),
		BaseConfidence:    cfg.GetBaseConfidence(),
		OracleBonus:       cfg.GetOracleBonus(),
		OraclePenalty:     cfg.GetOraclePenalty(),
		NoiseThreshold:    cfg.GetNoiseThreshold(),
		SyncConfidence:    cfg.GetSyncConfidence(),
		DesyncStreak:      cfg.GetDesyncStreak(),
		AmbiguousSingle:   cfg.GetAmbiguousConfidenceSingle(),
		AmbiguousTriple:   cfg.GetAmbiguousConfidenceTriple(),
		AmbiguousQuad:     cfg.GetAmbiguousConfidenceQuad(),
		StartPlacement:    StartPlacement,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.CalibrationTarget < 1 {
		return fmt.Errorf("CalibrationTarget must be at least 1, got %d", c.CalibrationTarget)
	}
	if c.ResyncPeriod < 1 {
		return fmt.Errorf("ResyncPeriod must be at least 1, got %d", c.ResyncPeriod)
	}
	if c.NoiseThreshold < 2 {
		return fmt.Errorf("NoiseThreshold must be at least 2, got %d", c.NoiseThreshold)
	}
	if c.DesyncStreak < 1 {
		return fmt.Errorf("DesyncStreak must be at least 1, got %d", c.DesyncStreak)
	}
	for name, v := range map[string]float64{
		"BaseConfidence":  c.BaseConfidence,
		"OracleBonus":     c.OracleBonus,
		"OraclePenalty":   c.OraclePenalty,
		"SyncConfidence":  c.SyncConfidence,
		"AmbiguousSingle": c.AmbiguousSingle,
		"AmbiguousTriple": c.AmbiguousTriple,
		"AmbiguousQuad":   c.AmbiguousQuad,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %f", name, v)
		}
	}
	return nil
}

// ambiguousConfidence grades a non-move change count by severity.
func (c Config) ambiguousConfidence(n int) float64 {
	switch n {
	case 1:
		return c.AmbiguousSingle
	case 3:
		return c.AmbiguousTriple
	default:
		return c.AmbiguousQuad
	}
}
