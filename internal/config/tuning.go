package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for the tracker, orchestrator,
// arm and sensor dials. Every field is optional; the Get* accessors supply
// the empirically tuned defaults for anything left unset, so partial files
// are safe.
type TuningConfig struct {
	// Tracker params
	CalibrationTarget         *int     `json:"calibration_target,omitempty"`
	ResyncPeriod              *int     `json:"resync_period,omitempty"`
	BaseConfidence            *float64 `json:"base_confidence,omitempty"`
	OracleBonus               *float64 `json:"oracle_bonus,omitempty"`
	OraclePenalty             *float64 `json:"oracle_penalty,omitempty"`
	NoiseThreshold            *int     `json:"noise_threshold,omitempty"`
	SyncConfidence            *float64 `json:"sync_confidence,omitempty"`
	AmbiguousConfidenceSingle *float64 `json:"ambiguous_confidence_single,omitempty"`
	AmbiguousConfidenceTriple *float64 `json:"ambiguous_confidence_triple,omitempty"`
	AmbiguousConfidenceQuad   *float64 `json:"ambiguous_confidence_quad,omitempty"`
	DesyncStreak              *int     `json:"desync_streak,omitempty"`

	// Orchestrator params
	AcceptanceThreshold *float64 `json:"acceptance_threshold,omitempty"`
	ScanInterval        *string  `json:"scan_interval,omitempty"` // duration string like "2s"
	RulesTimeout        *string  `json:"rules_timeout,omitempty"` // duration string like "5s"
	MaxRetries          *int     `json:"max_retries,omitempty"`

	// Arm params
	ArmLengthsCm  *ArmLengths `json:"arm_lengths_cm,omitempty"`
	SquareSizeCm  *float64    `json:"square_size_cm,omitempty"`
	HoverHeightCm *float64    `json:"hover_height_cm,omitempty"`
	PickHeightCm  *float64    `json:"pick_height_cm,omitempty"`
	EaseSteps     *int        `json:"ease_steps,omitempty"`
	StepDelay     *string     `json:"step_delay,omitempty"` // duration string like "50ms"

	// Sensor params
	BrightnessThreshold *float64 `json:"brightness_threshold,omitempty"`
}

// ArmLengths are the three link lengths of the arm in centimetres: upper
// arm, forearm and the wrist-to-gripper offset.
type ArmLengths struct {
	L1 float64 `json:"l1"`
	L2 float64 `json:"l2"`
	L3 float64 `json:"l3"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	lengths := c.GetArmLengths()
	return &TuningConfig{
		CalibrationTarget:         ptrInt(c.GetCalibrationTarget()),
		ResyncPeriod:              ptrInt(c.GetResyncPeriod()),
		BaseConfidence:            ptrFloat64(c.GetBaseConfidence()),
		OracleBonus:               ptrFloat64(c.GetOracleBonus()),
		OraclePenalty:             ptrFloat64(c.GetOraclePenalty()),
		NoiseThreshold:            ptrInt(c.GetNoiseThreshold()),
		SyncConfidence:            ptrFloat64(c.GetSyncConfidence()),
		AmbiguousConfidenceSingle: ptrFloat64(c.GetAmbiguousConfidenceSingle()),
		AmbiguousConfidenceTriple: ptrFloat64(c.GetAmbiguousConfidenceTriple()),
		AmbiguousConfidenceQuad:   ptrFloat64(c.GetAmbiguousConfidenceQuad()),
		DesyncStreak:              ptrInt(c.GetDesyncStreak()),
		AcceptanceThreshold:       ptrFloat64(c.GetAcceptanceThreshold()),
		ScanInterval:              ptrString(c.GetScanInterval().String()),
		RulesTimeout:              ptrString(c.GetRulesTimeout().String()),
		MaxRetries:                ptrInt(c.GetMaxRetries()),
		ArmLengthsCm:              &lengths,
		SquareSizeCm:              ptrFloat64(c.GetSquareSizeCm()),
		HoverHeightCm:             ptrFloat64(c.GetHoverHeightCm()),
		PickHeightCm:              ptrFloat64(c.GetPickHeightCm()),
		EaseSteps:                 ptrInt(c.GetEaseSteps()),
		StepDelay:                 ptrString(c.GetStepDelay().String()),
		BrightnessThreshold:       ptrFloat64(c.GetBrightnessThreshold()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/boardwatch/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.CalibrationTarget != nil && *c.CalibrationTarget < 1 {
		return fmt.Errorf("calibration_target must be at least 1, got %d", *c.CalibrationTarget)
	}
	if c.ResyncPeriod != nil && *c.ResyncPeriod < 1 {
		return fmt.Errorf("resync_period must be at least 1, got %d", *c.ResyncPeriod)
	}
	if c.NoiseThreshold != nil && *c.NoiseThreshold < 2 {
		return fmt.Errorf("noise_threshold must be at least 2, got %d", *c.NoiseThreshold)
	}
	if c.DesyncStreak != nil && *c.DesyncStreak < 1 {
		return fmt.Errorf("desync_streak must be at least 1, got %d", *c.DesyncStreak)
	}
	if c.MaxRetries != nil && *c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", *c.MaxRetries)
	}
	if c.EaseSteps != nil && *c.EaseSteps < 1 {
		return fmt.Errorf("ease_steps must be at least 1, got %d", *c.EaseSteps)
	}

	unit := map[string]*float64{
		"base_confidence":             c.BaseConfidence,
		"oracle_bonus":                c.OracleBonus,
		"oracle_penalty":              c.OraclePenalty,
		"sync_confidence":             c.SyncConfidence,
		"ambiguous_confidence_single": c.AmbiguousConfidenceSingle,
		"ambiguous_confidence_triple": c.AmbiguousConfidenceTriple,
		"ambiguous_confidence_quad":   c.AmbiguousConfidenceQuad,
		"acceptance_threshold":        c.AcceptanceThreshold,
	}
	for name, v := range unit {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	durations := map[string]*string{
		"scan_interval": c.ScanInterval,
		"rules_timeout": c.RulesTimeout,
		"step_delay":    c.StepDelay,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.ArmLengthsCm != nil {
		l := c.ArmLengthsCm
		if l.L1 <= 0 || l.L2 <= 0 || l.L3 < 0 {
			return fmt.Errorf("arm_lengths_cm must be positive, got l1=%g l2=%g l3=%g", l.L1, l.L2, l.L3)
		}
	}
	if c.SquareSizeCm != nil && *c.SquareSizeCm <= 0 {
		return fmt.Errorf("square_size_cm must be positive, got %f", *c.SquareSizeCm)
	}
	if c.BrightnessThreshold != nil && (*c.BrightnessThreshold <= 0 || *c.BrightnessThreshold > 255) {
		return fmt.Errorf("brightness_threshold must be in (0, 255], got %f", *c.BrightnessThreshold)
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetCalibrationTarget returns the number of scans absorbed before tracking.
func (c *TuningConfig) GetCalibrationTarget() int {
	if c.CalibrationTarget == nil {
		return 5
	}
	return *c.CalibrationTarget
}

// GetResyncPeriod returns the forced resync period in scans.
func (c *TuningConfig) GetResyncPeriod() int {
	if c.ResyncPeriod == nil {
		return 3
	}
	return *c.ResyncPeriod
}

// GetBaseConfidence returns the confidence of an unadjusted two-square move.
func (c *TuningConfig) GetBaseConfidence() float64 {
	if c.BaseConfidence == nil {
		return 0.9
	}
	return *c.BaseConfidence
}

// GetOracleBonus returns the confidence added when the oracle says legal.
func (c *TuningConfig) GetOracleBonus() float64 {
	if c.OracleBonus == nil {
		return 0.1
	}
	return *c.OracleBonus
}

// GetOraclePenalty returns the confidence removed when the oracle says illegal.
func (c *TuningConfig) GetOraclePenalty() float64 {
	if c.OraclePenalty == nil {
		return 0.2
	}
	return *c.OraclePenalty
}

// GetNoiseThreshold returns the largest change count still treated as a
// possible move; anything above forces a resync.
func (c *TuningConfig) GetNoiseThreshold() int {
	if c.NoiseThreshold == nil {
		return 4
	}
	return *c.NoiseThreshold
}

// GetSyncConfidence returns the confidence reported with a forced resync.
func (c *TuningConfig) GetSyncConfidence() float64 {
	if c.SyncConfidence == nil {
		return 0.3
	}
	return *c.SyncConfidence
}

// GetAmbiguousConfidenceSingle returns the degraded confidence for a 1-square change.
func (c *TuningConfig) GetAmbiguousConfidenceSingle() float64 {
	if c.AmbiguousConfidenceSingle == nil {
		return 0.6
	}
	return *c.AmbiguousConfidenceSingle
}

// GetAmbiguousConfidenceTriple returns the degraded confidence for a 3-square change.
func (c *TuningConfig) GetAmbiguousConfidenceTriple() float64 {
	if c.AmbiguousConfidenceTriple == nil {
		return 0.5
	}
	return *c.AmbiguousConfidenceTriple
}

// GetAmbiguousConfidenceQuad returns the degraded confidence for a 4-square change.
func (c *TuningConfig) GetAmbiguousConfidenceQuad() float64 {
	if c.AmbiguousConfidenceQuad == nil {
		return 0.4
	}
	return *c.AmbiguousConfidenceQuad
}

// GetDesyncStreak returns how many consecutive noisy scans escalate to the player.
func (c *TuningConfig) GetDesyncStreak() int {
	if c.DesyncStreak == nil {
		return 3
	}
	return *c.DesyncStreak
}

// GetAcceptanceThreshold returns the confidence a candidate needs to be forwarded.
func (c *TuningConfig) GetAcceptanceThreshold() float64 {
	if c.AcceptanceThreshold == nil {
		return 0.8
	}
	return *c.AcceptanceThreshold
}

// GetScanInterval returns the poll interval between scans.
func (c *TuningConfig) GetScanInterval() time.Duration {
	return parseDurationOr(c.ScanInterval, 2*time.Second)
}

// GetRulesTimeout returns the timeout for one rules/AI service call.
func (c *TuningConfig) GetRulesTimeout() time.Duration {
	return parseDurationOr(c.RulesTimeout, 5*time.Second)
}

// GetMaxRetries returns how many rejected moves in a row reset the game.
func (c *TuningConfig) GetMaxRetries() int {
	if c.MaxRetries == nil {
		return 3
	}
	return *c.MaxRetries
}

// GetArmLengths returns the arm link lengths in centimetres.
func (c *TuningConfig) GetArmLengths() ArmLengths {
	if c.ArmLengthsCm == nil {
		return ArmLengths{L1: 5, L2: 7, L3: 3}
	}
	return *c.ArmLengthsCm
}

// GetSquareSizeCm returns the edge length of one board square.
func (c *TuningConfig) GetSquareSizeCm() float64 {
	if c.SquareSizeCm == nil {
		return 2.5
	}
	return *c.SquareSizeCm
}

// GetHoverHeightCm returns the gripper height used while travelling.
func (c *TuningConfig) GetHoverHeightCm() float64 {
	if c.HoverHeightCm == nil {
		return 5
	}
	return *c.HoverHeightCm
}

// GetPickHeightCm returns the gripper height used to grab a piece.
func (c *TuningConfig) GetPickHeightCm() float64 {
	if c.PickHeightCm == nil {
		return 1
	}
	return *c.PickHeightCm
}

// GetEaseSteps returns the number of intermediate angles per joint move.
func (c *TuningConfig) GetEaseSteps() int {
	if c.EaseSteps == nil {
		return 20
	}
	return *c.EaseSteps
}

// GetStepDelay returns the pause between eased joint steps.
func (c *TuningConfig) GetStepDelay() time.Duration {
	return parseDurationOr(c.StepDelay, 50*time.Millisecond)
}

// GetBrightnessThreshold returns the mean grey level below which a square
// is read as occupied.
func (c *TuningConfig) GetBrightnessThreshold() float64 {
	if c.BrightnessThreshold == nil {
		return 128
	}
	return *c.BrightnessThreshold
}
