package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles with per-class gradual rollout.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// classID -> feature -> enabled
	classOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100). Classes are bucketed by a hash of their ID.
	RolloutPercent int
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	ClassID string
}

// ForClass builds a FeatureContext for a class.
func ForClass(classID string) *FeatureContext {
	return &FeatureContext{ClassID: classID}
}

// Predefined feature flag names.
const (
	FeatureWeeklyDigest       = "notify.weekly_digest"       // Parent-facing weekly digests
	FeatureInterventionAlerts = "notify.intervention_alerts" // Teacher alerts from the intervention scan
	FeatureHeatmapDemoJitter  = "heatmap.demo_jitter"        // Placeholder scores for unverified classes
	FeatureSessionSync        = "session.sync"               // Publish session changes on the event bus
	FeatureRubricAutograde    = "grading.rubric_autograde"   // Compute grades from rubric scores
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:       make(map[string]*Feature),
		classOverrides: make(map[string]map[string]bool),
	}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureWeeklyDigest] = &Feature{
		Name:           FeatureWeeklyDigest,
		Description:    "Send weekly progress digests to guardians",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureInterventionAlerts] = &Feature{
		Name:           FeatureInterventionAlerts,
		Description:    "Alert teachers about struggling students",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureHeatmapDemoJitter] = &Feature{
		Name:           FeatureHeatmapDemoJitter,
		Description:    "Fill ungraded heatmap subjects with placeholder scores in demo classes",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureSessionSync] = &Feature{
		Name:           FeatureSessionSync,
		Description:    "Broadcast session state changes",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRubricAutograde] = &Feature{
		Name:           FeatureRubricAutograde,
		Description:    "Derive submission grades from rubric scores",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_HEATMAP_DEMO_JITTER=true
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "heatmap.demo_jitter" -> "FEATURE_HEATMAP_DEMO_JITTER"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
// A nil receiver reports every feature as enabled.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	if ff == nil {
		return true
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.ClassID != "" {
		if overrides, ok := ff.classOverrides[ctx.ClassID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.ClassID != "" {
		return isInRollout(ctx.ClassID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout uses consistent hashing so classes stay in their bucket.
func isInRollout(classID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(classID))
	return int(h.Sum32()%100) < percent
}

// SetClassOverride forces a feature on or off for one class.
func (ff *FeatureFlags) SetClassOverride(classID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.classOverrides[classID]; !ok {
		ff.classOverrides[classID] = make(map[string]bool)
	}
	ff.classOverrides[classID][featureName] = enabled
}

// ClearClassOverrides removes all overrides for a class.
func (ff *FeatureFlags) ClearClassOverrides(classID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.classOverrides, classID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
