package config

import "strings"

// Feature names accepted in the features map.
const (
	FeatureRouting       = "routing"
	FeatureTestSelection = "test_selection"
	FeatureContextCache  = "context_cache"
	FeatureStreaming     = "streaming"
)

// Features are the optional behaviours a milestone turns on.
type Features struct {
	Routing       bool `json:"routing"`
	TestSelection bool `json:"test_selection"`
	ContextCache  bool `json:"context_cache"`
	Streaming     bool `json:"streaming"`
}

// Each milestone adds to the previous one.
var milestones = map[string]Features{
	"m1": {},
	"m2": {Routing: true},
	"m3": {Routing: true, TestSelection: true, ContextCache: true},
	"m4": {Routing: true, TestSelection: true, ContextCache: true, Streaming: true},
}

// MilestoneFeatures returns the feature set of m.
func MilestoneFeatures(m string) (Features, bool) {
	f, ok := milestones[m]
	return f, ok
}

func knownFeature(name string) bool {
	switch name {
	case FeatureRouting, FeatureTestSelection, FeatureContextCache, FeatureStreaming:
		return true
	}
	return false
}

func (f Features) with(name string, on bool) Features {
	switch name {
	case FeatureRouting:
		f.Routing = on
	case FeatureTestSelection:
		f.TestSelection = on
	case FeatureContextCache:
		f.ContextCache = on
	case FeatureStreaming:
		f.Streaming = on
	}
	return f
}

// String lists the enabled features, or "baseline" when none are.
func (f Features) String() string {
	var on []string
	if f.Routing {
		on = append(on, FeatureRouting)
	}
	if f.TestSelection {
		on = append(on, FeatureTestSelection)
	}
	if f.ContextCache {
		on = append(on, FeatureContextCache)
	}
	if f.Streaming {
		on = append(on, FeatureStreaming)
	}
	if len(on) == 0 {
		return "baseline"
	}
	return strings.Join(on, ",")
}
