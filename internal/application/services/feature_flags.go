package services

import (
	"os"
)

type FeatureFlags struct {
	sweeperEnabled    bool
	postCommitEnabled bool
}

// NewFeatureFlags reads the worker loop toggles. Both loops default to on;
// setting the variable to "false" disables one, which is how a stuck loop
// gets isolated during an incident without redeploying.
func NewFeatureFlags() *FeatureFlags {
	return &FeatureFlags{
		sweeperEnabled:    os.Getenv("FEATURE_STALE_SWEEPER") != "false",
		postCommitEnabled: os.Getenv("FEATURE_POST_COMMIT") != "false",
	}
}

func (f *FeatureFlags) SweeperEnabled() bool {
	return f.sweeperEnabled
}

func (f *FeatureFlags) PostCommitEnabled() bool {
	return f.postCommitEnabled
}
