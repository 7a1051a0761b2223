package risk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify_AlwaysRedCategory(t *testing.T) {
	tier, reason := Classify("rotate database credentials")
	require.Equal(t, TierRed, tier)
	require.Equal(t, "Always Red category: secrets/env/prod credentials", reason)
}

func TestClassify_CategoryPrecedesKeywordList(t *testing.T) {
	// "rbac" sits in both the category list and the red keyword list;
	// the category reason must win.
	tier, reason := Classify("review the RBAC matrix")
	require.Equal(t, TierRed, tier)
	require.Contains(t, reason, "Always Red category: auth/permissions/rbac")
}

func TestClassify_RedKeyword(t *testing.T) {
	tier, reason := Classify("refund the stripe dispute")
	require.Equal(t, TierRed, tier)
	require.Equal(t, "Red-tier keyword detected: stripe", reason)
}

func TestClassify_YellowKeyword(t *testing.T) {
	tier, reason := Classify("update the api documentation")
	require.Equal(t, TierYellow, tier)
	require.Equal(t, "Yellow-tier keyword detected: api", reason)
}

func TestClassify_DefaultGreen(t *testing.T) {
	for _, task := range []string{
		"search documentation for X",
		"summarize the readme",
		"",
	} {
		tier, reason := Classify(task)
		require.Equal(t, TierGreen, tier, "task %q", task)
		require.Equal(t, "No risk keywords detected - defaulting to Green", reason)
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	tier, _ := Classify("ROTATE THE SIGNING KEY")
	require.Equal(t, TierRed, tier)
}

func TestClassify_Deterministic(t *testing.T) {
	task := "deploy the user profile service"
	firstTier, firstReason := Classify(task)
	for i := 0; i < 10; i++ {
		tier, reason := Classify(task)
		require.Equal(t, firstTier, tier)
		require.Equal(t, firstReason, reason)
	}
}

func TestPermitted(t *testing.T) {
	require.True(t, Permitted(TierGreen))
	require.True(t, Permitted(TierYellow))
	require.False(t, Permitted(TierRed))
	require.False(t, Permitted(Tier("PURPLE")))
}
