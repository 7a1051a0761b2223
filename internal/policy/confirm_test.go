package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequireConfirmation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                 string
		toolName             string
		confirmationRequired bool
		args                 map[string]any
		wantErr              string
	}{
		{
			name:     "no confirmation needed for read tool",
			toolName: "classify",
			args:     map[string]any{"task": "search documentation"},
		},
		{
			name:     "guarded provider requires confirmation",
			toolName: "call_tool",
			args: map[string]any{
				"provider": "container",
				"action":   "remove_container",
			},
			wantErr: "requires confirm=true",
		},
		{
			name:     "guarded provider accepts confirm true",
			toolName: "call_tool",
			args: map[string]any{
				"provider": "container",
				"action":   "remove_container",
				"confirm":  true,
			},
		},
		{
			name:     "guarded provider name is normalized",
			toolName: "call_tool",
			args: map[string]any{
				"provider": " Browser ",
			},
			wantErr: "when provider=browser",
		},
		{
			name:     "unguarded provider does not require confirmation",
			toolName: "call_tool",
			args: map[string]any{
				"provider": "docs-search",
				"action":   "search",
			},
		},
		{
			name:                 "explicit confirmationRequired metadata is honored",
			toolName:             "auto_execute",
			confirmationRequired: true,
			args:                 map[string]any{"task": "search documentation"},
			wantErr:              "before autonomous execution",
		},
		{
			name:     "confirm must be boolean true",
			toolName: "call_tool",
			args: map[string]any{
				"provider": "security",
				"confirm":  "true",
			},
			wantErr: "requires confirm=true",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := RequireConfirmation(tc.toolName, tc.confirmationRequired, tc.args)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
