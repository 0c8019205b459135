package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framescope/framescope/pkg/version"
)

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{
			name: "full",
			check: func(t *testing.T, out string) {
				assert.True(t, strings.HasPrefix(out, "framescope "+version.Short()), out)
			},
		},
		{
			name: "short",
			args: []string{"--short"},
			check: func(t *testing.T, out string) {
				assert.Equal(t, version.Short()+"\n", out)
			},
		},
		{
			name: "json",
			args: []string{"--json"},
			check: func(t *testing.T, out string) {
				var info version.BuildInfo
				require.NoError(t, json.Unmarshal([]byte(out), &info))
				assert.Equal(t, version.Short(), info.Version)
				assert.NotEmpty(t, info.GoVersion)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupProject(t)

			out, err := runCLI(t, dir, append([]string{"version"}, tt.args...)...)

			require.NoError(t, err)
			tt.check(t, out)
		})
	}
}
