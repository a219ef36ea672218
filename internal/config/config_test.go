package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyline/internal/config"
	"bountyline/internal/domain"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default("grants")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "grants", cfg.Project.ID)
	assert.True(t, cfg.LowerBound().Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, 168*time.Hour, cfg.Governance.Expiry.TeamConsent.Std())
	assert.Equal(t, time.Minute, cfg.Governance.SweepInterval.Std())

	board, err := cfg.Preset("members.majority")
	require.NoError(t, err)
	weighted, ok := board.(domain.WeightedThresholdBoard)
	require.True(t, ok)
	assert.True(t, weighted.Threshold.Approval.Equal(decimal.RequireFromString("0.5")))

	_, err = cfg.Preset("missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadOptionalMissing(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("p1")), 0o644))
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "p1", cfg.Project.ID)
	assert.Equal(t, filepath.Join(dir, ".bountyline", "archive.db"), cfg.ArchivePath(dir))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"missing project": `governance: {collateralization_lower_bound: "0.2"}`,
		"bad bound":       "project: {id: p}\ngovernance: {collateralization_lower_bound: abc}",
		"negative bound":  "project: {id: p}\ngovernance: {collateralization_lower_bound: \"-1\"}",
		"bad duration":    "project: {id: p}\ngovernance: {collateralization_lower_bound: \"0.1\", sweep_interval: soon}",
		"bad preset": `project: {id: p}
governance: {collateralization_lower_bound: "0.1"}
boards:
  presets:
    broken:
      kind: flat_petition
      flat: {org: 1, flat_share_id: 1, approval_threshold: 0}
`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(raw))
			require.Error(t, err)
		})
	}
}
