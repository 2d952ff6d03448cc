package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogPath = "../../internal/data/testdata/definitions.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	assert.Equal(t, code, oopsErr.Code())
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"validate", "simulate", "migrate"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	level, err := cmd.PersistentFlags().GetString("log-level")
	require.NoError(t, err)
	assert.Equal(t, "warn", level)
}

func TestNewSimulateCmd_Flags(t *testing.T) {
	cmd := NewSimulateCmd()

	actorID, err := cmd.Flags().GetString("actor")
	require.NoError(t, err)
	assert.Equal(t, defaultActorID, actorID)

	step, err := cmd.Flags().GetDuration("step")
	require.NoError(t, err)
	assert.Equal(t, defaultStep, step)

	require.NoError(t, cmd.Flags().Set("grant", "Strike,Cleave"))
	grants, err := cmd.Flags().GetStringSlice("grant")
	require.NoError(t, err)
	assert.Equal(t, []string{"Strike", "Cleave"}, grants)

	require.NoError(t, cmd.Flags().Set("advance", "1500ms"))
	advance, err := cmd.Flags().GetDuration("advance")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, advance)
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", catalogPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Regexp(t, `attribute sets:\s+1`, out)
	assert.Regexp(t, `effects:\s+5`, out)
	assert.Regexp(t, `abilities:\s+2`, out)
	assert.Regexp(t, `actors:\s+2`, out)
}

func TestValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
abilities:
  - id: Smite
    cost_effect: Missing
`), 0o600))

	_, err := execute(t, "validate", path)
	requireCode(t, err, "CATALOG_INVALID")
}

func TestValidate_RequiresPath(t *testing.T) {
	_, err := execute(t, "validate")
	assert.Error(t, err)
}

func TestSimulate_ActivateAndAdvance(t *testing.T) {
	out, err := execute(t, "simulate", catalogPath,
		"--attr", "Rage=50",
		"--activate", "Strike",
		"--advance", "1s")
	require.NoError(t, err)

	assert.Contains(t, out, "activate Strike: ok")
	assert.Contains(t, out, "actor hero at 1s")
	assert.Regexp(t, `Rage\s+30 \(base 30\)`, out)
	assert.Regexp(t, `State\.Attacking\s+x1`, out)
	assert.Regexp(t, `Cooldown\.Strike\s+stacks=1 remaining=500ms`, out)
	assert.Regexp(t, `Strike\s+activating cooldown=500ms`, out)
}

func TestSimulate_CostRefused(t *testing.T) {
	out, err := execute(t, "simulate", catalogPath, "--activate", "Strike")
	require.NoError(t, err)
	// Rage starts at 0 and the cost would take it below the range.
	assert.Contains(t, out, "activate Strike: refused")
	assert.NotContains(t, out, "State.Attacking")
}

func TestSimulate_CatalogActorEffects(t *testing.T) {
	out, err := execute(t, "simulate", catalogPath, "--actor", "dummy")
	require.NoError(t, err)
	assert.Regexp(t, `Rage\s+10 \(base 0\)`, out)
	assert.Regexp(t, `Enrage\s+stacks=1 remaining=infinite`, out)
	assert.Regexp(t, `State\.Enraged\s+x1`, out)
}

func TestSimulate_PeriodicDamage(t *testing.T) {
	out, err := execute(t, "simulate", catalogPath, "--apply", "Bleed", "--advance", "2500ms")
	require.NoError(t, err)
	// One dose on application, then one per second.
	assert.Regexp(t, `Health\s+108 \(base 108\)`, out)
	assert.Regexp(t, `Bleed\s+stacks=1 remaining=3.5s`, out)
}

func TestSimulate_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
	}{
		{name: "unknown class", args: []string{"--class", "Mage"}, code: "UNKNOWN_CLASS"},
		{name: "malformed attr", args: []string{"--attr", "Rage"}, code: "FLAG_INVALID"},
		{name: "non-numeric attr", args: []string{"--attr", "Rage=lots"}, code: "FLAG_INVALID"},
		{name: "unknown attribute", args: []string{"--attr", "Focus=1"}, code: "UNKNOWN_ATTRIBUTE"},
		{name: "unknown ability", args: []string{"--grant", "Fireball"}, code: "UNKNOWN_ABILITY"},
		{name: "unknown effect", args: []string{"--apply", "Burn"}, code: "UNKNOWN_EFFECT"},
		{name: "zero step", args: []string{"--step", "0s"}, code: "FLAG_INVALID"},
		{name: "negative advance", args: []string{"--advance", "-1s"}, code: "FLAG_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"simulate", catalogPath}, tt.args...)
			_, err := execute(t, args...)
			requireCode(t, err, tt.code)
		})
	}
}

func TestParseAttr(t *testing.T) {
	typ, v, err := parseAttr("Health=12.5")
	require.NoError(t, err)
	assert.Equal(t, "Health", string(typ))
	assert.Equal(t, 12.5, v)

	_, _, err = parseAttr("=3")
	assert.Error(t, err)
}

func TestMigrate_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abilityserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_interval: 0s\n"), 0o600))

	_, err := execute(t, "migrate", "--config", path)
	requireCode(t, err, "CONFIG_INVALID")
}

func TestRootCmd_InvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "validate", catalogPath)
	requireCode(t, err, "CONFIG_INVALID")
}
