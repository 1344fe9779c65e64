package commands

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/toxcall/config"
	"github.com/opd-ai/toxcall/transport"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, "toxcall dev\n", execute(t, "version"))
}

func TestKeygenCommand(t *testing.T) {
	out := execute(t, "keygen")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	secretHex, ok := strings.CutPrefix(lines[0], config.EnvSecretKey+"=")
	require.True(t, ok)
	publicHex, ok := strings.CutPrefix(lines[1], "public_key=")
	require.True(t, ok)

	secret, err := transport.ParseKey(secretHex)
	require.NoError(t, err)
	kp, err := transport.KeyPairFromSecret(secret)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%x", kp.Public), publicHex)
}

func TestLoadRunConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv(config.EnvListenAddr, "127.0.0.1:4000")
	t.Setenv(config.EnvInput, "tone:300")
	envFile = "does-not-exist.env"

	require.NoError(t, runCmd.Flags().Set("input", "tone:500"))
	require.NoError(t, runCmd.Flags().Set("output", "null"))
	t.Cleanup(func() {
		runCmd.Flags().Lookup("input").Changed = false
		runCmd.Flags().Lookup("output").Changed = false
		envFile = ".env"
	})

	cfg, err := loadRunConfig(runCmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", cfg.ListenAddr, "unset flag keeps env value")
	assert.Equal(t, "tone:500", cfg.Input)
	assert.Equal(t, "null", cfg.Output)
}

func TestLoadRunConfigRejectsInvalid(t *testing.T) {
	envFile = "does-not-exist.env"
	require.NoError(t, runCmd.Flags().Set("input", "bogus"))
	t.Cleanup(func() {
		runCmd.Flags().Lookup("input").Changed = false
		envFile = ".env"
	})

	_, err := loadRunConfig(runCmd)
	assert.Error(t, err)
}
