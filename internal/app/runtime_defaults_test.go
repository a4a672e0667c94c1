package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/charlesng35/convene/pkg/logger"
)

func TestApplyRuntimeDefaultsGeneratesMissingSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = "   "

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"auth.jwt.secret": true, "privacy.contact_key": true}, generated)
	require.Len(t, cfg.Auth.JWT.Secret, 64)

	key, err := ContactMasterKey(cfg.Privacy.ContactKey)
	require.NoError(t, err)
	require.Len(t, key, MinContactKeyBytes)
}

func TestApplyRuntimeDefaultsPreservesExistingSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = strings.Repeat("a", 10)
	cfg.Privacy.ContactKey = strings.Repeat("b", 40)

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, strings.Repeat("a", 10), cfg.Auth.JWT.Secret)
	require.Equal(t, strings.Repeat("b", 40), cfg.Privacy.ContactKey)

	_, err = ApplyRuntimeDefaults(nil)
	require.ErrorContains(t, err, "config is nil")
}

func TestGenerateHexKey(t *testing.T) {
	key, err := generateHexKey(4)
	require.NoError(t, err)
	require.Len(t, key, 8)

	_, err = generateHexKey(0)
	require.Error(t, err)
}

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() { logger.Replace(nil) })

	require.NoError(t, ConfigureLogging("debug", "console"))
	require.True(t, logger.Logger().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, ConfigureLogging("", "json"))
	require.False(t, logger.Logger().Core().Enabled(zapcore.DebugLevel))
	require.True(t, logger.Logger().Core().Enabled(zapcore.InfoLevel))
}
