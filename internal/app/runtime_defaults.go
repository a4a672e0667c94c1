package app

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/convene/pkg/crypto"
	"github.com/charlesng35/convene/pkg/logger"
)

// runtimeSecret is a config value that must exist before the server can start. A missing one
// is generated for the lifetime of the process.
type runtimeSecret struct {
	key      string
	field    func(*Config) *string
	generate func() (string, error)
}

var runtimeSecrets = []runtimeSecret{
	{
		key:      "auth.jwt.secret",
		field:    func(c *Config) *string { return &c.Auth.JWT.Secret },
		generate: func() (string, error) { return crypto.GenerateToken(48) },
	},
	{
		// Generated contact keys are persisted by the bootstrap so stored addresses stay readable.
		key:      "privacy.contact_key",
		field:    func(c *Config) *string { return &c.Privacy.ContactKey },
		generate: func() (string, error) { return generateHexKey(MinContactKeyBytes) },
	},
}

// ApplyRuntimeDefaults fills missing secrets and reports which keys it generated. Values are
// never included so the result is safe to log.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	generated := make(map[string]bool)
	for _, secret := range runtimeSecrets {
		field := secret.field(cfg)
		if strings.TrimSpace(*field) != "" {
			continue
		}
		value, err := secret.generate()
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", secret.key, err)
		}
		*field = value
		generated[secret.key] = true
	}
	return generated, nil
}

// ConfigureLogging installs the global logger. Level defaults to info and format to JSON.
func ConfigureLogging(level, format string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	return logger.Init(level, format)
}

func generateHexKey(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
