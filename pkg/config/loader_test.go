package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/config"
)

type defaultsConfig struct {
	Addr     string        `env:"CFG_TEST_DEFAULT_ADDR" envDefault:":8080"`
	Attempts int           `env:"CFG_TEST_DEFAULT_ATTEMPTS" envDefault:"3"`
	Timeout  time.Duration `env:"CFG_TEST_DEFAULT_TIMEOUT" envDefault:"5s"`
}

type overrideConfig struct {
	APIKey string `env:"CFG_TEST_OVERRIDE_KEY"`
}

type requiredConfig struct {
	Secret string `env:"CFG_TEST_REQUIRED_SECRET,required"`
}

type cachedConfig struct {
	Value string `env:"CFG_TEST_CACHED_VALUE" envDefault:"first"`
}

type validatedConfig struct {
	Min int `env:"CFG_TEST_VALIDATED_MIN" envDefault:"10"`
	Max int `env:"CFG_TEST_VALIDATED_MAX" envDefault:"1"`
}

func (c *validatedConfig) Validate() error {
	if c.Min > c.Max {
		return errors.New("min exceeds max")
	}
	return nil
}

func TestLoadDefaults(t *testing.T) {
	var cfg defaultsConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 3, cfg.Attempts)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CFG_TEST_OVERRIDE_KEY", "sk_test_123")

	var cfg overrideConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "sk_test_123", cfg.APIKey)
}

func TestLoadRequiredMissing(t *testing.T) {
	var cfg requiredConfig
	err := config.Load(&cfg)
	require.ErrorIs(t, err, config.ErrParsingConfig)

	// The failure is cached as well.
	err = config.Load(&cfg)
	require.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoadCachesPerType(t *testing.T) {
	var first cachedConfig
	require.NoError(t, config.Load(&first))

	t.Setenv("CFG_TEST_CACHED_VALUE", "second")

	var again cachedConfig
	require.NoError(t, config.Load(&again))
	assert.Equal(t, "first", again.Value)
}

func TestLoadValidates(t *testing.T) {
	var cfg validatedConfig
	err := config.Load(&cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadNilPointer(t *testing.T) {
	err := config.Load[defaultsConfig](nil)
	require.ErrorIs(t, err, config.ErrNilPointer)
}

func TestMustLoad(t *testing.T) {
	assert.Panics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
	})
}
