package capability

import "time"

// Config holds the role service connection settings.
type Config struct {
	BaseURL string        `env:"ROLES_URL,required"`
	Timeout time.Duration `env:"ROLES_TIMEOUT" envDefault:"5s"` // per attempt

	MaxAttempts        int           `env:"ROLES_MAX_ATTEMPTS" envDefault:"4"`
	RetryInitial       time.Duration `env:"ROLES_RETRY_INITIAL" envDefault:"200ms"`
	RetryMax           time.Duration `env:"ROLES_RETRY_MAX" envDefault:"5s"`
	BreakerThreshold   uint32        `env:"ROLES_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerOpenTimeout time.Duration `env:"ROLES_BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
}
