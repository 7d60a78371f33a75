package gateway

import "time"

// Config holds the Stripe connection settings.
type Config struct {
	APIKey  string        `env:"STRIPE_API_KEY,required"`
	BaseURL string        `env:"STRIPE_BASE_URL" envDefault:"https://api.stripe.com"` // point at stripe-mock in development
	Timeout time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`                     // per attempt

	MaxAttempts        int           `env:"STRIPE_MAX_ATTEMPTS" envDefault:"4"`
	RetryInitial       time.Duration `env:"STRIPE_RETRY_INITIAL" envDefault:"200ms"`
	RetryMax           time.Duration `env:"STRIPE_RETRY_MAX" envDefault:"5s"`
	BreakerThreshold   uint32        `env:"STRIPE_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerOpenTimeout time.Duration `env:"STRIPE_BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
}
