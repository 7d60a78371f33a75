package scheduler

import "time"

type Config struct {
	BaseURL               string        `env:"SCHEDULER_BASE_URL" envDefault:"http://localhost:8080/api/v1/billing"`
	Token                 string        `env:"SCHEDULER_TOKEN,required"`
	OrdersInterval        time.Duration `env:"SCHEDULER_ORDERS_INTERVAL" envDefault:"5s"`
	RefundsInterval       time.Duration `env:"SCHEDULER_REFUNDS_INTERVAL" envDefault:"5s"`
	SubscriptionsInterval time.Duration `env:"SCHEDULER_SUBSCRIPTIONS_INTERVAL" envDefault:"10s"`
	MaxBackoff            time.Duration `env:"SCHEDULER_MAX_BACKOFF" envDefault:"30s"`
	RequestTimeout        time.Duration `env:"SCHEDULER_REQUEST_TIMEOUT" envDefault:"60s"`
}
