package api

import "time"

type Config struct {
	SchedulerToken string        `env:"SCHEDULER_TOKEN,required"`
	ReadyTimeout   time.Duration `env:"HTTP_READY_TIMEOUT" envDefault:"2s"`
}
