package queue

import (
	"fmt"

	"github.com/qcx/diario-pipeline/pkg/config"
)

// Backend driver names for QueueConfig.Driver.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// New builds a Queue from configuration, dialing Redis for the "redis"
// driver or returning a process-local queue for "memory" (tests and local
// development without a broker).
func New(cfg *config.QueueConfig) (Queue, error) {
	switch cfg.Driver {
	case BackendRedis, "":
		return NewRedisQueue(cfg)
	case BackendMemory:
		return NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("queue: unknown driver %q", cfg.Driver)
	}
}
