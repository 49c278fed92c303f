package proxy

import (
	"log/slog"
	"sync"

	cb "github.com/sony/gobreaker"

	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
)

// breakerStateValue maps breaker states onto the gaia_proxy_breaker_state
// gauge.
func breakerStateValue(s cb.State) int {
	switch s {
	case cb.StateHalfOpen:
		return 1
	case cb.StateOpen:
		return 2
	default:
		return 0
	}
}

// breakers holds one circuit breaker per service, created on first use.
type breakers struct {
	cfg      config.BreakerConfig
	logger   *slog.Logger
	onChange func(service string, state int)

	mu  sync.Mutex
	cbs map[string]*cb.CircuitBreaker
}

func newBreakers(cfg config.BreakerConfig, logger *slog.Logger, onChange func(string, int)) *breakers {
	return &breakers{
		cfg:      cfg,
		logger:   logger,
		onChange: onChange,
		cbs:      make(map[string]*cb.CircuitBreaker),
	}
}

// get returns the breaker for service, or nil when breakers are disabled.
func (b *breakers) get(service string) *cb.CircuitBreaker {
	if b == nil || !b.cfg.Enabled {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if br, ok := b.cbs[service]; ok {
		return br
	}

	threshold := b.cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = config.DefaultBreakerFailures
	}

	br := cb.NewCircuitBreaker(cb.Settings{
		Name:    service,
		Timeout: b.cfg.OpenTimeout,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isConnectivityFailure(err)
		},
		OnStateChange: func(name string, from, to cb.State) {
			b.logger.Warn("circuit breaker state changed",
				"service", name,
				"from", from.String(),
				"to", to.String(),
			)
			if b.onChange != nil {
				b.onChange(name, breakerStateValue(to))
			}
		},
	})
	b.cbs[service] = br
	return br
}
