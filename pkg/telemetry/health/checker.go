package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status values reported per component and overall.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc performs a health check. It returns nil when the component is
// healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

// ComponentStatus is the outcome of one check.
type ComponentStatus struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Healthy reports whether the component passed.
func (s ComponentStatus) Healthy() bool {
	return s.Status == StatusHealthy
}

// Report is the aggregate health document served on GET /health.
type Report struct {
	Status    string                     `json:"status"`
	Timestamp time.Time                  `json:"timestamp"`
	Services  map[string]ComponentStatus `json:"services"`
	Database  ComponentStatus            `json:"database"`
	Cache     ComponentStatus            `json:"cache"`
}

// Checker runs the datastore, cache and per-service checks and folds them
// into one status. The datastore is critical: its failure makes the gateway
// unhealthy. The cache and backend services are not: their failure only
// degrades it.
type Checker struct {
	mu        sync.RWMutex
	services  map[string]CheckFunc
	datastore CheckFunc
	cache     CheckFunc

	// Timeout for individual checks
	checkTimeout time.Duration
}

// ErrCheckTimeout is reported when a check exceeds its timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// New creates a checker with the given per-check timeout.
// If timeout is 0, it defaults to 15 seconds.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 15 * time.Second
	}
	return &Checker{
		services:     make(map[string]CheckFunc),
		checkTimeout: checkTimeout,
	}
}

// RegisterService registers the check for a backend service, replacing any
// existing check with the same name.
func (c *Checker) RegisterService(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = check
}

// SetDatastore sets the critical datastore check.
func (c *Checker) SetDatastore(check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datastore = check
}

// SetCache sets the non-critical cache check. Without one the cache is
// reported healthy with a "not configured" message.
func (c *Checker) SetCache(check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = check
}

// Services returns the registered service names in sorted order.
func (c *Checker) Services() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check concurrently and aggregates the result.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	services := make(map[string]CheckFunc, len(c.services))
	for name, check := range c.services {
		services[name] = check
	}
	datastore, cache := c.datastore, c.cache
	c.mu.RUnlock()

	report := Report{
		Services:  make(map[string]ComponentStatus, len(services)),
		Database:  ComponentStatus{Status: StatusHealthy, Message: "not configured"},
		Cache:     ComponentStatus{Status: StatusHealthy, Message: "not configured"},
		Timestamp: time.Now().UTC(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for name, check := range services {
		g.Go(func() error {
			result := c.runCheck(gctx, check)
			mu.Lock()
			report.Services[name] = result
			mu.Unlock()
			return nil
		})
	}
	if datastore != nil {
		g.Go(func() error {
			result := c.runCheck(gctx, datastore)
			mu.Lock()
			report.Database = result
			mu.Unlock()
			return nil
		})
	}
	if cache != nil {
		g.Go(func() error {
			result := c.runCheck(gctx, cache)
			mu.Lock()
			report.Cache = result
			mu.Unlock()
			return nil
		})
	}

	// Checks never return errors to the group; failures live in the report.
	_ = g.Wait()

	report.Status = Aggregate(report)
	return report
}

// Aggregate applies the severity policy: datastore failure is fatal,
// cache or service failure is degraded, otherwise healthy.
func Aggregate(r Report) string {
	if !r.Database.Healthy() {
		return StatusUnhealthy
	}
	if !r.Cache.Healthy() {
		return StatusDegraded
	}
	for _, s := range r.Services {
		if !s.Healthy() {
			return StatusDegraded
		}
	}
	return StatusHealthy
}

// runCheck executes a single health check with timeout.
func (c *Checker) runCheck(ctx context.Context, check CheckFunc) ComponentStatus {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()

	errChan := make(chan error, 1)
	go func() {
		errChan <- check(checkCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return ComponentStatus{Status: StatusUnhealthy, Error: err.Error()}
		}
		return ComponentStatus{
			Status:       StatusHealthy,
			ResponseTime: formatDuration(time.Since(start)),
		}

	case <-checkCtx.Done():
		return ComponentStatus{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("%v after %s", ErrCheckTimeout, c.checkTimeout),
		}
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
