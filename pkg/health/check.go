// Package health implements the health and readiness engine: periodic
// protocol-level health probes and, during deployments, per-instance
// readiness probes (spec section "Health & Readiness Engine").
package health

import (
	"context"
	"fmt"
	"time"
)

// Protocol is the closed enumeration of supported health check
// protocols. HTTP, HTTPS and TCP are executed locally by the engine;
// the Mesos* variants and Command are delegated to the external
// resource manager via the launch descriptor.
type Protocol string

const (
	ProtocolHTTP       Protocol = "HTTP"
	ProtocolHTTPS      Protocol = "HTTPS"
	ProtocolTCP        Protocol = "TCP"
	ProtocolMesosHTTP  Protocol = "MESOS_HTTP"
	ProtocolMesosHTTPS Protocol = "MESOS_HTTPS"
	ProtocolMesosTCP   Protocol = "MESOS_TCP"
	ProtocolCommand    Protocol = "COMMAND"
)

// Check is the tagged sum HealthCheck = MarathonHttp | MarathonTcp |
// MesosCommand | MesosHttp | MesosTcp (design note in spec section 9).
// The "executed by us vs. executed by the external manager" dichotomy
// is expressed as the ExecutedLocally capability predicate rather than
// a subclass relation.
type Check struct {
	Protocol Protocol

	// Path is the HTTP(S) request path (e.g. "/healthz").
	Path string
	// PortName names the declared port this check targets.
	// DefaultCheckerFactory does not read it: it probes each target's
	// Address.
	PortName string
	Command  []string // COMMAND protocol argv

	Interval            time.Duration // default 60s
	Timeout             time.Duration // default 20s
	GracePeriod         time.Duration // default 5m, per-task
	MaxConsecutiveFailures int        // default 3

	IgnoreHTTP1xx bool
}

// DefaultCheck returns a Check with the spec's documented defaults
// applied to the zero-value fields of c.
func DefaultCheck(c Check) Check {
	if c.Interval == 0 {
		c.Interval = 60 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 20 * time.Second
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 5 * time.Minute
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = 3
	}
	return c
}

// FirstProbeDelay is min(interval, 5s), the delay before the first
// probe of a newly registered check.
func (c Check) FirstProbeDelay() time.Duration {
	if c.Interval < 5*time.Second {
		return c.Interval
	}
	return 5 * time.Second
}

// ExecutedLocally reports whether the engine itself performs this
// check (HTTP/HTTPS/TCP) as opposed to delegating it to the external
// resource manager via the launch descriptor (MESOS_* and COMMAND).
func (c Check) ExecutedLocally() bool {
	switch c.Protocol {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolTCP:
		return true
	default:
		return false
	}
}

// Result is the outcome of a single probe.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker performs a single locally-executed health check.
type Checker interface {
	Check(ctx context.Context) Result
	Protocol() Protocol
}

// CheckerFactory builds the Checker to run against a specific target.
// The engine calls it once per target per probe cycle so that each
// task of a run-spec's active instances is probed at its own address
// (spec section 4.4), rather than every instance sharing one
// pre-resolved checker.
type CheckerFactory func(target Target) Checker

// DefaultCheckerFactory returns the engine's built-in HTTP/HTTPS/TCP
// checker constructors for chk, each resolved against a target's own
// Address at probe time. Returns nil for protocols the engine does not
// execute locally (MESOS_* and COMMAND).
func DefaultCheckerFactory(chk Check) CheckerFactory {
	switch chk.Protocol {
	case ProtocolHTTP:
		return func(target Target) Checker {
			return NewHTTPChecker(fmt.Sprintf("http://%s%s", target.Address, chk.Path), chk.Timeout)
		}
	case ProtocolHTTPS:
		return func(target Target) Checker {
			return NewHTTPSChecker(fmt.Sprintf("https://%s%s", target.Address, chk.Path), chk.Timeout)
		}
	case ProtocolTCP:
		return func(target Target) Checker {
			return NewTCPChecker(target.Address, chk.Timeout)
		}
	default:
		return nil
	}
}
