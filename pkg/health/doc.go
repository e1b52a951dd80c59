/*
Package health provides pluggable health check mechanisms for probing the
availability of external dependencies the ontology management system
relies on but does not itself manage the lifecycle of — most notably the
external Indexer service a shadow-index build is handed off to.

This package implements three types of checks: HTTP, TCP, and Exec. A
check's Result feeds into handleReadyz (pkg/api), which reports
dependency reachability as part of the replica's readiness verdict
without blocking reads/writes the dependency has no bearing on.

# Architecture

The health check system follows a modular checker design:

	┌─────────────────────────────────────────────────────────────┐
	│                   Health Check System                       │
	└─────┬──────────────────────────────────────────────────────┘
	      │
	      ▼
	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────┐
	    ▼           ▼          ▼
	┌────────┐  ┌──────┐  ┌────────┐
	│  HTTP  │  │ TCP  │  │  Exec  │
	│Checker │  │Checker│ │Checker │
	└────────┘  └──────┘  └────────┘
	     │          │          │
	     ▼          ▼          ▼
	  GET /    Connect     Run cmd
	  /health    :port     on host

## Health Check Flow

 1. A caller builds a Checker for the dependency it cares about
 2. Optionally wait for StartPeriod (grace period right after startup)
 3. Every Interval: run the check
 4. If the check fails: increment consecutive failures
 5. If failures >= Retries: Status.Healthy flips false
 6. The caller decides what unhealthy means for it (e.g. readyz reports it)

# Health Check Types

## HTTP Health Checks

HTTP checks perform HTTP requests to verify a dependency's health:

	Check Type: HTTP
	Configuration:
	├── URL: http://indexer:8090/healthz
	├── Method: GET, POST, HEAD
	├── Headers: Custom HTTP headers
	├── Expected Status: 200-399 (configurable)
	└── Timeout: 10 seconds

Example responses:
  - 200 OK → Healthy
  - 503 Service Unavailable → Unhealthy
  - Connection timeout → Unhealthy
  - Connection refused → Unhealthy

## TCP Health Checks

TCP checks verify that a port is listening and accepting connections:

	Check Type: TCP
	Configuration:
	├── Address: indexer:6379
	├── Timeout: 5 seconds
	└── Connection test only (no data sent)

Use cases:
  - Database health (PostgreSQL, MySQL, Redis)
  - Message queue health (RabbitMQ, Kafka)
  - Any service with a TCP listener and no HTTP health endpoint

## Exec Health Checks

Exec checks run a command on the host and check its exit code:

	Check Type: Exec
	Configuration:
	├── Command: ["pg_isready", "-U", "postgres"]
	├── Timeout: 10 seconds
	├── Exit code 0 → Healthy
	└── Exit code != 0 → Unhealthy

Use cases:
  - Database-specific checks (pg_isready, mysqladmin ping)
  - Custom health scripts
  - CLI tools a dependency ships for its own liveness probe

# Core Components

## Checker Interface

All health checkers implement this interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

This allows polymorphic health checking — a caller doesn't need to know
the check type, just call Check() and interpret the Result.

## Result Structure

All checks return a standardized Result:

	type Result struct {
		Healthy   bool          // Check passed?
		Message   string        // Human-readable message
		CheckedAt time.Time     // When check ran
		Duration  time.Duration // How long check took
	}

## Status Tracking

Status tracks health over time:

	type Status struct {
		ConsecutiveFailures  int    // Failure streak
		ConsecutiveSuccesses int    // Success streak
		LastCheck            time.Time
		LastResult           Result
		Healthy              bool   // Current health state
		StartedAt            time.Time
	}

The status implements hysteresis - multiple failures required before marking
unhealthy, preventing flapping from transient issues.

## Configuration

Health checks are configured per dependency:

	type Config struct {
		Interval    time.Duration  // Time between checks (default: 30s)
		Timeout     time.Duration  // Max check duration (default: 10s)
		Retries     int            // Failures before unhealthy (default: 3)
		StartPeriod time.Duration  // Grace period for slow startup (default: 0)
	}

# Usage Examples

## HTTP Health Check

	import "github.com/ontosys/omscore/pkg/health"

	// Create HTTP checker for the external Indexer
	checker := health.NewHTTPChecker("http://indexer:8090/healthz")

	// Customize (optional)
	checker.WithMethod("GET").
		WithHeader("User-Agent", "omscore-health/1.0").
		WithStatusRange(200, 299).  // Only 2xx is healthy
		WithTimeout(5 * time.Second)

	// Perform check
	ctx := context.Background()
	result := checker.Check(ctx)

	if result.Healthy {
		fmt.Printf("indexer healthy: %s (took %v)\n", result.Message, result.Duration)
	} else {
		fmt.Printf("indexer unhealthy: %s\n", result.Message)
	}

	// Output:
	// indexer healthy: HTTP 200 OK (took 12ms)

## TCP Health Check

	// Create TCP checker for a message broker
	checker := health.NewTCPChecker("broker:5672")
	checker.WithTimeout(3 * time.Second)

	result := checker.Check(ctx)

	if result.Healthy {
		fmt.Println("broker is accepting connections")
	} else {
		fmt.Printf("broker unreachable: %s\n", result.Message)
	}

	// Output:
	// broker is accepting connections

## Exec Health Check

	// Create exec checker for PostgreSQL
	checker := health.NewExecChecker([]string{
		"pg_isready",
		"-U", "postgres",
		"-d", "mydb",
	})
	checker.WithTimeout(5 * time.Second)

	result := checker.Check(ctx)

	if result.Healthy {
		fmt.Println("PostgreSQL is ready")
	} else {
		fmt.Printf("PostgreSQL not ready: %s\n", result.Message)
	}

## Health Status Tracking

	// Create status tracker
	status := health.NewStatus()

	config := health.Config{
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		Retries:     3,
		StartPeriod: 30 * time.Second,
	}

	checker := health.NewHTTPChecker("http://indexer:8090/healthz")

	for {
		if status.InStartPeriod(config) {
			time.Sleep(config.Interval)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		result := checker.Check(ctx)
		cancel()

		status.Update(result, config)

		if !status.Healthy {
			fmt.Printf("indexer unhealthy after %d failures\n", status.ConsecutiveFailures)
			break
		}

		time.Sleep(config.Interval)
	}

## Readiness Integration

pkg/api's handleReadyz calls a single Checker synchronously on each
/readyz request rather than running the Interval/Retries loop above —
the core has exactly one dependency worth probing this way (the
Indexer), so Deps.IndexerHealth is set directly from
cmd/omscore's --indexer-url flag and checked inline:

	if s.deps.IndexerHealth != nil {
		result := s.deps.IndexerHealth.Check(ctx)
		// folded into the readyz response's "checks" map
	}

# Design Patterns

## Strategy Pattern

Different checkers implement the Checker interface:

	Checker (interface)
	├── HTTPChecker (HTTP strategy)
	├── TCPChecker (TCP strategy)
	└── ExecChecker (Exec strategy)

This allows runtime selection of check type without code changes.

## Builder Pattern

Checkers use fluent builders for configuration:

	checker := NewHTTPChecker(url).
		WithMethod("POST").
		WithHeader("Auth", "token").
		WithTimeout(5 * time.Second)

This provides clean, readable configuration with optional parameters.

## Hysteresis Pattern

Status tracking implements hysteresis to prevent flapping:

	Healthy → 1 failure → Still healthy
	Healthy → 2 failures → Still healthy
	Healthy → 3 failures → Unhealthy!

	Unhealthy → 1 success → Healthy!

This prevents oscillation from transient issues while still responding to
persistent problems.

## Context-Based Cancellation

All checks respect context deadlines:

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := checker.Check(ctx)  // Respects timeout

# Best Practices

1. Health Check Design
  - Check critical dependencies only
  - Return quickly (< 1 second ideal)
  - Don't overwhelm the dependency being checked

2. Configuration Tuning
  - Set Timeout = 5-10s (2x expected response time)
  - Set Retries = 3 (tolerate transients) when running the Interval loop

3. Security
  - Health endpoints should not require authentication
  - Don't expose sensitive information in health responses
  - Use internal networks only (not public internet)

# See Also

  - pkg/api - handleReadyz folds Deps.IndexerHealth's Result into /readyz
  - pkg/shadowindex - the Indexer client whose reachability this checks
*/
package health
