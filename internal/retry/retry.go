// Package retry classifies storage errors as transient or terminal and
// retries transient ones with bounded exponential backoff.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string { return e.err.Error() }

func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its content.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient, reason: "explicit_transient"}
}

// Terminal marks err as not retryable regardless of its content.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal, reason: "explicit_terminal"}
}

func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}
	if errors.Is(err, redis.ErrClosed) {
		return Decision{Class: ClassTerminal, Reason: "redis_client_closed"}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}

	for _, prefix := range redisTransientPrefixes {
		if redis.HasErrorPrefix(err, prefix) {
			return Decision{Class: ClassTransient, Reason: "redis_" + strings.ToLower(prefix)}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Class: ClassTransient, Reason: "net_timeout"}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Decision{Class: ClassTransient, Reason: "net_op_error"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

// classifySQLState maps a Postgres SQLSTATE to a retry class by its
// two-character class prefix.
func classifySQLState(code string) Decision {
	if len(code) < 2 {
		return Decision{Class: ClassTerminal, Reason: "sqlstate_unknown"}
	}
	switch code[:2] {
	case "08":
		return Decision{Class: ClassTransient, Reason: "sqlstate_connection_exception"}
	case "40":
		return Decision{Class: ClassTransient, Reason: "sqlstate_transaction_rollback"}
	case "53":
		return Decision{Class: ClassTransient, Reason: "sqlstate_insufficient_resources"}
	case "57":
		return Decision{Class: ClassTransient, Reason: "sqlstate_operator_intervention"}
	default:
		return Decision{Class: ClassTerminal, Reason: "sqlstate_" + code}
	}
}

// IsDataError reports whether err was raised by the record rather than the
// sink: Postgres data exceptions (class 22), integrity violations (class 23)
// and payloads that cannot be encoded as JSON.
func IsDataError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "22") || strings.HasPrefix(code, "23")
	}
	var typeErr *json.UnsupportedTypeError
	var valueErr *json.UnsupportedValueError
	return errors.As(err, &typeErr) || errors.As(err, &valueErr)
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var redisTransientPrefixes = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN"}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad connection",
	"i/o timeout",
	"eof",
	"too many connections",
}

var terminalMessageTokens = []string{
	"invalid input",
	"syntax error",
	"violates",
	"does not exist",
	"permission denied",
}

// Policy bounds Do. Zero values take the defaults noted below.
type Policy struct {
	MaxAttempts int           // 3
	BaseDelay   time.Duration // 100ms
	MaxDelay    time.Duration // 2s
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	return p
}

// Do calls fn until it succeeds, returns a terminal error, or the attempt
// budget runs out. The delay doubles after each transient failure.
func Do(ctx context.Context, policy Policy, fn func(context.Context) error) error {
	policy = policy.withDefaults()
	delay := policy.BaseDelay

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		decision := Classify(err)
		if !decision.IsTransient() {
			return err
		}
		if attempt >= policy.MaxAttempts {
			return fmt.Errorf("after %d attempts (%s): %w", attempt, decision.Reason, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}
