package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/djlord-it/easy-alarm/internal/cron"
)

// minSecretLen is the shortest accepted stream token secret.
const minSecretLen = 16

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	errs = append(errs, checkTags(cfg)...)

	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"SWEEP_INTERVAL", cfg.SweepInterval},
		{"QUEUE_POLL_INTERVAL", cfg.QueuePollInterval},
		{"QUEUE_BACKOFF_BASE", cfg.QueueBackoffBase},
		{"STREAM_TOKEN_TTL", cfg.StreamTokenTTL},
		{"STREAM_HEARTBEAT", cfg.StreamHeartbeat},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeout},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeout},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryInterval},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatInterval},
	} {
		if d.value <= 0 {
			errs = append(errs, ValidationError{Field: d.field, Message: "must be positive"})
		}
	}

	if cfg.QueueBreakerThreshold > 0 && cfg.QueueBreakerCooldown <= 0 {
		errs = append(errs, ValidationError{
			Field:   "QUEUE_BREAKER_COOLDOWN",
			Message: "must be positive when QUEUE_BREAKER_THRESHOLD is set",
		})
	}

	tz := cfg.AlarmTimezone
	if _, err := time.LoadLocation(tz); err != nil {
		errs = append(errs, ValidationError{
			Field:   "ALARM_TIMEZONE",
			Message: fmt.Sprintf("unknown timezone %q", tz),
		})
		tz = "UTC"
	}

	if _, err := cron.NewParser().Parse(cfg.QueueJanitorSchedule, tz); err != nil {
		errs = append(errs, ValidationError{
			Field:   "QUEUE_JANITOR_SCHEDULE",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}

	if len(cfg.StreamTokenSecret) < minSecretLen {
		errs = append(errs, ValidationError{
			Field:   "STREAM_TOKEN_SECRET",
			Message: fmt.Sprintf("must be at least %d characters", minSecretLen),
		})
	}

	if cfg.DBMaxIdleConns > cfg.DBMaxOpenConns {
		errs = append(errs, ValidationError{
			Field:   "DB_MAX_IDLE_CONNS",
			Message: "must not exceed DB_MAX_OPEN_CONNS",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

var structValidator = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("envconfig")
	})
	return v
}()

// checkTags runs the struct tag rules and reports failures under the
// environment variable name.
func checkTags(cfg Config) ValidationErrors {
	err := structValidator.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{Field: "config", Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: tagMessage(fe)})
	}
	return out
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}
