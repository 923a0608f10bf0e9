package circuitbreaker

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config configures a CircuitBreaker.
type Config struct {
	// FailureThreshold is the failure rate in (0, 1] at which the circuit opens.
	FailureThreshold float64

	// Timeout is how long the circuit stays OPEN before a probe is allowed.
	Timeout time.Duration

	// WindowSize is the minimum number of samples before the failure rate is
	// evaluated. With fewer samples the rate is treated as zero.
	WindowSize int

	// WindowDuration is how much outcome history is retained.
	WindowDuration time.Duration

	// SuccessThreshold is the number of consecutive HALF_OPEN successes
	// needed to close the circuit.
	SuccessThreshold int
}

// DefaultConfig returns the stock settings: 50% failures over at least ten
// samples within five minutes, a 30 second cool-down and three probes.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 0.5,
		Timeout:          30 * time.Second,
		WindowSize:       10,
		WindowDuration:   5 * time.Minute,
		SuccessThreshold: 3,
	}
}

// Validate reports every field outside its allowed range.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.FailureThreshold,
			validation.Required,
			validation.Min(0.0).Exclusive(),
			validation.Max(1.0),
		),
		validation.Field(&c.Timeout,
			validation.Required,
			validation.Min(time.Duration(1)),
		),
		validation.Field(&c.WindowSize,
			validation.Required,
			validation.Min(1),
		),
		validation.Field(&c.WindowDuration,
			validation.Required,
			validation.Min(time.Duration(1)),
		),
		validation.Field(&c.SuccessThreshold,
			validation.Required,
			validation.Min(1),
		),
	)
	if err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	return nil
}
