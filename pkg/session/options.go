package session

import "time"

// Config holds the timing of the command sequences.
type Config struct {
	// PollAttempts is the number of data-ready queries before giving up
	PollAttempts int

	// PollInterval is the wait between two data-ready queries
	PollInterval time.Duration

	// ResetDelay is the time the sensor needs to come back after a reset
	ResetDelay time.Duration

	// SettleDelay is the time the sensor needs after a configuration write
	SettleDelay time.Duration
}

func defaultConfig() Config {
	return Config{
		PollAttempts: 5,
		PollInterval: 300 * time.Millisecond,
		ResetDelay:   300 * time.Millisecond,
		SettleDelay:  20 * time.Millisecond,
	}
}

// Option is a functional option for configuring the Session.
type Option func(*Config)

// WithPollAttempts sets the number of data-ready queries per measurement.
func WithPollAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.PollAttempts = n
		}
	}
}

// WithPollInterval sets the wait between two data-ready queries.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.PollInterval = d
		}
	}
}

// WithResetDelay sets the wait after a reset command.
func WithResetDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.ResetDelay = d
		}
	}
}

// WithSettleDelay sets the wait after a cleaning period write.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.SettleDelay = d
		}
	}
}
