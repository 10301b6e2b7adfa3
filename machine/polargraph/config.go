package polargraph

import "time"

// Device markers, matched as substrings of received text.
const (
	BannerMarker   = "POLARGRAPH ON!"
	EStopMarker    = "ESTOP_PRESSED"
	CompleteMarker = "CMD_COMPLETE"
	ReadyMarker    = "READY"

	// AckToken tells the device to execute the verified command.
	AckToken = "CHECKED\n"
)

// Config holds the protocol constants of a connection.
type Config struct {
	Baud int

	// BootDelay is waited after opening a port, the device resets when DTR toggles.
	BootDelay time.Duration

	// Timeout bounds the wait for a command echo.
	Timeout time.Duration

	// PollInterval is slept after every write and between reads.
	PollInterval time.Duration

	// ReadTimeout is the port level read timeout.
	ReadTimeout time.Duration

	// MaxLength is the exclusive limit on canonical command length.
	MaxLength int
}

// DefaultConfig returns the settings the plotter firmware expects.
func DefaultConfig() Config {
	return Config{
		Baud:         1000000,
		BootDelay:    2 * time.Second,
		Timeout:      3 * time.Second,
		PollInterval: 100 * time.Microsecond,
		ReadTimeout:  time.Second,
		MaxLength:    70,
	}
}
