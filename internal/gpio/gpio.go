// Package gpio provides GPIO input reading with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the level of the DCF77 receiver output line.
type Reader interface {
	// Read returns the raw line level (true = high).
	// No polarity inversion is applied; the decoder times both edges.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Defaults for a receiver module wired to a Raspberry Pi header.
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 17 // BCM numbering
)

// Bias options for the input line.
const (
	BiasPullUp   = "pull-up"
	BiasPullDown = "pull-down"
	BiasDisabled = "disabled"
)
