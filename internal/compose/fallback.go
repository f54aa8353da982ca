package compose

import "github.com/8bitGames/creative-mut-app/internal/encoder"

type fallbackState int

const (
	tryingHardware fallbackState = iota
	tryingSoftware
)

func (s fallbackState) String() string {
	if s == tryingHardware {
		return "trying-hardware"
	}
	return "trying-software"
}

// fallback tracks which encoder a compose call may still use. The only
// transition is hardware to software; there is no way back.
type fallback struct {
	state    fallbackState
	hardware encoder.Choice
}

func newFallback(initial encoder.Choice) *fallback {
	if !initial.Hardware() {
		return &fallback{state: tryingSoftware}
	}
	return &fallback{state: tryingHardware, hardware: initial}
}

// Encoder returns the encoder for the next attempt.
func (f *fallback) Encoder() encoder.Choice {
	if f.state == tryingHardware {
		return f.hardware
	}
	return encoder.For(encoder.Software)
}

// Downgrade moves to software. It reports whether the state changed.
func (f *fallback) Downgrade() bool {
	if f.state == tryingSoftware {
		return false
	}
	f.state = tryingSoftware
	return true
}
