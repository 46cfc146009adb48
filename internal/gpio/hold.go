package gpio

import (
	log "github.com/inconshreveable/log15"
)

// HoldLine adapts a Reader to the decoder's error-free line contract.
// A failed read repeats the last good level, so it can never fake an edge.
type HoldLine struct {
	reader Reader
	last   bool
	errors uint64
	logged bool
	log    log.Logger
}

// NewHoldLine wraps r. Read errors are logged once per failure streak.
func NewHoldLine(r Reader) *HoldLine {
	return &HoldLine{reader: r, log: log.New("module", "gpio")}
}

// Level returns the current level, or the previous one if the read failed.
func (h *HoldLine) Level() bool {
	level, err := h.reader.Read()
	if err != nil {
		h.errors++
		if !h.logged {
			h.log.Warn("gpio read error, holding last level", "err", err, "level", h.last)
			h.logged = true
		}
		return h.last
	}
	if h.logged {
		h.log.Info("gpio read recovered", "failed_reads", h.errors)
		h.logged = false
	}
	h.last = level
	return level
}

// Errors returns the number of failed reads so far.
func (h *HoldLine) Errors() uint64 {
	return h.errors
}
