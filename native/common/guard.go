package common

import "errors"

// ErrModulePaused is returned when an operation targets a module that
// operators have halted.
var ErrModulePaused = errors.New("module paused")

// PauseView reports per-module pause switches. A nil view means nothing is
// paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
