package config

// Pauses carries the per-module halt switches operators flip in the node
// configuration file. The zero value pauses nothing.
type Pauses struct {
	FlashLoan bool `toml:"FlashLoan"`
}

// IsPaused reports whether the named module is halted.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "flashloan":
		return p.FlashLoan
	}
	return false
}
