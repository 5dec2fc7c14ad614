package domain

import (
	"fmt"
	"time"
)

// ExecutionMode selects how a mirrored order is sized.
type ExecutionMode string

const (
	ExecutionModePercent ExecutionMode = "percent"
	ExecutionModeFixed   ExecutionMode = "fixed"
)

const (
	CopyFactorMin      = 0.0
	CopyFactorMax      = 5.0
	SlippageBpsMin     = 10
	SlippageBpsMax     = 1000
	DefaultSellAllSize = 1.0
)

// CopySettings is the configuration of one copy session. A running session
// never sees its settings change; a new session is started instead.
type CopySettings struct {
	DataAPIBaseURL  string
	TargetAddresses []string
	CopyFactor      float64
	MaxSlippageBps  int
	DryRun          bool
	PollInterval    time.Duration
	ExecutionMode   ExecutionMode
	FixedSize       float64
	SellAllOnSell   bool
	// SellAllSize is the size submitted for a sell when SellAllOnSell is
	// set. It stands for "close the full position".
	SellAllSize   float64
	FetchLimit    int
	SeenRetention time.Duration
	Concurrency   int
}

// Normalize clamps bounded fields into range, fills defaults and
// deduplicates target addresses while keeping their configured order.
func (s CopySettings) Normalize() CopySettings {
	s.CopyFactor = clampFloat(s.CopyFactor, CopyFactorMin, CopyFactorMax)
	s.MaxSlippageBps = clampInt(s.MaxSlippageBps, SlippageBpsMin, SlippageBpsMax)
	if s.FixedSize < 0 {
		s.FixedSize = 0
	}
	if s.ExecutionMode != ExecutionModeFixed {
		s.ExecutionMode = ExecutionModePercent
	}
	if s.SellAllSize <= 0 {
		s.SellAllSize = DefaultSellAllSize
	}
	if s.FetchLimit <= 0 {
		s.FetchLimit = 100
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}

	seen := make(map[string]struct{}, len(s.TargetAddresses))
	addrs := make([]string, 0, len(s.TargetAddresses))
	for _, a := range s.TargetAddresses {
		a = NormalizeAddress(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		addrs = append(addrs, a)
	}
	s.TargetAddresses = addrs
	return s
}

// Validate reports settings a session cannot run with.
func (s CopySettings) Validate() error {
	if len(s.TargetAddresses) == 0 {
		return fmt.Errorf("copy settings: no target addresses")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("copy settings: poll interval must be positive")
	}
	return nil
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
