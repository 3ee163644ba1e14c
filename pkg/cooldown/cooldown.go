package cooldown

import (
	"strconv"
	"strings"
	"time"
)

// defaultTiers are the waits for attempts 1, 2, 3, 4 and 5+.
var defaultTiers = [5]time.Duration{
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	30 * time.Second,
}

// Policy maps a retry attempt count to a suggested wait. The value is
// reported alongside failures; nothing schedules on it.
type Policy struct {
	tiers [5]time.Duration
}

// Default returns the policy with the built-in tiers.
func Default() Policy {
	return Policy{tiers: defaultTiers}
}

// Parse builds a policy from raw per-tier seconds. Missing, malformed or
// non-positive entries keep the built-in tier, so Parse never fails. A tier
// shorter than the one before it is raised to match, keeping the steps
// non-decreasing.
func Parse(raw ...string) Policy {
	p := Default()
	for i, s := range raw {
		if i >= len(p.tiers) {
			break
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n <= 0 {
			continue
		}
		p.tiers[i] = time.Duration(n) * time.Second
	}
	for i := 1; i < len(p.tiers); i++ {
		p.tiers[i] = max(p.tiers[i], p.tiers[i-1])
	}
	return p
}

// For returns the cooldown for the given attempt count.
func (p Policy) For(attempts int) time.Duration {
	switch {
	case attempts <= 1:
		return p.tier(0)
	case attempts >= 5:
		return p.tier(4)
	default:
		return p.tier(attempts - 1)
	}
}

func (p Policy) tier(i int) time.Duration {
	if p.tiers[i] <= 0 {
		return defaultTiers[i]
	}
	return p.tiers[i]
}
