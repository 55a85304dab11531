package chat

import "time"

// WebSocket close codes relevant to reconnect decisions.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

const (
	defaultReconnectInitial     = 5 * time.Second
	defaultReconnectMax         = 60 * time.Second
	defaultReconnectFactor      = 2
	defaultReconnectMaxAttempts = 10
)

// ReconnectPolicy bounds reconnect attempts with exponential backoff.
type ReconnectPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      int
	MaxAttempts int
}

// DefaultReconnectPolicy starts at 5s, doubles up to 60s and gives up after 10 attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Initial:     defaultReconnectInitial,
		Max:         defaultReconnectMax,
		Factor:      defaultReconnectFactor,
		MaxAttempts: defaultReconnectMaxAttempts,
	}
}

// ShouldReconnect reports whether a close with code warrants a reconnect.
func (policy ReconnectPolicy) ShouldReconnect(code int) bool {
	return code != CloseNormal
}

// Delay returns the wait before the 1-based attempt, or false once attempts are exhausted.
func (policy ReconnectPolicy) Delay(attempt int) (time.Duration, bool) {
	policy = policy.normalized()
	if attempt < 1 || attempt > policy.MaxAttempts {
		return 0, false
	}
	delay := policy.Initial
	for step := 1; step < attempt; step++ {
		delay *= time.Duration(policy.Factor)
		if delay >= policy.Max {
			return policy.Max, true
		}
	}
	if delay > policy.Max {
		delay = policy.Max
	}
	return delay, true
}

func (policy ReconnectPolicy) normalized() ReconnectPolicy {
	defaults := DefaultReconnectPolicy()
	if policy.Initial <= 0 {
		policy.Initial = defaults.Initial
	}
	if policy.Max <= 0 {
		policy.Max = defaults.Max
	}
	if policy.Factor < 1 {
		policy.Factor = defaults.Factor
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaults.MaxAttempts
	}
	return policy
}
