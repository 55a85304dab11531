package checkout

import (
	"context"
	"time"
)

// ControllerOption configures a Controller instance.
type ControllerOption func(*Controller)

// TransitionLogger records every status change of a session.
type TransitionLogger interface {
	LogTransition(ctx context.Context, entry TransitionLog)
}

// SessionRecorder persists session snapshots after each transition.
type SessionRecorder interface {
	RecordSession(ctx context.Context, session Session) error
}

// TransitionLog describes one state change.
type TransitionLog struct {
	Operation string
	SessionID string
	Kind      Kind
	From      Status
	To        Status
	Total     Amount
	Failure   *Failure
	Error     error
}

// WithTransitionLogger wires a logger that receives callbacks for every transition.
func WithTransitionLogger(logger TransitionLogger) ControllerOption {
	return func(controller *Controller) {
		controller.logger = logger
	}
}

// WithSessionRecorder wires persistence for session snapshots.
func WithSessionRecorder(recorder SessionRecorder) ControllerOption {
	return func(controller *Controller) {
		controller.recorder = recorder
	}
}

// WithTotalReserver wires a shared reservation of live totals.
func WithTotalReserver(reserver TotalReserver) ControllerOption {
	return func(controller *Controller) {
		controller.reserver = reserver
	}
}

// WithFeeCalculator overrides the fee source.
func WithFeeCalculator(calculator FeeCalculator) ControllerOption {
	return func(controller *Controller) {
		controller.fees = calculator
	}
}

// WithTimers overrides the countdown budget and timer intervals.
func WithTimers(countdownSeconds int, tickInterval time.Duration, pollInterval time.Duration) ControllerOption {
	return func(controller *Controller) {
		if countdownSeconds > 0 {
			controller.countdownSeconds = countdownSeconds
		}
		if tickInterval > 0 {
			controller.tickInterval = tickInterval
		}
		if pollInterval > 0 {
			controller.pollInterval = pollInterval
		}
	}
}
