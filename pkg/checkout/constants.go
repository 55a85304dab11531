package checkout

import "time"

const (
	operationBegin   = "begin"
	operationPoll    = "poll"
	operationFulfill = "fulfill"
	operationCancel  = "cancel"
	operationReserve = "reserve"

	// DefaultCountdownSeconds is the payment budget of a pending session.
	DefaultCountdownSeconds = 600
	// DefaultPollInterval is the delay between payment status lookups.
	DefaultPollInterval = 5 * time.Second
	// DefaultTickInterval is the countdown resolution.
	DefaultTickInterval = time.Second

	feeRateMin         = 0.01
	feeRateMax         = 0.05
	maxTotalAttempts   = 8
	sessionIDDelimiter = "-"

	// lookupTimeoutDivisor keeps a status lookup a fifth shorter than the poll interval.
	lookupTimeoutDivisor = 5
	// reservationMargin keeps a total reserved past the countdown for payment creation.
	reservationMargin = time.Minute

	fulfillmentFailureMessage = "payment received but fulfillment failed, contact support"
	timeoutFailureMessage     = "payment was not received before the countdown ended"
	createFailureMessage      = "payment could not be created"
)
