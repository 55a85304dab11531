package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Controller owns the checkout state machine of one page instance.
// At most one session is live at a time. Its countdown and poller share a
// session goroutine while status lookups run beside it, so a slow gateway
// never holds the countdown back. Every mutation is guarded by the session
// generation, so late gateway responses for a cancelled session are discarded.
type Controller struct {
	id        string
	gateway   Gateway
	fulfiller Fulfiller
	clock     Clock
	fees      FeeCalculator
	reserver  TotalReserver
	logger    TransitionLogger
	recorder  SessionRecorder

	countdownSeconds int
	tickInterval     time.Duration
	pollInterval     time.Duration

	mutex      sync.Mutex
	session    Session
	generation uint64
	deadline   time.Time
	cancel     context.CancelFunc
	done       chan struct{}
	closed     bool
	workers    sync.WaitGroup
}

// NewController wires a Controller.
func NewController(id string, gateway Gateway, fulfiller Fulfiller, clock Clock, options ...ControllerOption) (*Controller, error) {
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return nil, fmt.Errorf("%w: controller id is empty", ErrInvalidControllerConfig)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway dependency is nil", ErrInvalidControllerConfig)
	}
	if fulfiller == nil {
		return nil, fmt.Errorf("%w: fulfiller dependency is nil", ErrInvalidControllerConfig)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidControllerConfig)
	}
	controller := &Controller{
		id:               trimmedID,
		gateway:          gateway,
		fulfiller:        fulfiller,
		clock:            clock,
		fees:             NewFeeCalculator(nil),
		countdownSeconds: DefaultCountdownSeconds,
		tickInterval:     DefaultTickInterval,
		pollInterval:     DefaultPollInterval,
		session:          Session{Status: StatusIdle},
	}
	for _, option := range options {
		if option != nil {
			option(controller)
		}
	}
	return controller, nil
}

// ID returns the controller identifier.
func (controller *Controller) ID() string {
	return controller.id
}

// Snapshot returns a copy of the current session.
func (controller *Controller) Snapshot() Session {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.session
}

// Done is closed once the current session reaches a terminal state or is cancelled.
func (controller *Controller) Done() <-chan struct{} {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	if controller.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return controller.done
}

// Begin creates a QRIS payment for order and starts the countdown and poller.
func (controller *Controller) Begin(ctx context.Context, order Order) (Session, error) {
	controller.mutex.Lock()
	if controller.closed {
		controller.mutex.Unlock()
		return Session{}, ErrControllerClosed
	}
	if controller.session.Status.Live() {
		snapshot := controller.session
		controller.mutex.Unlock()
		return snapshot, ErrSessionActive
	}
	controller.generation++
	generation := controller.generation
	sessionContext, cancel := context.WithCancel(context.WithoutCancel(ctx))
	controller.cancel = cancel
	controller.done = make(chan struct{})
	previous := controller.session.Status
	now := controller.clock.Now()
	controller.session = Session{
		ID:        controller.id + sessionIDDelimiter + strconv.FormatUint(generation, 10),
		Kind:      order.Kind,
		Amount:    order.Amount,
		Quantity:  order.Quantity,
		Owner:     order.Owner,
		Status:    StatusCreating,
		Remaining: controller.countdownSeconds,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created := controller.session
	controller.mutex.Unlock()
	controller.report(sessionContext, TransitionLog{Operation: operationBegin, From: previous, To: StatusCreating}, created)

	fee, total, err := controller.reserveTotal(sessionContext, order.Amount)
	if err != nil {
		snapshot, _ := controller.transition(sessionContext, generation, operationBegin, StatusCreating, StatusFailed, err, func(session *Session) {
			session.Failure = &Failure{Kind: FailureCreate, Message: createFailureMessage}
		})
		return snapshot, err
	}

	qrImageURL, err := controller.gateway.CreatePayment(sessionContext, total)
	if err == nil && strings.TrimSpace(qrImageURL) == "" {
		err = ErrMissingQRImage
	}
	if err != nil {
		err = WrapError(operationBegin, "payment", "create", err)
		snapshot, ok := controller.transition(sessionContext, generation, operationBegin, StatusCreating, StatusFailed, err, func(session *Session) {
			session.Fee = fee
			session.Total = total
			session.Failure = &Failure{Kind: FailureCreate, Message: createFailureMessage}
		})
		if !ok {
			controller.releaseTotal(total)
		}
		return snapshot, err
	}

	snapshot, ok := controller.transition(sessionContext, generation, operationBegin, StatusCreating, StatusPending, nil, func(session *Session) {
		session.Fee = fee
		session.Total = total
		session.QRImageURL = qrImageURL
		controller.deadline = session.UpdatedAt.Add(controller.budget())
	})
	if !ok {
		controller.releaseTotal(total)
		return snapshot, ErrSessionSuperseded
	}
	controller.workers.Add(1)
	go controller.run(sessionContext, generation, total)
	return snapshot, nil
}

// Cancel abandons a pending session and resets the controller to idle.
// No compensating call is made against the gateway.
func (controller *Controller) Cancel(ctx context.Context) (Session, error) {
	controller.mutex.Lock()
	generation := controller.generation
	snapshot := controller.session
	controller.mutex.Unlock()
	if snapshot.Status != StatusPending {
		return snapshot, fmt.Errorf("%w: status %s", ErrNotCancellable, snapshot.Status)
	}
	cancelled, ok := controller.transition(ctx, generation, operationCancel, StatusPending, StatusIdle, nil, nil)
	if !ok {
		return cancelled, fmt.Errorf("%w: status %s", ErrNotCancellable, cancelled.Status)
	}
	return cancelled, nil
}

// Close tears the controller down. A creating or pending session is
// abandoned to idle. A paid session in processing keeps its fulfillment
// running until ctx ends; it then fails with the fulfillment failure so the
// payment is never rolled back to idle.
func (controller *Controller) Close(ctx context.Context) {
	controller.mutex.Lock()
	if controller.closed {
		controller.mutex.Unlock()
		return
	}
	controller.closed = true
	controller.mutex.Unlock()
	for {
		controller.mutex.Lock()
		generation := controller.generation
		status := controller.session.Status
		controller.mutex.Unlock()
		if status != StatusCreating && status != StatusPending {
			break
		}
		if _, ok := controller.transition(ctx, generation, operationCancel, status, StatusIdle, nil, nil); ok {
			break
		}
	}

	finished := make(chan struct{})
	go func() {
		controller.workers.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return
	case <-ctx.Done():
	}
	controller.mutex.Lock()
	generation := controller.generation
	kind := controller.session.Kind
	controller.mutex.Unlock()
	cause := WrapError(operationFulfill, kind.String(), "interrupted", fmt.Errorf("%w: %w", ErrFulfillmentFailed, ErrControllerClosed))
	controller.transition(context.WithoutCancel(ctx), generation, operationFulfill, StatusProcessing, StatusFailed, cause, func(session *Session) {
		session.Failure = &Failure{Kind: FailureFulfillment, Message: fulfillmentFailureMessage}
	})
	<-finished
}

type statusResult struct {
	status PaymentStatus
	err    error
}

func (controller *Controller) run(ctx context.Context, generation uint64, total Amount) {
	defer controller.workers.Done()
	countdown := controller.clock.NewTicker(controller.tickInterval)
	defer countdown.Stop()
	poll := controller.clock.NewTicker(controller.pollInterval)
	defer poll.Stop()

	results := make(chan statusResult, 1)
	inFlight := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-countdown.C():
			remaining, live := controller.tick(generation)
			if !live {
				return
			}
			if remaining > 0 {
				continue
			}
			controller.transition(ctx, generation, operationPoll, StatusPending, StatusFailed, nil, func(session *Session) {
				session.Remaining = 0
				session.Failure = &Failure{Kind: FailureTimeout, Message: timeoutFailureMessage}
			})
			return
		case <-poll.C():
			if inFlight {
				continue
			}
			inFlight = true
			controller.workers.Add(1)
			go controller.lookup(ctx, total, results)
		case result := <-results:
			inFlight = false
			if result.err != nil {
				if ctx.Err() != nil {
					return
				}
				controller.reportPollError(ctx, generation, result.err)
				continue
			}
			if !result.status.Paid {
				continue
			}
			if _, ok := controller.transition(ctx, generation, operationPoll, StatusPending, StatusProcessing, nil, func(session *Session) {
				session.PaymentReference = result.status.Reference
			}); !ok {
				return
			}
			countdown.Stop()
			poll.Stop()
			controller.fulfill(ctx, generation)
			return
		}
	}
}

// lookup asks the gateway for the payment status, bounded by the lookup timeout.
// results is buffered for the single in-flight lookup, so the send never blocks.
func (controller *Controller) lookup(ctx context.Context, total Amount, results chan<- statusResult) {
	defer controller.workers.Done()
	lookupContext, cancel := context.WithTimeout(ctx, controller.lookupTimeout())
	defer cancel()
	status, err := controller.gateway.CheckStatus(lookupContext, total)
	results <- statusResult{status: status, err: err}
}

func (controller *Controller) lookupTimeout() time.Duration {
	return controller.pollInterval - controller.pollInterval/lookupTimeoutDivisor
}

func (controller *Controller) budget() time.Duration {
	return time.Duration(controller.countdownSeconds) * controller.tickInterval
}

func (controller *Controller) tick(generation uint64) (int, bool) {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	if controller.generation != generation || controller.session.Status != StatusPending {
		return 0, false
	}
	if controller.session.Remaining > 0 {
		controller.session.Remaining--
	}
	now := controller.clock.Now()
	if left := controller.ticksUntilDeadline(now); left < controller.session.Remaining {
		controller.session.Remaining = left
	}
	controller.session.UpdatedAt = now
	return controller.session.Remaining, true
}

// ticksUntilDeadline caps the counted ticks by wall time so delayed ticks
// cannot stretch the budget.
func (controller *Controller) ticksUntilDeadline(now time.Time) int {
	if controller.deadline.IsZero() {
		return controller.countdownSeconds
	}
	left := controller.deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + controller.tickInterval - 1) / controller.tickInterval)
}

func (controller *Controller) fulfill(ctx context.Context, generation uint64) {
	controller.mutex.Lock()
	if controller.generation != generation || controller.session.Status != StatusProcessing {
		controller.mutex.Unlock()
		return
	}
	snapshot := controller.session
	controller.mutex.Unlock()

	result, err := controller.fulfiller.Fulfill(ctx, snapshot)
	if err != nil {
		cause := WrapError(operationFulfill, snapshot.Kind.String(), "failed", fmt.Errorf("%w: %w", ErrFulfillmentFailed, err))
		controller.transition(ctx, generation, operationFulfill, StatusProcessing, StatusFailed, cause, func(session *Session) {
			session.Failure = &Failure{Kind: FailureFulfillment, Message: fulfillmentFailureMessage}
		})
		return
	}
	controller.transition(ctx, generation, operationFulfill, StatusProcessing, StatusSuccess, nil, func(session *Session) {
		fulfillment := result
		session.Fulfillment = &fulfillment
	})
}

// transition moves the session from one status to another when the
// generation still matches, then reports it. Terminal and idle targets
// release the reserved total, stop the session goroutine and close Done.
func (controller *Controller) transition(ctx context.Context, generation uint64, operation string, from Status, to Status, cause error, mutate func(session *Session)) (Session, bool) {
	controller.mutex.Lock()
	if controller.generation != generation || controller.session.Status != from {
		snapshot := controller.session
		controller.mutex.Unlock()
		return snapshot, false
	}
	controller.session.Status = to
	controller.session.UpdatedAt = controller.clock.Now()
	if mutate != nil {
		mutate(&controller.session)
	}
	snapshot := controller.session
	finished := to.Terminal() || to == StatusIdle
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	if finished {
		cancel = controller.cancel
		controller.cancel = nil
		done = controller.done
	}
	controller.mutex.Unlock()

	controller.report(ctx, TransitionLog{Operation: operation, From: from, To: to, Error: cause}, snapshot)
	if finished {
		if snapshot.Total > 0 {
			controller.releaseTotal(snapshot.Total)
		}
		if cancel != nil {
			cancel()
		}
		if done != nil {
			close(done)
		}
	}
	return snapshot, true
}

func (controller *Controller) reserveTotal(ctx context.Context, amount Amount) (Amount, Amount, error) {
	ttl := controller.budget() + controller.pollInterval + reservationMargin
	for attempt := 0; attempt < maxTotalAttempts; attempt++ {
		fee := controller.fees.Fee(amount)
		total := amount + fee
		if controller.reserver == nil {
			return fee, total, nil
		}
		reserved, err := controller.reserver.Reserve(ctx, total, ttl)
		if err != nil {
			return 0, 0, WrapError(operationReserve, "total", "reserve", err)
		}
		if reserved {
			return fee, total, nil
		}
	}
	return 0, 0, WrapError(operationReserve, "total", "exhausted", ErrTotalUnavailable)
}

func (controller *Controller) releaseTotal(total Amount) {
	if controller.reserver == nil {
		return
	}
	if err := controller.reserver.Release(context.Background(), total); err != nil && controller.logger != nil {
		controller.logger.LogTransition(context.Background(), TransitionLog{
			Operation: operationReserve,
			Total:     total,
			Error:     WrapError(operationReserve, "total", "release", err),
		})
	}
}

func (controller *Controller) reportPollError(ctx context.Context, generation uint64, err error) {
	if controller.logger == nil {
		return
	}
	controller.mutex.Lock()
	snapshot := controller.session
	current := controller.generation == generation
	controller.mutex.Unlock()
	if !current {
		return
	}
	controller.logger.LogTransition(ctx, TransitionLog{
		Operation: operationPoll,
		SessionID: snapshot.ID,
		Kind:      snapshot.Kind,
		From:      snapshot.Status,
		To:        snapshot.Status,
		Total:     snapshot.Total,
		Error:     WrapError(operationPoll, "payment", "status", err),
	})
}

func (controller *Controller) report(ctx context.Context, entry TransitionLog, snapshot Session) {
	entry.SessionID = snapshot.ID
	entry.Kind = snapshot.Kind
	entry.Total = snapshot.Total
	entry.Failure = snapshot.Failure
	if controller.logger != nil {
		controller.logger.LogTransition(ctx, entry)
	}
	if controller.recorder == nil {
		return
	}
	if err := controller.recorder.RecordSession(ctx, snapshot); err != nil && controller.logger != nil {
		controller.logger.LogTransition(ctx, TransitionLog{
			Operation: entry.Operation,
			SessionID: snapshot.ID,
			Kind:      snapshot.Kind,
			From:      snapshot.Status,
			To:        snapshot.Status,
			Total:     snapshot.Total,
			Error:     err,
		})
	}
}
