package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yegors/voice-commander/pkg/logger"
)

// ErrClosed is returned by Start once the controller has been closed
var ErrClosed = errors.New("pipeline: controller closed")

// Config tunes the controller
type Config struct {
	SourceLanguage string
	TargetLanguage string
	// StageTimeout bounds each adapter call; zero leaves it to the adapter.
	StageTimeout time.Duration
	EventBuffer  int
}

// DefaultConfig matches the German → English robot setup
func DefaultConfig() Config {
	return Config{
		SourceLanguage: "de",
		TargetLanguage: "en",
		StageTimeout:   30 * time.Second,
		EventBuffer:    DefaultEventBuffer,
	}
}

// TransactionInfo is a read-only view of a transaction
type TransactionInfo struct {
	ID              TransactionID `json:"id"`
	State           string        `json:"state"`
	CreatedAt       time.Time     `json:"created_at"`
	CancelRequested bool          `json:"cancel_requested"`
	RecognizedText  string        `json:"recognized_text,omitempty"`
	TranslatedText  string        `json:"translated_text,omitempty"`
	Delivery        *DeliveryAck  `json:"delivery,omitempty"`
}

// transaction is owned by the controller; every field except audio is
// guarded by Controller.mu.
type transaction struct {
	machine
	id         TransactionID
	createdAt  time.Time
	audio      AudioBuffer
	snapshot   Snapshot
	recognized string
	translated string
	ack        *DeliveryAck
	cancelled  bool
}

// outcome is the terminal result computed by the worker
type outcome struct {
	state State
	event Event
}

// Controller runs one command transaction at a time on a background worker
type Controller struct {
	recognizer Recognizer
	translator Translator
	deliverer  Deliverer
	snapshots  SnapshotSource
	config     Config
	logger     *logger.Logger
	events     *broker

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan *transaction
	wg     sync.WaitGroup

	mu     sync.Mutex
	active *transaction
	lastID TransactionID
	closed bool
}

// NewController creates a controller and starts its worker
func NewController(
	ctx context.Context,
	recognizer Recognizer,
	translator Translator,
	deliverer Deliverer,
	snapshots SnapshotSource,
	config Config,
	log *logger.Logger,
) (*Controller, error) {
	if recognizer == nil || translator == nil || deliverer == nil {
		return nil, errors.New("pipeline: recognizer, translator and deliverer are required")
	}
	if snapshots == nil {
		return nil, errors.New("pipeline: snapshot source is required")
	}
	if config.SourceLanguage == "" || config.TargetLanguage == "" {
		return nil, errors.New("pipeline: source and target language are required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	workerCtx, workerCancel := context.WithCancel(ctx)

	c := &Controller{
		recognizer: recognizer,
		translator: translator,
		deliverer:  deliverer,
		snapshots:  snapshots,
		config:     config,
		logger:     log.Named("pipeline"),
		events:     newBroker(config.EventBuffer),
		ctx:        workerCtx,
		cancel:     workerCancel,
		jobs:       make(chan *transaction, 1),
	}

	c.wg.Add(1)
	go c.worker()

	return c, nil
}

// Start accepts an utterance and schedules its pipeline. It never blocks on
// the pipeline itself and fails with ErrBusy while another transaction is
// active.
func (c *Controller) Start(audio AudioBuffer) (TransactionID, error) {
	if audio.Len() == 0 {
		return 0, errors.New("pipeline: empty audio buffer")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.ctx.Err() != nil {
		return 0, ErrClosed
	}
	if c.active != nil {
		c.logger.Debug("Rejecting start, transaction in flight",
			logger.Uint64("active_id", uint64(c.active.id)))
		return 0, ErrBusy
	}

	c.lastID++
	tx := &transaction{
		id:        c.lastID,
		createdAt: time.Now().UTC(),
		audio:     audio,
		snapshot:  c.snapshots.Snapshot(),
	}
	if err := tx.advance(StateCapturing); err != nil {
		return 0, err
	}
	c.active = tx

	c.logger.Info("Transaction started",
		logger.Uint64("transaction_id", uint64(tx.id)),
		logger.Int("audio_bytes", audio.Len()),
		logger.Duration("audio_duration", audio.Duration()),
		logger.Bool("delivery_enabled", tx.snapshot.DeliveryEnabled))

	c.events.publish(Event{TransactionID: tx.id, Kind: EventStarted, Timestamp: tx.createdAt})

	// The slot was free, so the worker has already taken the previous job.
	c.jobs <- tx

	return tx.id, nil
}

// Cancel requests cooperative cancellation of the active transaction. It
// takes effect at the next stage boundary and may be called repeatedly.
func (c *Controller) Cancel(id TransactionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := c.active
	if tx == nil || tx.id != id || tx.state.IsTerminal() {
		return ErrNotFound
	}
	if !tx.cancelled {
		tx.cancelled = true
		c.logger.Info("Cancellation requested",
			logger.Uint64("transaction_id", uint64(id)),
			logger.Stringer("state", tx.state))
	}
	return nil
}

// Subscribe returns a stream of all events published from now on
func (c *Controller) Subscribe() *Subscription {
	return c.events.subscribe()
}

// Active returns the in-flight transaction, if any
func (c *Controller) Active() (TransactionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return TransactionInfo{}, false
	}
	return TransactionInfo{
		ID:              c.active.id,
		State:           c.active.state.String(),
		CreatedAt:       c.active.createdAt,
		CancelRequested: c.active.cancelled,
		RecognizedText:  c.active.recognized,
		TranslatedText:  c.active.translated,
		Delivery:        c.active.ack,
	}, true
}

// Close cancels any active transaction, waits for it to report its terminal
// event and stops the worker. Subscriptions are closed afterwards.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.active != nil {
		c.active.cancelled = true
	}
	c.mu.Unlock()

	c.logger.Info("Stopping pipeline controller")
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.events.close()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pipeline worker: %w", ctx.Err())
	}
}

func (c *Controller) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			// Start checks the context under the same lock, so after this
			// drain no further job can be queued. A job accepted just
			// before still owes its terminal event.
			var pending *transaction
			c.mu.Lock()
			select {
			case pending = <-c.jobs:
			default:
			}
			c.mu.Unlock()
			if pending != nil {
				c.run(pending)
			}
			return
		case tx := <-c.jobs:
			c.run(tx)
		}
	}
}

func (c *Controller) run(tx *transaction) {
	log := c.logger.With(logger.Uint64("transaction_id", uint64(tx.id)))
	started := time.Now()

	out := c.execute(tx, log)
	c.finish(tx, out)

	fields := []logger.Field{
		logger.Stringer("state", out.state),
		logger.Duration("elapsed", time.Since(started)),
	}
	if out.event.Failure != nil {
		fields = append(fields,
			logger.String("error_kind", string(out.event.Failure.Kind)),
			logger.String("detail", out.event.Failure.Detail))
		log.Warn("Transaction failed", fields...)
		return
	}
	log.Info("Transaction finished", fields...)
}

// execute walks the stages. Cancellation is checked at every boundary; an
// adapter call that was already running completes but its result is dropped.
func (c *Controller) execute(tx *transaction, log *logger.Logger) outcome {
	if c.cancelRequested(tx) {
		return c.cancelledOutcome(tx)
	}
	if err := c.advance(tx, StateRecognizing); err != nil {
		return c.failedOutcome(err)
	}

	audio := tx.audio
	tx.audio = AudioBuffer{}

	var recognized string
	err := c.call(log, "recognize", func(ctx context.Context) (err error) {
		recognized, err = c.recognizer.Recognize(ctx, audio, c.config.SourceLanguage)
		return err
	})
	if c.cancelRequested(tx) {
		return c.cancelledOutcome(tx)
	}
	if err != nil {
		return c.failedOutcome(classify(err, KindRecognitionUnavailable))
	}
	recognized = strings.TrimSpace(recognized)
	if recognized == "" {
		return c.failedOutcome(Errorf(KindRecognitionUnavailable, "no speech detected"))
	}
	if err := c.advance(tx, StateTranslating); err != nil {
		return c.failedOutcome(err)
	}
	c.record(func() { tx.recognized = recognized })
	c.emit(tx, EventRecognized, recognized)

	var translated string
	err = c.call(log, "translate", func(ctx context.Context) (err error) {
		translated, err = c.translator.Translate(ctx, recognized, c.config.SourceLanguage, c.config.TargetLanguage)
		return err
	})
	if c.cancelRequested(tx) {
		return c.cancelledOutcome(tx)
	}
	if err != nil {
		return c.failedOutcome(classify(err, KindTranslationFailed))
	}
	translated = strings.TrimSpace(translated)
	if translated == "" {
		return c.failedOutcome(Errorf(KindTranslationFailed, "empty translation"))
	}
	c.record(func() { tx.translated = translated })
	c.emit(tx, EventTranslated, translated)

	if !tx.snapshot.DeliveryEnabled {
		log.Debug("Delivery disabled, translation only")
		return outcome{
			state: StateCompleted,
			event: Event{Kind: EventSucceeded, Payload: translated},
		}
	}
	if tx.snapshot.EndpointURL == "" {
		return c.failedOutcome(Errorf(KindDeliveryUnreachable, "no endpoint configured"))
	}
	if c.cancelRequested(tx) {
		return c.cancelledOutcome(tx)
	}
	if err := c.advance(tx, StateDelivering); err != nil {
		return c.failedOutcome(err)
	}
	c.emit(tx, EventDeliveryAttempted, tx.snapshot.EndpointURL)

	var ack DeliveryAck
	err = c.call(log, "deliver", func(ctx context.Context) (err error) {
		ack, err = c.deliverer.Deliver(ctx, tx.snapshot.EndpointURL, translated)
		return err
	})
	if c.cancelRequested(tx) {
		return c.cancelledOutcome(tx)
	}
	if err != nil {
		return c.failedOutcome(classify(err, KindDeliveryUnreachable))
	}
	c.record(func() { tx.ack = &ack })

	return outcome{
		state: StateCompleted,
		event: Event{Kind: EventSucceeded, Payload: strconv.Itoa(ack.StatusCode), Delivered: true},
	}
}

// finish reports the terminal event and frees the slot under one lock, so a
// Start issued by an observer reacting to the event always finds the slot
// free and can never emit ahead of it.
func (c *Controller) finish(tx *transaction, out outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := tx.advance(out.state); err != nil {
		c.logger.Error("Invalid terminal transition", logger.Error(err))
		tx.state = StateFailed
		out.event = Event{Kind: EventFailed, Failure: failureOf(classify(err, KindInvalidTransition))}
	}

	out.event.TransactionID = tx.id
	out.event.Timestamp = time.Now().UTC()
	c.events.publish(out.event)

	if err := tx.advance(StateIdle); err != nil {
		c.logger.Error("Failed to release transaction", logger.Error(err))
	}
	c.active = nil
}

// call runs one adapter under the per-stage deadline
func (c *Controller) call(log *logger.Logger, stage string, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := c.stageContext()
	defer cancel()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s adapter panicked: %v", stage, r)
		}
		log.Debug("Stage finished",
			logger.String("stage", stage),
			logger.Duration("elapsed", time.Since(started)),
			logger.Error(err))
	}()

	return fn(ctx)
}

func (c *Controller) stageContext() (context.Context, context.CancelFunc) {
	if c.config.StageTimeout > 0 {
		return context.WithTimeout(c.ctx, c.config.StageTimeout)
	}
	return context.WithCancel(c.ctx)
}

func (c *Controller) advance(tx *transaction, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tx.advance(to)
}

func (c *Controller) record(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// cancelRequested also reports true once the controller context is done,
// whether through Close or the parent context.
func (c *Controller) cancelRequested(tx *transaction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tx.cancelled || c.ctx.Err() != nil
}

func (c *Controller) emit(tx *transaction, kind EventKind, payload string) {
	c.events.publish(Event{
		TransactionID: tx.id,
		Kind:          kind,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	})
}

func (c *Controller) cancelledOutcome(tx *transaction) outcome {
	c.mu.Lock()
	at := tx.state
	c.mu.Unlock()
	return outcome{
		state: StateCancelled,
		event: Event{Kind: EventCancelled, Payload: at.String()},
	}
}

func (c *Controller) failedOutcome(err error) outcome {
	return outcome{
		state: StateFailed,
		event: Event{Kind: EventFailed, Failure: failureOf(classify(err, KindInvalidTransition))},
	}
}

func failureOf(err *Error) *Failure {
	detail := err.Detail
	if err.Err != nil {
		if detail != "" {
			detail += ": "
		}
		detail += err.Err.Error()
	}
	return &Failure{Kind: err.Kind, Status: err.Status, Detail: detail}
}
