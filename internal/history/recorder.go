package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/internal/storage/sqlite"
	"github.com/yegors/voice-commander/pkg/logger"
)

// EventSource is the part of the controller the recorder needs
type EventSource interface {
	Subscribe() *pipeline.Subscription
}

// CommandStore persists finished commands
type CommandStore interface {
	StoreCommand(record *sqlite.CommandRecord) (int64, error)
}

// ErrAlreadyStarted is returned by a second Start
var ErrAlreadyStarted = errors.New("history: recorder already started")

// Recorder turns the controller's event stream into history rows, one per
// finished transaction
type Recorder struct {
	ctx     context.Context
	cancel  context.CancelFunc
	source  EventSource
	store   CommandStore
	runID   string
	logger  *logger.Logger
	wg      sync.WaitGroup
	started atomic.Bool
	pending map[pipeline.TransactionID]*sqlite.CommandRecord
}

// NewRecorder creates a recorder. Every process run gets a fresh run ID
// since transaction IDs restart at 1.
func NewRecorder(ctx context.Context, source EventSource, store CommandStore, log *logger.Logger) *Recorder {
	recCtx, recCancel := context.WithCancel(ctx)

	return &Recorder{
		ctx:     recCtx,
		cancel:  recCancel,
		source:  source,
		store:   store,
		runID:   uuid.NewString(),
		logger:  log.Named("history"),
		pending: make(map[pipeline.TransactionID]*sqlite.CommandRecord),
	}
}

// RunID identifies this process run in stored records
func (r *Recorder) RunID() string { return r.runID }

// Start subscribes and begins recording. The subscription is taken before
// Start returns so no transaction started afterwards is missed.
// A recorder runs once: Start fails if it was already started or its context
// is done.
func (r *Recorder) Start() error {
	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("history: recorder stopped: %w", err)
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	sub := r.source.Subscribe()

	r.logger.Info("Starting command history recorder", logger.String("run_id", r.runID))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				sub.Close()
				r.logger.Info("Command history recorder stopped")
				return
			case ev, ok := <-sub.Events():
				if !ok {
					if err := sub.Err(); err != nil {
						r.logger.Warn("Recorder fell behind, resubscribing", logger.Error(err))
						r.pending = make(map[pipeline.TransactionID]*sqlite.CommandRecord)
						sub = r.source.Subscribe()
						continue
					}
					r.logger.Info("Event stream closed, recorder exiting")
					return
				}
				r.handle(ev)
			}
		}
	}()
	return nil
}

// Stop stops recording and waits for the loop to exit
func (r *Recorder) Stop() error {
	r.cancel()
	r.wg.Wait()
	return nil
}

func (r *Recorder) handle(ev pipeline.Event) {
	record, ok := r.pending[ev.TransactionID]
	if !ok {
		if ev.Kind != pipeline.EventStarted {
			// Joined mid-transaction after a resubscribe
			return
		}
		record = &sqlite.CommandRecord{
			RunID:         r.runID,
			TransactionID: uint64(ev.TransactionID),
			StartedAt:     ev.Timestamp,
		}
		r.pending[ev.TransactionID] = record
	}

	switch ev.Kind {
	case pipeline.EventRecognized:
		record.RecognizedText = ev.Payload
	case pipeline.EventTranslated:
		record.TranslatedText = ev.Payload
	case pipeline.EventSucceeded:
		record.State = pipeline.StateCompleted.String()
		record.Delivered = ev.Delivered
		if ev.Delivered {
			record.DeliveryStatus = ev.Payload
		}
	case pipeline.EventFailed:
		record.State = pipeline.StateFailed.String()
		if f := ev.Failure; f != nil {
			record.ErrorKind = string(f.Kind)
			record.ErrorDetail = f.Detail
			switch {
			case f.Kind == pipeline.KindDeliveryRejected:
				record.DeliveryStatus = f.Status
			case f.Status != "" && f.Detail != "":
				record.ErrorDetail = fmt.Sprintf("%s (status %s)", f.Detail, f.Status)
			case f.Status != "":
				record.ErrorDetail = "status " + f.Status
			}
		}
	case pipeline.EventCancelled:
		record.State = pipeline.StateCancelled.String()
		record.ErrorDetail = fmt.Sprintf("cancelled while %s", ev.Payload)
	}

	if !ev.Kind.IsTerminal() {
		return
	}

	delete(r.pending, ev.TransactionID)
	record.FinishedAt = ev.Timestamp
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now().UTC()
	}

	id, err := r.store.StoreCommand(record)
	if err != nil {
		r.logger.Error("Failed to store command",
			logger.Uint64("transaction_id", record.TransactionID),
			logger.Error(err))
		return
	}
	record.ID = id
}
