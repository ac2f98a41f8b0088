package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/yegors/voice-commander/pkg/logger"
)

const (
	germanCommand  = "Hebe den Würfel auf"
	englishCommand = "Pick up the cube"
	testEndpoint   = "https://robot.example/command"
)

type mutableSnapshot struct {
	mu sync.Mutex
	s  Snapshot
}

func (m *mutableSnapshot) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

func (m *mutableSnapshot) set(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
}

type recordingDeliverer struct {
	calls     atomic.Int32
	endpoints chan string
	ack       DeliveryAck
	err       error
}

func newRecordingDeliverer(ack DeliveryAck, err error) *recordingDeliverer {
	return &recordingDeliverer{endpoints: make(chan string, 4), ack: ack, err: err}
}

func (d *recordingDeliverer) Deliver(_ context.Context, endpoint, _ string) (DeliveryAck, error) {
	d.calls.Add(1)
	d.endpoints <- endpoint
	return d.ack, d.err
}

func staticRecognizer(text string, err error) RecognizerFunc {
	return func(context.Context, AudioBuffer, string) (string, error) { return text, err }
}

func staticTranslator(text string, err error) TranslatorFunc {
	return func(context.Context, string, string, string) (string, error) { return text, err }
}

func testAudio(t *testing.T) AudioBuffer {
	t.Helper()
	audio, err := NewAudioBuffer(make([]byte, 3200), 16000)
	if err != nil {
		t.Fatalf("NewAudioBuffer: %v", err)
	}
	return audio
}

func newTestController(t *testing.T, r Recognizer, tr Translator, d Deliverer, snaps SnapshotSource, mutate ...func(*Config)) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewController(context.Background(), r, tr, d, snaps, cfg, logger.Wrap(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

// collect reads events for id until its terminal event arrives
func collect(t *testing.T, sub *Subscription, id TransactionID) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d events", len(events))
			}
			if ev.TransactionID != id {
				continue
			}
			events = append(events, ev)
			if ev.Kind.IsTerminal() {
				return events
			}
		case <-timeout:
			t.Fatalf("timed out waiting for terminal event, got %v", kindsOf(events))
		}
	}
}

func kindsOf(events []Event) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func assertKinds(t *testing.T, events []Event, want ...EventKind) {
	t.Helper()
	got := kindsOf(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTranslationOnlyMode(t *testing.T) {
	d := newRecordingDeliverer(DeliveryAck{StatusCode: 200}, nil)
	c := newTestController(t,
		staticRecognizer(germanCommand, nil),
		staticTranslator(englishCommand, nil),
		d,
		StaticSnapshot{EndpointURL: testEndpoint, DeliveryEnabled: false})

	sub := c.Subscribe()
	defer sub.Close()

	id, err := c.Start(testAudio(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := collect(t, sub, id)
	assertKinds(t, events, EventStarted, EventRecognized, EventTranslated, EventSucceeded)
	if events[1].Payload != germanCommand {
		t.Errorf("recognized payload = %q", events[1].Payload)
	}
	if events[2].Payload != englishCommand {
		t.Errorf("translated payload = %q", events[2].Payload)
	}
	if events[3].Delivered {
		t.Error("terminal event reports delivery in translation-only mode")
	}
	if n := d.calls.Load(); n != 0 {
		t.Errorf("deliverer invoked %d times", n)
	}
}

func TestDeliverySucceeds(t *testing.T) {
	d := newRecordingDeliverer(DeliveryAck{StatusCode: 200, Body: "ok"}, nil)
	c := newTestController(t,
		staticRecognizer(germanCommand, nil),
		staticTranslator(englishCommand, nil),
		d,
		StaticSnapshot{EndpointURL: testEndpoint, DeliveryEnabled: true})

	sub := c.Subscribe()
	defer sub.Close()

	id, err := c.Start(testAudio(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := collect(t, sub, id)
	assertKinds(t, events, EventStarted, EventRecognized, EventTranslated, EventDeliveryAttempted, EventSucceeded)
	if events[3].Payload != testEndpoint {
		t.Errorf("delivery attempted payload = %q", events[3].Payload)
	}
	last := events[4]
	if !last.Delivered || last.Payload != "200" {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestRecognitionFailureShortCircuits(t *testing.T) {
	translatorCalled := false
	c := newTestController(t,
		staticRecognizer("", Errorf(KindRecognitionUnavailable, "provider unreachable")),
		TranslatorFunc(func(context.Context, string, string, string) (string, error) {
			translatorCalled = true
			return englishCommand, nil
		}),
		newRecordingDeliverer(DeliveryAck{}, nil),
		StaticSnapshot{EndpointURL: testEndpoint, DeliveryEnabled: true})

	sub := c.Subscribe()
	defer sub.Close()

	id, err := c.Start(testAudio(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := collect(t, sub, id)
	assertKinds(t, events, EventStarted, EventFailed)
	if events[1].Failure == nil || events[1].Failure.Kind != KindRecognitionUnavailable {
		t.Errorf("failure = %+v", events[1].Failure)
	}
	if translatorCalled {
		t.Error("translator invoked after recognition failure")
	}
}

func TestEmptyRecognitionIsUnavailable(t *testing.T) {
	c := newTestController(t,
		staticRecognizer("   ", nil),
		staticTranslator(englishCommand, nil),
		newRecordingDeliverer(DeliveryAck{}, nil),
		StaticSnapshot{})

	sub := c.Subscribe()
	defer sub.Close()

	id, _ := c.Start(testAudio(t))
	events := collect(t, sub, id)
	assertKinds(t, events, EventStarted, EventFailed)
	if events[1].Failure.Kind != KindRecognitionUnavailable {
		t.Errorf("kind = %s", events[1].Failure.Kind)
	}
}

func TestCancelDuringTranslation(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	d := newRecordingDeliverer(DeliveryAck{StatusCode: 200}, nil)

	c := newTestController(t,
		staticRecognizer(germanCommand, nil),
		TranslatorFunc(func(context.Context, string, string, string) (string, error) {
			close(entered)
			<-release
			return englishCommand, nil
		}),
		d,
		StaticSnapshot{EndpointURL: testEndpoint, DeliveryEnabled: true})

	sub := c.Subscribe()
	defer sub.Close()

	id, err := c.Start(testAudio(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-entered
	if info, ok := c.Active(); !ok || info.State != StateTranslating.String() {
		t.Fatalf("Active() = %+v, %v", info, ok)
	}
	if err := c.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := c.Cancel(id); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	close(release)

	events := collect(t, sub, id)
	assertKinds(t, events, EventStarted, EventRecognized, EventCancelled)
	if events[2].Payload != StateTranslating.String() {
		t.Errorf("cancelled payload = %q", events[2].Payload)
	}
	if n := d.calls.Load(); n != 0 {
		t.Errorf("deliverer invoked %d times after cancel", n)
	}
}

func TestCancelDuringDelivery(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	c := newTestController(t,
		staticRecognizer(germanCommand, nil),
		staticTranslator(englishCommand, nil),
		DelivererFunc(func(context.Context, string, string) (DeliveryAck, error) {
			close(entered)
			<-release
			return DeliveryAck{StatusCode: 200}, nil
		}),
		StaticSnapshot{EndpointURL: testEndpoint, DeliveryEnabled: true})

	sub := c.Subscribe()
	defer sub.Close()

	id, err := c.Start(testAudio(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-entered
	if err := c.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	events := collect(t, sub, id)
	assertKinds(t, events, EventStarted, EventRecognized, EventTranslated, EventDeliveryAttempted, EventCancelled)
	if events[4].Payload != StateDelivering.String() || events[4].Delivered {
		t.Errorf("cancelled event = %+v", events[4])
	}
	if _, ok := c.Active(); ok {
		t.Error("transaction still active after cancellation")
	}
}

func TestDeliveryRejected(t *testing.T) {
	d := newRecordingDeliverer(DeliveryAck{}, Errorf(KindDeliveryRejected, "internal error").WithStatus("500"))
	c := newTestController(t,
		staticRecognizer(germanCommand, nil),
		staticTranslator(englishCommand, nil),
		d,
		StaticSnapshot{EndpointURL: testEndpoint, DeliveryEnabled: true})

	sub := c.Subscribe()
	defer sub.Close()

	id, _ := c.Start(testAudio(t))
	events := collect(t, sub, id)
	assertKinds(t, events, EventStarted, EventRecognized, EventTranslated, EventDeliveryAttempted, EventFailed)

	f := events[4].Failure
	if f == nil || f.Kind != KindDeliveryRejected || f.Status != "500" {
		t.Errorf("failure = %+v", f)
	}
}

func TestUnclassifiedAdapterErrorsUseStageKind(t *testing.T) {
	tests := []struct {
		name string
		r    Recognizer
		tr   Translator
		d    Deliverer
		want ErrorKind
	}{
		{
			name: "translate",
			r:    staticRecognizer(germanCommand, nil),
			tr:   staticTranslator("", errors.New("quota exceeded")),
			d:    newRecordingDeliverer(DeliveryAck{}, nil),
			want: KindTranslationFailed,
		},
		{
			name: "deliver",
			r:    staticRecognizer(germanCommand, nil),
			tr:   staticTranslator(englishCommand, nil),
			d:    newRecordingDeliverer(DeliveryAck{}, errors.New("connection refused")),
			want: KindDeliveryUnreachable,
		},
		{
			name: "panic",
			r: RecognizerFunc(func(context.Context, AudioBuffer, string) (string, error) {
				panic("boom")
			}),
			tr:   staticTranslator(englishCommand, nil),
			d:    newRecordingDeliverer(DeliveryAck{}, nil),
			want: KindRecognitionUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, tt.r, tt.tr, tt.d, StaticSnapshot{EndpointURL: testEndpoint, DeliveryEnabled: true})
			sub := c.Subscribe()
			defer sub.Close()

			id, _ := c.Start(testAudio(t))
			events := collect(t, sub, id)
			last := events[len(events)-1]
			if last.Kind != EventFailed || last.Failure.Kind != tt.want {
				t.Errorf("terminal = %+v, failure = %+v", last, last.Failure)
			}
		})
	}
}

func TestStartWhileActiveIsBusy(t *testing.T) {
	release := make(chan struct{})
	c := newTestController(t,
		RecognizerFunc(func(context.Context, AudioBuffer, string) (string, error) {
			<-release
			return germanCommand, nil
		}),
		staticTranslator(englishCommand, nil),
		newRecordingDeliverer(DeliveryAck{}, nil),
		StaticSnapshot{})

	sub := c.Subscribe()
	defer sub.Close()

	first, err := c.Start(testAudio(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.Start(testAudio(t)); !errors.Is(err, ErrBusy) {
			t.Fatalf("Start while active = %v, want ErrBusy", err)
		}
	}
	close(release)
	collect(t, sub, first)

	second, err := c.Start(testAudio(t))
	if err != nil {
		t.Fatalf("Start after terminal: %v", err)
	}
	if second != first+1 {
		t.Errorf("second id = %d, want %d (busy starts must not allocate ids)", second, first+1)
	}
	collect(t, sub, second)
}

func TestObserverCanRestartFromTerminalEvent(t *testing.T) {
	c := newTestController(t,
		staticRecognizer(germanCommand, nil),
		staticTranslator(englishCommand, nil),
		newRecordingDeliverer(DeliveryAck{}, nil),
		StaticSnapshot{})

	sub := c.Subscribe()
	defer sub.Close()

	id, _ := c.Start(testAudio(t))
	for i := 0; i < 5; i++ {
		collect(t, sub, id)
		next, err := c.Start(testAudio(t))
		if err != nil {
			t.Fatalf("Start right after terminal event: %v", err)
		}
		id = next
	}
	collect(t, sub, id)
}

func TestCancelAfterTerminalIsNotFound(t *testing.T) {
	c := newTestController(t,
		staticRecognizer(germanCommand, nil),
		staticTranslator(englishCommand, nil),
		newRecordingDeliverer(DeliveryAck{}, nil),
		StaticSnapshot{})

	sub := c.Subscribe()
	defer sub.Close()

	id, _ := c.Start(testAudio(t))
	collect(t, sub, id)

	for i := 0; i < 2; i++ {
		if err := c.Cancel(id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Cancel after terminal = %v, want ErrNotFound", err)
		}
	}
	if err := c.Cancel(id + 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel unknown id = %v, want ErrNotFound", err)
	}
	assertNoEvent(t, sub)
}

func TestSnapshotIsTakenOncePerTransaction(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	snaps := &mutableSnapshot{s: Snapshot{EndpointURL: testEndpoint, DeliveryEnabled: true}}
	d := newRecordingDeliverer(DeliveryAck{StatusCode: 200}, nil)

	c := newTestController(t,
		RecognizerFunc(func(context.Context, AudioBuffer, string) (string, error) {
			close(entered)
			<-release
			return germanCommand, nil
		}),
		staticTranslator(englishCommand, nil),
		d,
		snaps)

	sub := c.Subscribe()
	defer sub.Close()

	id, _ := c.Start(testAudio(t))
	<-entered
	snaps.set(Snapshot{EndpointURL: "https://other.example/command", DeliveryEnabled: false})
	close(release)

	events := collect(t, sub, id)
	assertKinds(t, events, EventStarted, EventRecognized, EventTranslated, EventDeliveryAttempted, EventSucceeded)
	if got := <-d.endpoints; got != testEndpoint {
		t.Errorf("delivered to %q, want %q", got, testEndpoint)
	}
}

func TestStageTimeout(t *testing.T) {
	c := newTestController(t,
		RecognizerFunc(func(ctx context.Context, _ AudioBuffer, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
		staticTranslator(englishCommand, nil),
		newRecordingDeliverer(DeliveryAck{}, nil),
		StaticSnapshot{},
		func(cfg *Config) { cfg.StageTimeout = 20 * time.Millisecond })

	sub := c.Subscribe()
	defer sub.Close()

	id, _ := c.Start(testAudio(t))
	events := collect(t, sub, id)
	last := events[len(events)-1]
	if last.Kind != EventFailed || last.Failure.Kind != KindRecognitionUnavailable {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestCloseCancelsActiveTransaction(t *testing.T) {
	entered := make(chan struct{})
	cfg := DefaultConfig()
	c, err := NewController(context.Background(),
		RecognizerFunc(func(ctx context.Context, _ AudioBuffer, _ string) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		}),
		staticTranslator(englishCommand, nil),
		newRecordingDeliverer(DeliveryAck{}, nil),
		StaticSnapshot{},
		cfg,
		logger.Wrap(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	sub := c.Subscribe()
	id, _ := c.Start(testAudio(t))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var last Event
	for ev := range sub.Events() {
		if ev.TransactionID == id {
			last = ev
		}
	}
	if last.Kind != EventCancelled {
		t.Errorf("last event = %+v, want cancelled", last)
	}
	if _, err := c.Start(testAudio(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestNewControllerValidates(t *testing.T) {
	r := staticRecognizer("", nil)
	tr := staticTranslator("", nil)
	d := newRecordingDeliverer(DeliveryAck{}, nil)

	if _, err := NewController(context.Background(), nil, tr, d, StaticSnapshot{}, DefaultConfig(), nil); err == nil {
		t.Error("expected error for missing recognizer")
	}
	if _, err := NewController(context.Background(), r, tr, d, nil, DefaultConfig(), nil); err == nil {
		t.Error("expected error for missing snapshot source")
	}
	if _, err := NewController(context.Background(), r, tr, d, StaticSnapshot{}, Config{}, nil); err == nil {
		t.Error("expected error for missing languages")
	}
}

func TestStartRejectsEmptyAudio(t *testing.T) {
	c := newTestController(t,
		staticRecognizer(germanCommand, nil),
		staticTranslator(englishCommand, nil),
		newRecordingDeliverer(DeliveryAck{}, nil),
		StaticSnapshot{})

	if _, err := c.Start(AudioBuffer{}); err == nil {
		t.Fatal("expected error for empty audio")
	}
	if _, ok := c.Active(); ok {
		t.Error("empty audio must not occupy the slot")
	}
}

func newControllerWithParent(t *testing.T, parent context.Context, r Recognizer) *Controller {
	t.Helper()
	c, err := NewController(parent, r,
		staticTranslator(englishCommand, nil),
		newRecordingDeliverer(DeliveryAck{}, nil),
		StaticSnapshot{},
		DefaultConfig(),
		logger.Wrap(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func TestStartAfterParentContextDoneIsClosed(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	c := newControllerWithParent(t, parent, staticRecognizer(germanCommand, nil))

	sub := c.Subscribe()
	defer sub.Close()

	cancel()

	for i := 0; i < 2; i++ {
		if _, err := c.Start(testAudio(t)); !errors.Is(err, ErrClosed) {
			t.Fatalf("Start #%d after parent cancel = %v, want ErrClosed", i+1, err)
		}
	}
	if _, ok := c.Active(); ok {
		t.Error("rejected start left an active transaction")
	}
	assertNoEvent(t, sub)
}

func TestParentContextDoneCancelsActiveTransaction(t *testing.T) {
	entered := make(chan struct{})
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newControllerWithParent(t, parent, RecognizerFunc(func(ctx context.Context, _ AudioBuffer, _ string) (string, error) {
		close(entered)
		<-ctx.Done()
		return "", ctx.Err()
	}))

	sub := c.Subscribe()
	defer sub.Close()

	id, err := c.Start(testAudio(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-entered
	cancel()

	events := collect(t, sub, id)
	assertKinds(t, events, EventStarted, EventCancelled)
	if _, ok := c.Active(); ok {
		t.Error("transaction still active after its terminal event")
	}
	if _, err := c.Start(testAudio(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after parent cancel = %v, want ErrClosed", err)
	}
}
