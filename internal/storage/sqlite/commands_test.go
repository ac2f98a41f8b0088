package sqlite

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/yegors/voice-commander/pkg/logger"
)

func newTestStorage(t *testing.T) *CommandStorage {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage, err := NewCommandStorage(db, logger.Wrap(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("NewCommandStorage: %v", err)
	}
	return storage
}

func TestStoreAndGetRecentCommands(t *testing.T) {
	storage := newTestStorage(t)
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	records := []*CommandRecord{
		{RunID: "run-a", TransactionID: 1, State: "Completed", RecognizedText: "Hebe den Würfel auf", TranslatedText: "Pick up the cube", Delivered: true, DeliveryStatus: "200"},
		{RunID: "run-a", TransactionID: 2, State: "Failed", RecognizedText: "Fahr nach links", ErrorKind: "TranslationFailed", ErrorDetail: "status 503"},
		{RunID: "run-a", TransactionID: 3, State: "Cancelled", ErrorDetail: "cancelled while Recognizing"},
	}
	for i, rec := range records {
		rec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		rec.FinishedAt = rec.StartedAt.Add(2 * time.Second)
		id, err := storage.StoreCommand(rec)
		if err != nil {
			t.Fatalf("StoreCommand(%d): %v", i, err)
		}
		if id <= 0 {
			t.Fatalf("StoreCommand(%d) returned id %d", i, id)
		}
	}

	got, err := storage.GetRecentCommands(2)
	if err != nil {
		t.Fatalf("GetRecentCommands: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].TransactionID != 3 || got[1].TransactionID != 2 {
		t.Errorf("order = [%d %d], want [3 2]", got[0].TransactionID, got[1].TransactionID)
	}

	all, err := storage.GetRecentCommands(10)
	if err != nil {
		t.Fatalf("GetRecentCommands: %v", err)
	}
	first := all[len(all)-1]
	if first.TranslatedText != "Pick up the cube" || !first.Delivered || first.DeliveryStatus != "200" {
		t.Errorf("round trip mismatch: %+v", first)
	}
	if !first.FinishedAt.Equal(records[0].FinishedAt) {
		t.Errorf("FinishedAt = %v, want %v", first.FinishedAt, records[0].FinishedAt)
	}
	if first.ErrorKind != "" {
		t.Errorf("ErrorKind = %q, want empty", first.ErrorKind)
	}
}

func TestStoreCommandRejectsDuplicateTransaction(t *testing.T) {
	storage := newTestStorage(t)
	now := time.Now()
	rec := &CommandRecord{RunID: "run-a", TransactionID: 7, State: "Completed", StartedAt: now, FinishedAt: now}

	if _, err := storage.StoreCommand(rec); err != nil {
		t.Fatalf("StoreCommand: %v", err)
	}
	if _, err := storage.StoreCommand(rec); err == nil {
		t.Fatal("expected unique constraint error for repeated transaction")
	}

	rec.RunID = "run-b"
	if _, err := storage.StoreCommand(rec); err != nil {
		t.Fatalf("same transaction id in another run should be accepted: %v", err)
	}
}

func TestGetCommandsByState(t *testing.T) {
	storage := newTestStorage(t)
	now := time.Now()
	states := []string{"Completed", "Failed", "Completed", "Cancelled"}
	for i, state := range states {
		rec := &CommandRecord{RunID: "run", TransactionID: uint64(i + 1), State: state, StartedAt: now, FinishedAt: now.Add(time.Duration(i) * time.Second)}
		if _, err := storage.StoreCommand(rec); err != nil {
			t.Fatalf("StoreCommand: %v", err)
		}
	}

	tests := []struct {
		state string
		want  int
	}{
		{"Completed", 2},
		{"Failed", 1},
		{"Cancelled", 1},
		{"Delivering", 0},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			got, err := storage.GetCommandsByState(tt.state, 10)
			if err != nil {
				t.Fatalf("GetCommandsByState: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
			for _, rec := range got {
				if rec.State != tt.state {
					t.Errorf("record state = %q, want %q", rec.State, tt.state)
				}
			}
		})
	}
}

func TestGetCommandsByTimeRange(t *testing.T) {
	storage := newTestStorage(t)
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		rec := &CommandRecord{RunID: "run", TransactionID: uint64(i + 1), State: "Completed", StartedAt: at, FinishedAt: at}
		if _, err := storage.StoreCommand(rec); err != nil {
			t.Fatalf("StoreCommand: %v", err)
		}
	}

	got, err := storage.GetCommandsByTimeRange(base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("GetCommandsByTimeRange: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].TransactionID != 4 || got[2].TransactionID != 2 {
		t.Errorf("unexpected order: first=%d last=%d", got[0].TransactionID, got[2].TransactionID)
	}
}
