package sqlite

import "time"

// CommandRecord is one finished command transaction
type CommandRecord struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"run_id"`
	TransactionID  uint64    `json:"transaction_id"`
	State          string    `json:"state"` // "Completed", "Failed", "Cancelled"
	RecognizedText string    `json:"recognized_text,omitempty"`
	TranslatedText string    `json:"translated_text,omitempty"`
	Delivered      bool      `json:"delivered"`
	DeliveryStatus string    `json:"delivery_status,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}
