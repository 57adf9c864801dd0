package journal

import "time"

// EventRecord is one committed engine event.
type EventRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	EventID    string `gorm:"size:36;uniqueIndex"`
	Type       string `gorm:"size:64;index"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// PriceRecord is one accepted oracle quote.
type PriceRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Denom      string `gorm:"size:32;index"`
	Price      uint64
	Decimal    uint8
	Confidence uint64
	Exponent   int32
	Timestamp  int64
	CreatedAt  time.Time
}

// IdempotencyRecord stores the response served for an Idempotency-Key so a
// retried request replays it instead of executing twice.
type IdempotencyRecord struct {
	Key       string `gorm:"primaryKey;size:128"`
	Digest    string `gorm:"size:64"`
	RequestID string `gorm:"size:36"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:256"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

func models() []any {
	return []any{&EventRecord{}, &PriceRecord{}, &IdempotencyRecord{}}
}
