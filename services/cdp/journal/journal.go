package journal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"aerocdp/core/events"
	"aerocdp/native/oracle"
)

// ErrDigestMismatch is returned when an idempotency key is reused for a
// different request.
var ErrDigestMismatch = errors.New("journal: idempotency key reused with a different request")

// Journal is the SQL audit store for committed events, accepted prices and
// idempotent API responses.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the configured driver ("sqlite" or "postgres") and
// migrates the schema.
func Open(driver, dsn string) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: nil database")
	}
	if err := db.AutoMigrate(models()...); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, logger: slog.Default(), now: time.Now}, nil
}

// SetLogger overrides the logger used for write failures on Emit.
func (j *Journal) SetLogger(logger *slog.Logger) {
	if j != nil && logger != nil {
		j.logger = logger
	}
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Only events that render attributes are
// stored; write failures are logged because emitters cannot fail.
func (j *Journal) Emit(e events.Event) {
	if j == nil || e == nil {
		return
	}
	if err := j.Append(context.Background(), e); err != nil {
		j.logger.Error("journal append failed", "type", e.EventType(), "error", err)
	}
}

// Append stores e.
func (j *Journal) Append(ctx context.Context, e events.Event) error {
	typed, ok := e.(events.Typed)
	if !ok {
		return nil
	}
	rendered := typed.Event()
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return fmt.Errorf("journal: encode attributes: %w", err)
	}
	record := EventRecord{
		EventID:    uuid.NewString(),
		Type:       rendered.Type,
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	return j.db.WithContext(ctx).Create(&record).Error
}

// Events lists stored events with ID greater than after, oldest first. An
// empty eventType matches every type.
func (j *Journal) Events(ctx context.Context, eventType string, after uint64, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := j.db.WithContext(ctx).Where("id > ?", after)
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var out []EventRecord
	if err := query.Order("id asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: list events: %w", err)
	}
	return out, nil
}

// RecordPrice implements oracle.Recorder.
func (j *Journal) RecordPrice(ctx context.Context, data oracle.PriceData) error {
	record := PriceRecord{
		Denom:      data.Denom,
		Price:      data.Price,
		Decimal:    data.Decimal,
		Confidence: data.Confidence,
		Exponent:   data.Exponent,
		Timestamp:  data.Timestamp,
		CreatedAt:  j.now().UTC(),
	}
	return j.db.WithContext(ctx).Create(&record).Error
}

// Prices returns the newest quotes recorded for denom, newest first.
func (j *Journal) Prices(ctx context.Context, denom string, limit int) ([]PriceRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []PriceRecord
	err := j.db.WithContext(ctx).
		Where("denom = ?", strings.ToLower(strings.TrimSpace(denom))).
		Order("id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("journal: list prices: %w", err)
	}
	return out, nil
}

// Digest fingerprints a request so replays can be matched to their key.
func Digest(method, path string, body []byte) string {
	h := blake3.New(32, nil)
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the stored response for key, or nil when none exists. A
// stored record with a different digest yields ErrDigestMismatch.
func (j *Journal) Lookup(ctx context.Context, key, digest string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	err := j.db.WithContext(ctx).First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: lookup idempotency key: %w", err)
	}
	if record.Digest != digest {
		return nil, ErrDigestMismatch
	}
	return &record, nil
}

// Remember stores the response served for an idempotent request.
func (j *Journal) Remember(ctx context.Context, record *IdempotencyRecord) error {
	if record == nil || record.Key == "" {
		return errors.New("journal: idempotency key required")
	}
	if record.RequestID == "" {
		record.RequestID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = j.now().UTC()
	}
	return j.db.WithContext(ctx).Create(record).Error
}
