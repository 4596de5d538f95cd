package history

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/blob"
	"github.com/joshp123/eufyscope/internal/config"
	"github.com/joshp123/eufyscope/internal/logging"
)

const capturesTable = `
CREATE TABLE IF NOT EXISTS eufy_captures (
	timestamp DateTime64(3),
	device_id LowCardinality(String),
	key LowCardinality(String),
	hash String,
	length UInt32,
	payload String,
	reason LowCardinality(String),
	logged Bool
) ENGINE = MergeTree()
ORDER BY (device_id, key, timestamp)
TTL toDateTime(timestamp) + INTERVAL 180 DAY
`

// Tables lists the schema statements applied on open.
func Tables() []string {
	return []string{capturesTable}
}

const insertCapture = `
INSERT INTO eufy_captures (timestamp, device_id, key, hash, length, payload, reason, logged)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

const selectCaptures = `
SELECT timestamp, device_id, key, hash, length, payload, reason, logged
FROM eufy_captures
WHERE device_id = ? AND key = ?
ORDER BY timestamp DESC
LIMIT ?
`

type conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Close() error
}

// ClickHouseSink archives captures into the eufy_captures table.
type ClickHouseSink struct {
	conn   conn
	logger *zap.Logger
}

func NewClickHouseSink(ctx context.Context, cfg *config.HistoryConfig, logger *zap.Logger) (*ClickHouseSink, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("history addr is required")
	}
	password := ""
	if cfg.PasswordFile != "" {
		secret, err := blob.ReadSecretFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read clickhouse password: %w", err)
		}
		password = secret
	}

	c, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	sink := &ClickHouseSink{conn: c, logger: logging.OrNop(logger)}
	if err := sink.InitSchema(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	sink.logger.Info("history sink connected", zap.String("addr", cfg.Addr), zap.String("database", cfg.Database))
	return sink, nil
}

func (s *ClickHouseSink) InitSchema(ctx context.Context) error {
	for _, stmt := range Tables() {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseSink) Record(ctx context.Context, c Capture) error {
	err := s.conn.Exec(ctx, insertCapture,
		c.Timestamp,
		c.DeviceID,
		c.Key,
		c.Hash,
		uint32(c.Length),
		c.Payload,
		c.Reason,
		c.Logged,
	)
	if err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

// Captures returns the newest limit captures for a device key, oldest first.
func (s *ClickHouseSink) Captures(ctx context.Context, deviceID, key string, limit int) ([]Capture, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.conn.Query(ctx, selectCaptures, deviceID, key, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var out []Capture
	for rows.Next() {
		var c Capture
		var length uint32
		if err := rows.Scan(&c.Timestamp, &c.DeviceID, &c.Key, &c.Hash, &length, &c.Payload, &c.Reason, &c.Logged); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		c.Length = int(length)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read captures: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *ClickHouseSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close clickhouse: %w", err)
	}
	return nil
}
