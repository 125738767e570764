// Package dbtest opens isolated in-memory sqlite databases carrying the
// payment schema, for repository and handler tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/pixpay-backend/pkg/db"
)

var seq atomic.Int64

const transactionsDDL = `
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  correlation_id TEXT NOT NULL UNIQUE,
  provider_transaction_id TEXT,
  type TEXT NOT NULL DEFAULT 'pix_in',
  amount TEXT NOT NULL,
  fee TEXT NOT NULL,
  net_amount TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payer_name TEXT NOT NULL,
  payer_document TEXT,
  payer_email TEXT,
  payer_phone TEXT,
  qr_code_url TEXT NOT NULL DEFAULT '',
  qr_code_text TEXT NOT NULL DEFAULT '',
  payment_link_url TEXT NOT NULL DEFAULT '',
  description TEXT,
  metadata TEXT,
  user_id TEXT,
  expires_at DATETIME,
  paid_at DATETIME,
  last_swept_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`

const outboxDDL = `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`

// Open returns a fresh database private to the calling test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig(nil))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// One connection keeps the in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, ddl := range []string{transactionsDDL, outboxDDL} {
		if err := conn.Exec(ddl).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// Client wraps Open in a db.Client so WithTx is available.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.FromConn(Open(t))
}
