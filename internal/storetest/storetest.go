// Package storetest opens an in-memory SQLite store with the production
// table layout for service tests.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/referrals/internal/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// Epoch is the default fake-clock start for tests.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var schema = []string{
	`CREATE TABLE partners (
		id BIGINT PRIMARY KEY,
		account_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		email TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		commission_rate TEXT NOT NULL,
		reviewed_by TEXT,
		review_note TEXT,
		approved_at DATETIME,
		rejected_at DATETIME,
		status_changed_at DATETIME,
		total_referrals BIGINT NOT NULL DEFAULT 0,
		total_conversions BIGINT NOT NULL DEFAULT 0,
		commission_earned BIGINT NOT NULL DEFAULT 0,
		commission_paid BIGINT NOT NULL DEFAULT 0,
		commission_reversed BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_partners_account_id ON partners(account_id)`,
	`CREATE TABLE referral_codes (
		code TEXT PRIMARY KEY,
		partner_id BIGINT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		usage_count BIGINT NOT NULL DEFAULT 0,
		last_used_at DATETIME,
		description TEXT,
		created_at DATETIME NOT NULL,
		disabled_at DATETIME
	)`,
	`CREATE TABLE attributions (
		id BIGINT PRIMARY KEY,
		identity_id TEXT NOT NULL,
		partner_id BIGINT NOT NULL,
		code TEXT NOT NULL,
		commission_rate TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'signup',
		metadata TEXT NOT NULL DEFAULT '{}',
		conversion_value BIGINT,
		currency TEXT,
		commission_earned BIGINT,
		payment_id TEXT,
		subscription_id TEXT,
		plan_id TEXT,
		signup_at DATETIME NOT NULL,
		converted_at DATETIME,
		subscribed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_attributions_identity ON attributions(identity_id)`,
	`CREATE TABLE payout_batches (
		id BIGINT PRIMARY KEY,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		total_amount BIGINT NOT NULL DEFAULT 0,
		entry_count INTEGER NOT NULL DEFAULT 0,
		partner_count INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		paid_at DATETIME
	)`,
	`CREATE TABLE payout_items (
		id BIGINT PRIMARY KEY,
		batch_id BIGINT NOT NULL,
		partner_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		entry_count INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payout_items_batch_partner ON payout_items(batch_id, partner_id)`,
	`CREATE TABLE commission_entries (
		id BIGINT PRIMARY KEY,
		partner_id BIGINT NOT NULL,
		attribution_id BIGINT NOT NULL,
		payment_id TEXT NOT NULL,
		invoice_id TEXT,
		subscription_id TEXT,
		gross_amount BIGINT NOT NULL,
		commission_rate TEXT NOT NULL,
		commission_amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		period_start DATETIME,
		period_end DATETIME,
		status TEXT NOT NULL DEFAULT 'accrued',
		payable BOOLEAN NOT NULL DEFAULT TRUE,
		reversal_reason TEXT,
		payout_batch_id BIGINT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		reversed_at DATETIME,
		paid_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_commission_entries_payment ON commission_entries(payment_id)`,
	`CREATE TABLE payment_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payment_id TEXT,
		identity_id TEXT,
		amount BIGINT,
		currency TEXT,
		payload TEXT NOT NULL DEFAULT '{}',
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		last_error TEXT
	)`,
	`CREATE UNIQUE INDEX ux_payment_events_provider_event ON payment_events(provider, provider_event_id)`,
	`CREATE TABLE outbox_events (
		id BIGINT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		dedupe_key TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		available_at DATETIME NOT NULL,
		dispatched_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_outbox_events_dedupe ON outbox_events(dedupe_key)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh isolated store.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func Clock() *clock.FakeClock {
	return clock.NewFakeClock(Epoch)
}

// Count returns the row count of table matching where.
func Count(t *testing.T, db *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	var count int64
	query := "SELECT COUNT(1) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

// SeedPartner inserts a partner row directly.
func SeedPartner(t *testing.T, db *gorm.DB, id int64, accountID, status, rate string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO partners (id, account_id, display_name, email, status, commission_rate, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, accountID, "Partner "+accountID, accountID+"@example.com", status, rate, Epoch, Epoch,
	).Error
	if err != nil {
		t.Fatalf("seed partner: %v", err)
	}
}

// SeedCode inserts an active referral code for partnerID.
func SeedCode(t *testing.T, db *gorm.DB, code string, partnerID int64) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO referral_codes (code, partner_id, active, usage_count, created_at) VALUES (?, ?, ?, 0, ?)`,
		code, partnerID, true, Epoch,
	).Error
	if err != nil {
		t.Fatalf("seed code: %v", err)
	}
}

// SeedAttribution inserts an attribution in the given funnel status.
func SeedAttribution(t *testing.T, db *gorm.DB, id int64, identityID string, partnerID int64, code, rate, status string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO attributions (id, identity_id, partner_id, code, commission_rate, status, metadata, signup_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, '{}', ?, ?, ?)`,
		id, identityID, partnerID, code, rate, status, Epoch, Epoch, Epoch,
	).Error
	if err != nil {
		t.Fatalf("seed attribution: %v", err)
	}
}
