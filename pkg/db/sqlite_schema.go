package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the goose migrations with SQLite column types. Keep it
// in step with pkg/migrate/migrations.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS connections (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  platform TEXT NOT NULL,
  shop_domain TEXT NOT NULL,
  external_shop_id TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  scopes TEXT,
  metadata TEXT,
  last_successful_sync_at DATETIME,
  consecutive_failures INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  last_error_code TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT ux_connections_account_shop UNIQUE (account_id, platform, shop_domain)
);`,
	`CREATE TABLE IF NOT EXISTS connection_credentials (
  connection_id TEXT PRIMARY KEY REFERENCES connections(id) ON DELETE CASCADE,
  access_token_ciphertext BLOB NOT NULL,
  refresh_token_ciphertext BLOB,
  token_type TEXT,
  scope TEXT,
  expires_at DATETIME,
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
  id TEXT PRIMARY KEY,
  connection_id TEXT NOT NULL,
  account_id TEXT NOT NULL,
  mode TEXT NOT NULL,
  trigger TEXT NOT NULL,
  phase TEXT NOT NULL,
  outcome TEXT,
  in_flight_key TEXT UNIQUE,
  counts TEXT,
  error_code TEXT,
  error_detail TEXT,
  started_at DATETIME NOT NULL,
  finished_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS sync_checkpoints (
  connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
  resource TEXT NOT NULL,
  cursor TEXT NOT NULL DEFAULT '',
  mode TEXT NOT NULL DEFAULT 'incremental',
  watermark DATETIME,
  pass_started_at DATETIME,
  pass_had_failures BOOLEAN NOT NULL DEFAULT 0,
  pass_max_updated_at DATETIME,
  last_run_id TEXT,
  updated_at DATETIME,
  PRIMARY KEY (connection_id, resource)
);`,
	`CREATE TABLE IF NOT EXISTS raw_records (
  id TEXT PRIMARY KEY,
  connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
  platform TEXT NOT NULL,
  resource TEXT NOT NULL,
  external_id TEXT NOT NULL,
  source_updated_at DATETIME NOT NULL,
  payload TEXT NOT NULL,
  utm_campaign TEXT,
  occurred_on DATE,
  amount TEXT NOT NULL DEFAULT '0',
  spend TEXT NOT NULL DEFAULT '0',
  impressions INTEGER NOT NULL DEFAULT 0,
  clicks INTEGER NOT NULL DEFAULT 0,
  conversions INTEGER NOT NULL DEFAULT 0,
  stale BOOLEAN NOT NULL DEFAULT 0,
  last_seen_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT ux_raw_records_natural_key UNIQUE (connection_id, resource, external_id)
);`,
	`CREATE TABLE IF NOT EXISTS campaigns (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  connection_id TEXT REFERENCES connections(id) ON DELETE SET NULL,
  name TEXT NOT NULL,
  utm_campaign TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  ai_enabled BOOLEAN NOT NULL DEFAULT 0,
  daily_budget TEXT NOT NULL,
  target_roas TEXT NOT NULL DEFAULT '0',
  target_cpa TEXT NOT NULL DEFAULT '0',
  min_budget TEXT NOT NULL,
  max_budget TEXT NOT NULL,
  last_budget_change_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS metric_snapshots (
  id TEXT PRIMARY KEY,
  campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
  day DATE NOT NULL,
  impressions INTEGER NOT NULL,
  clicks INTEGER NOT NULL,
  conversions INTEGER NOT NULL,
  cost TEXT NOT NULL,
  revenue TEXT NOT NULL,
  roas TEXT NOT NULL,
  ctr TEXT NOT NULL,
  cpc TEXT NOT NULL,
  cpa TEXT NOT NULL,
  computed_at DATETIME NOT NULL,
  CONSTRAINT ux_metric_snapshots_campaign_day UNIQUE (campaign_id, day)
);`,
	`CREATE TABLE IF NOT EXISTS optimization_decisions (
  id TEXT PRIMARY KEY,
  campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
  previous_budget TEXT NOT NULL,
  new_budget TEXT NOT NULL,
  trigger_metrics TEXT,
  rationale_code TEXT NOT NULL,
  source TEXT NOT NULL,
  created_at DATETIME NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS optimization_evaluations (
  id TEXT PRIMARY KEY,
  campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
  outcome TEXT NOT NULL,
  current_budget TEXT NOT NULL,
  proposed_budget TEXT,
  rationale_code TEXT,
  trigger_metrics TEXT,
  decision_id TEXT,
  detail TEXT,
  error_code TEXT,
  created_at DATETIME NOT NULL
);`,
}

// ApplySQLiteSchema creates every table on a SQLite connection.
func ApplySQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	for _, stmt := range sqliteSchema {
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("applying sqlite schema: %w", err)
		}
	}
	return nil
}
