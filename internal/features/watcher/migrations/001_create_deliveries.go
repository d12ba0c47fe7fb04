package migrations

import (
	"market-watch/internal/core"
)

// Migration001CreateDeliveries creates the delivery journal
var Migration001CreateDeliveries = core.Migration{
	Version:     1,
	Name:        "create_deliveries",
	Description: "Create the journal of listings handed to notifiers",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS watcher_deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic_id TEXT NOT NULL,
			title TEXT NOT NULL,
			price_amount REAL,
			price_raw TEXT,
			listed_at TIMESTAMP NOT NULL,
			link TEXT,
			delivered_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_watcher_deliveries_topic ON watcher_deliveries(topic_id, delivered_at);
		CREATE INDEX IF NOT EXISTS idx_watcher_deliveries_delivered ON watcher_deliveries(delivered_at);
	`,
	DownSQL: `
		DROP INDEX IF EXISTS idx_watcher_deliveries_delivered;
		DROP INDEX IF EXISTS idx_watcher_deliveries_topic;
		DROP TABLE IF EXISTS watcher_deliveries;
	`,
}
