package postgres

import (
	"context"

	"github.com/relaybus/relaybus/config"
	"github.com/relaybus/relaybus/db"
	"github.com/relaybus/relaybus/log"
	"github.com/relaybus/relaybus/queue"
	"github.com/relaybus/relaybus/subscription"
)

// Open connects to Postgres per cfg, ensures the configured schema, runs
// this backend's Migrations, and returns ready-to-use queue.Store and
// subscription.Store implementations. The returned *db.Database is a
// startable/stoppable component (app.Setup picks it up via duck typing);
// its Stop closes the underlying connection.
func Open(ctx context.Context, cfg *config.Config, logger log.Logger) (queue.Store, subscription.Store, *db.Database, error) {
	database := db.New(Migrations, "postgres", cfg, logger)
	database.SetMigrationPath("migrations")

	if err := database.Start(ctx); err != nil {
		return nil, nil, nil, err
	}

	return NewQueueStore(database.DB), NewSubscriptionStore(database.DB), database, nil
}
