package commands

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dyluth/bingo/internal/config"
	"github.com/dyluth/bingo/internal/printer"
	"github.com/dyluth/bingo/internal/sqlstore"
	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/redis/go-redis/v9"
)

// openStore connects to the configured ledger and verifies it answers.
func openStore(ctx context.Context, cfg *config.BingoConfig) (ledger.Store, error) {
	var (
		store ledger.Store
		err   error
	)

	switch cfg.Store.Driver {
	case config.DriverRedis:
		opts, perr := redis.ParseURL(cfg.Store.RedisURL)
		if perr != nil {
			return nil, printer.Error("invalid Redis URL", perr.Error(), []string{"Set store.redis_url or BINGO_REDIS_URL to a redis:// URL"})
		}
		store, err = ledger.NewClient(opts, cfg.Namespace)
	case config.DriverSQLite:
		store, err = sqlstore.Open(cfg.Store.SQLitePath)
	default:
		err = fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.OperationTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, printer.ErrorWithContext(
			"store connection failed",
			fmt.Sprintf("Could not reach the %s store: %v", cfg.Store.Driver, err),
			storeDetails(cfg),
			[]string{"Check that the store is running and the configured address is correct"},
		)
	}
	return store, nil
}

func storeDetails(cfg *config.BingoConfig) [][2]string {
	details := [][2]string{{"Driver", cfg.Store.Driver}}
	switch cfg.Store.Driver {
	case config.DriverRedis:
		details = append(details, [2]string{"URL", redactURL(cfg.Store.RedisURL)}, [2]string{"Namespace", cfg.Namespace})
	case config.DriverSQLite:
		details = append(details, [2]string{"Path", cfg.Store.SQLitePath})
	}
	return details
}

// redactURL hides the password of a store URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
