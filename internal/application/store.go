package application

import (
	"context"
	"fmt"
	"strings"

	"echodesk/cli/internal/config"
	"echodesk/cli/internal/global"
	"echodesk/cli/internal/kvstore"
)

// OpenStore opens the key-value backend named in opts. It returns the
// backend actually used.
func OpenStore(ctx context.Context, configDir string, opts StoreOptions) (kvstore.Store, string, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	switch backend {
	case config.StoreMemory:
		return kvstore.NewMemoryStoreWithNamespace(opts.Namespace), backend, nil
	case config.StoreRedis:
		st, err := kvstore.ConnectRedisStore(ctx, opts.Redis, opts.Namespace)
		if err != nil {
			return nil, "", fmt.Errorf("open redis store %s: %w", opts.Redis.Addr, err)
		}
		return st, backend, nil
	case "", config.StoreSQLite:
		path := strings.TrimSpace(opts.DBPath)
		if path == "" {
			if strings.TrimSpace(configDir) == "" {
				return nil, "", fmt.Errorf("config dir is required for the sqlite store")
			}
			path = global.DefaultDBPath(configDir)
		}
		st, err := kvstore.OpenSQLiteStore(path, opts.Namespace)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite store %s: %w", path, err)
		}
		return st, config.StoreSQLite, nil
	default:
		return nil, "", fmt.Errorf("unsupported store backend: %s", backend)
	}
}
