// Package kvstore provides the persistent key-value stores behind the
// notification lifecycle: token records, installation ids and permission state.
package kvstore

import (
	"context"
	"time"

	"github.com/tphakala/notifyd/internal/conf"
	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
)

const componentName = "kvstore"

// Store is a string key-value store.
type Store interface {
	notification.KVStore
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the store selected by settings. A positive CacheTTL wraps
// database drivers in a read-through cache.
func Open(settings conf.KVStoreSettings, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.Global().Module(componentName)
	}

	var (
		store Store
		err   error
	)
	switch settings.Driver {
	case conf.KVDriverMemory:
		return NewMemoryStore(), nil
	case conf.KVDriverSQLite, "":
		store, err = OpenSQLite(settings.Path, log)
	case conf.KVDriverMySQL:
		store, err = OpenMySQL(settings.DSN, log)
	default:
		return nil, errors.Newf("unsupported kvstore driver %q", settings.Driver).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	if settings.CacheTTL > 0 {
		return NewCachedStore(store, settings.CacheTTL), nil
	}
	return store, nil
}

func dbError(err error, op, key string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Context("key", key).
		Build()
}

// slowQueryThreshold marks statements worth a warning.
const slowQueryThreshold = 200 * time.Millisecond
