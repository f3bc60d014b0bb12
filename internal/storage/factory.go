package storage

import "fmt"

// NewStore picks a backend by name. path is the database file for the bolt
// and sqlite backends.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "bolt", "bbolt":
		if path == "" {
			return nil, fmt.Errorf("bolt backend requires a database path")
		}
		return NewBoltStore(path), nil
	case "sqlite":
		return newSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
