package storage

// Storage is the blob store behind the upstream metadata cache.  Get
// returns a nil value and no error for a missing key.
type Storage interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
	Del([]byte) error

	// Scan calls f with every key starting with prefix.  f must not
	// write to the store.
	Scan(prefix []byte, f func(key []byte) error) error

	Close() error
}
