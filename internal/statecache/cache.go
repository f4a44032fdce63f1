package statecache

// ItemCache defines the interface for cached item state operations.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with mocks.
type ItemCache interface {
	UpsertItem(row ItemRow) error
	DeleteItem(name string) error
	GetItem(name string) (*ItemRow, error)
	ListItems(limit, offset int, sort string) ([]ItemRow, int, error)
	GetFingerprint(name string) (string, error)
	AllFingerprints() (map[string]string, error)
	Search(query string, limit int) ([]SearchResult, error)
	Close() error
}

// Verify *DB satisfies ItemCache at compile time.
var _ ItemCache = (*DB)(nil)
