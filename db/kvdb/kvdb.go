package kvdb

// LocationsBucket holds the last resolved location per portal session.
const LocationsBucket = "locations"

type DB interface {
	Put(bucket string, key string, value []byte) error
	Get(bucket string, key string) ([]byte, error)
	Delete(bucket string, key ...string) error
	// Scan visits every key in bucket in byte order. Returning an error stops the scan.
	Scan(bucket string, fn func(key string, value []byte) error) error
	Close() error
}
