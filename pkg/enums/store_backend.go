package enums

import "fmt"

// StoreBackend selects the durable local store implementation.
type StoreBackend string

const (
	StoreBackendPebble StoreBackend = "pebble"
	StoreBackendRedis  StoreBackend = "redis"
	StoreBackendMemory StoreBackend = "memory"
)

var validStoreBackends = []StoreBackend{
	StoreBackendPebble,
	StoreBackendRedis,
	StoreBackendMemory,
}

// String implements fmt.Stringer.
func (b StoreBackend) String() string {
	return string(b)
}

// ParseStoreBackend converts raw input into a StoreBackend.
func ParseStoreBackend(value string) (StoreBackend, error) {
	for _, candidate := range validStoreBackends {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid store backend %q", value)
}
