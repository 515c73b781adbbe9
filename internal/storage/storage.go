// Package storage defines the key-value persistence interface and its implementations.
package storage

import "context"

// KV is a string key-value store. Values are opaque serialized documents.
type KV interface {
	// Get returns the value stored under key. ok is false if the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key, value string) error
	// CompareAndSwap stores value only if the current value still equals old
	// (or, when hadOld is false, if the key is still absent). It reports
	// whether the write happened.
	CompareAndSwap(ctx context.Context, key, old string, hadOld bool, value string) (bool, error)

	Close() error
}
