// Package cache is the cache-aside layer in front of the origin services.
//
// Entries are CBOR snapshots of domain objects stored under namespaced keys
// of the form federated:<entity>:<selector>:<value>. The cache is advisory:
// the origin services stay authoritative and an entry may be stale until it
// expires or is overwritten by the next resolution.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/hutgate/codec"
)

// ErrMiss is returned by Get when no live entry exists for a key.
var ErrMiss = errors.New("cache: miss")

type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
	Close() error
}

const (
	EntityUser     = "user"
	EntityCategory = "category"
	EntityListing  = "listing"

	SelectorId   = "id"
	SelectorName = "name"
)

type Key struct {
	Entity   string
	Selector string
	Value    string
}

func (k Key) String() string {
	return fmt.Sprintf("federated:%s:%s:%s", k.Entity, k.Selector, k.Value)
}

func UserById(apId string) Key {
	return Key{Entity: EntityUser, Selector: SelectorId, Value: apId}
}

func UserByName(name string) Key {
	return Key{Entity: EntityUser, Selector: SelectorName, Value: name}
}

func CategoryById(apId string) Key {
	return Key{Entity: EntityCategory, Selector: SelectorId, Value: apId}
}

func ListingById(apId string) Key {
	return Key{Entity: EntityListing, Selector: SelectorId, Value: apId}
}

// Load decodes the entry stored under key. A miss returns (nil, nil).
func Load[T any](ctx context.Context, c Cache, key Key) (*T, error) {
	data, err := c.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var v T
	if err := codec.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &v, nil
}

// Store encodes v and writes it under every given key.
func Store[T any](ctx context.Context, c Cache, v *T, ttl time.Duration, keys ...Key) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	var errs []error
	for _, key := range keys {
		if err := c.Set(ctx, key, data, ttl); err != nil {
			errs = append(errs, fmt.Errorf("writing %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
