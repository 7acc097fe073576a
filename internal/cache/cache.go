// Package cache stores reference data and internal-id -> CRM-id links.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aureeaubert/hull-closeio/internal/model"
)

// Cache is a string key/value store. A zero ttl keeps the entry forever.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Wrap returns the cached value for key, or computes, stores and
	// returns it when absent.
	Wrap(ctx context.Context, key string, ttl time.Duration, produce func(context.Context) (string, error)) (string, error)
}

// WrapJSON is Wrap for JSON-encodable values.
func WrapJSON[T any](ctx context.Context, c Cache, key string, ttl time.Duration, produce func(context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.Wrap(ctx, key, ttl, func(ctx context.Context) (string, error) {
		v, err := produce(ctx)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", key, err)
		}
		return string(b), nil
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

func wrap(ctx context.Context, c Cache, key string, ttl time.Duration, produce func(context.Context) (string, error)) (string, error) {
	if v, ok, err := c.Get(ctx, key); err != nil {
		return "", err
	} else if ok {
		return v, nil
	}
	v, err := produce(ctx)
	if err != nil {
		return "", err
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		return "", err
	}
	return v, nil
}

// ErrEmptyID is returned when an identity link has no internal id.
var ErrEmptyID = errors.New("empty internal id")

// Identities reads and writes internal-id -> CRM-id links.
type Identities struct {
	c Cache
}

func NewIdentities(c Cache) *Identities { return &Identities{c: c} }

func identityKey(kind model.EntityKind, internalID string) string {
	return "identity:" + kind.String() + ":" + internalID
}

// Lookup returns the CRM id linked to an internal id, if any.
func (i *Identities) Lookup(ctx context.Context, kind model.EntityKind, internalID string) (string, bool, error) {
	if internalID == "" {
		return "", false, nil
	}
	v, ok, err := i.c.Get(ctx, identityKey(kind, internalID))
	if err != nil {
		return "", false, fmt.Errorf("lookup %s %s: %w", kind, internalID, err)
	}
	return v, ok && v != "", nil
}

// Link stores the CRM id for an internal id. Concurrent writers for the same
// id are last-write-wins.
func (i *Identities) Link(ctx context.Context, kind model.EntityKind, internalID, externalID string) error {
	if internalID == "" {
		return ErrEmptyID
	}
	if err := i.c.Set(ctx, identityKey(kind, internalID), externalID, 0); err != nil {
		return fmt.Errorf("link %s %s: %w", kind, internalID, err)
	}
	return nil
}
