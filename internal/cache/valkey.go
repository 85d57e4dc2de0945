package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

const keyPrefix = "siembridge:cache:"

// ValkeyStore is the shared Store: multiple process instances pointed at the
// same Valkey server see each other's refreshes. Entries are stored without
// server-side expiry; staleness lives in the envelope so expired values stay
// servable until overwritten.
type ValkeyStore struct {
	client valkey.Client
}

// NewValkeyStore connects to Valkey and verifies the connection.
func NewValkeyStore(ctx context.Context, address, password string, db int) (*ValkeyStore, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{address},
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.SelectDB = db
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	return &ValkeyStore{client: client}, nil
}

// Get returns the entry for key; a missing key is a miss, not an error.
func (s *ValkeyStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	result := s.client.Do(ctx, s.client.B().Get().Key(keyPrefix+key).Build())
	if err := result.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, &StoreError{Err: err}
	}

	raw, err := result.AsBytes()
	if err != nil {
		return Entry{}, false, &StoreError{Err: err}
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, &StoreError{Err: err}
	}
	return entry, true, nil
}

// Set overwrites the entry for key.
func (s *ValkeyStore) Set(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	cmd := s.client.B().Set().Key(keyPrefix + key).Value(string(raw)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return &StoreError{Err: err}
	}
	return nil
}

// Ping checks the Valkey connection.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return &StoreError{Err: err}
	}
	return nil
}

// Close releases the client.
func (s *ValkeyStore) Close() {
	s.client.Close()
}
