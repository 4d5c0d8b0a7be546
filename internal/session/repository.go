package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by Load when no session has been stored yet.
var ErrNotFound = errors.New("session not found")

// Repository persists the durable subset of the session.
// This allows the store to run against the OS keychain, a file, an embedded
// database or Redis, and against a fake in tests.
type Repository interface {
	Load(ctx context.Context) (Persisted, error)
	Save(ctx context.Context, p Persisted) error
	Clear(ctx context.Context) error
}

// Backend names accepted by OpenRepository.
const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendBolt    = "bolt"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// RepositoryConfig selects and configures a Repository backend.
type RepositoryConfig struct {
	Backend string

	// Path is the JSON file (file) or database file (bolt).
	Path string

	// RedisAddress and RedisTTL configure the redis backend. A zero TTL
	// keeps the record until logout.
	RedisAddress string
	RedisTTL     time.Duration

	// Namespace separates sessions of different servers or profiles.
	Namespace string
}

// OpenRepository builds the Repository named by cfg.Backend. The returned
// close function releases any underlying handle and is never nil.
func OpenRepository(cfg RepositoryConfig) (Repository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case BackendFile, "":
		if cfg.Path == "" {
			return nil, noop, fmt.Errorf("file backend requires a path")
		}
		return NewFileRepository(cfg.Path, cfg.Namespace), noop, nil
	case BackendKeyring:
		return NewKeyringRepository(cfg.Namespace), noop, nil
	case BackendBolt:
		if cfg.Path == "" {
			return nil, noop, fmt.Errorf("bolt backend requires a path")
		}
		repo, err := NewBoltRepositoryFromFile(cfg.Path, cfg.Namespace)
		if err != nil {
			return nil, noop, err
		}
		return repo, repo.Close, nil
	case BackendRedis:
		repo := NewRedisRepositoryFromAddress(cfg.RedisAddress, cfg.Namespace, cfg.RedisTTL)
		return repo, repo.Close, nil
	case BackendMemory:
		return NewMemoryRepository(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// recordKey namespaces StorageKey.
func recordKey(namespace string) string {
	if namespace == "" {
		return StorageKey
	}
	return StorageKey + ":" + namespace
}

// MemoryRepository keeps the persisted record in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	record *Persisted
	saves  int
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Load(ctx context.Context) (Persisted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return Persisted{}, ErrNotFound
	}
	p := *m.record
	p.User = p.User.clone()
	return p, nil
}

func (m *MemoryRepository) Save(ctx context.Context, p Persisted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.User = p.User.clone()
	m.record = &p
	m.saves++
	return nil
}

func (m *MemoryRepository) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = nil
	return nil
}

// Saves reports how many times Save has been called.
func (m *MemoryRepository) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
