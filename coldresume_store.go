package gearbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
)

// ColdResumeStore persists encoded snapshots. Save must be atomic: a reader
// observes either the previous value, the new value, or nothing.
type ColdResumeStore interface {
	Save(ctx context.Context, clusterID string, data []byte, ttl time.Duration) error
	// Load returns ErrSnapshotMissing when nothing is stored for the cluster.
	Load(ctx context.Context, clusterID string) ([]byte, error)
	Delete(ctx context.Context, clusterID string) error
}

const redisColdResumePrefix = "gearbox:coldresume:"

// RedisColdResumeStore keeps snapshots in a single redis key per cluster.
// SET with EX writes the value and its expiry in one command.
type RedisColdResumeStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisColdResumeStore(client redis.UniversalClient) *RedisColdResumeStore {
	return &RedisColdResumeStore{
		client: client,
		prefix: redisColdResumePrefix,
	}
}

func (s *RedisColdResumeStore) key(clusterID string) string {
	return s.prefix + clusterID
}

func (s *RedisColdResumeStore) Save(ctx context.Context, clusterID string, data []byte, ttl time.Duration) error {
	err := s.client.Set(ctx, s.key(clusterID), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

func (s *RedisColdResumeStore) Load(ctx context.Context, clusterID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(clusterID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotMissing
		}

		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return data, nil
}

func (s *RedisColdResumeStore) Delete(ctx context.Context, clusterID string) error {
	err := s.client.Del(ctx, s.key(clusterID)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	return nil
}

// FileColdResumeStore writes snapshots to a directory. Files are written to a
// temporary name and renamed into place. Expiry is enforced by the snapshot itself.
type FileColdResumeStore struct {
	directory string
}

func NewFileColdResumeStore(directory string) *FileColdResumeStore {
	return &FileColdResumeStore{directory: directory}
}

func (s *FileColdResumeStore) path(clusterID string) string {
	return filepath.Join(s.directory, "gearbox-"+clusterID+".snapshot")
}

func (s *FileColdResumeStore) Save(_ context.Context, clusterID string, data []byte, _ time.Duration) error {
	err := os.MkdirAll(s.directory, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	file, err := os.CreateTemp(s.directory, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	defer os.Remove(file.Name())

	if _, err = file.Write(data); err == nil {
		err = file.Sync()
	}

	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	err = os.Rename(file.Name(), s.path(clusterID))
	if err != nil {
		return fmt.Errorf("failed to move snapshot file: %w", err)
	}

	return nil
}

func (s *FileColdResumeStore) Load(_ context.Context, clusterID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(clusterID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSnapshotMissing
		}

		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	return data, nil
}

func (s *FileColdResumeStore) Delete(_ context.Context, clusterID string) error {
	err := os.Remove(s.path(clusterID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}

	return nil
}
