package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediabin/internal/models"
)

// Snapshot captures a complete JSON-serialisable view of the datastore so it
// can be persisted and later replayed into another backing store.
type Snapshot struct {
	Users map[string]models.User  `json:"users"`
	Media map[string]models.Media `json:"media"`
}

// SnapshotCounts summarises the size of each collection in a Snapshot.
type SnapshotCounts struct {
	Users int
	Media int
}

func (s *Snapshot) ensureInitialized() {
	if s.Users == nil {
		s.Users = make(map[string]models.User)
	}
	if s.Media == nil {
		s.Media = make(map[string]models.Media)
	}
}

// Counts reports how many records the snapshot holds per collection.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	return SnapshotCounts{Users: len(s.Users), Media: len(s.Media)}
}

// ExportSnapshot copies the current dataset into a Snapshot.
func (s *Storage) ExportSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := cloneDataset(s.data)
	snapshot := &Snapshot{Users: clone.Users, Media: clone.Media}
	snapshot.ensureInitialized()
	return snapshot
}

// LoadSnapshotFromJSON reads a previously exported datastore file from disk.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		if errors.Is(err, io.EOF) {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

// ImportSnapshotToPostgres replays a snapshot into a Postgres-backed
// repository inside a single transaction. Existing rows are left untouched.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("repository does not support snapshot import")
	}
	if snapshot == nil {
		return fmt.Errorf("snapshot is nil")
	}
	return pgRepo.importSnapshot(ctx, snapshot)
}

func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	return r.withConn(func(_ context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin snapshot transaction: %w", err)
		}
		defer rollbackTx(ctx, tx)

		if err := importSnapshotUsers(ctx, tx, snapshot.Users); err != nil {
			return err
		}
		if err := importSnapshotMedia(ctx, tx, snapshot.Media); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit snapshot import: %w", err)
		}
		return nil
	})
}

func importSnapshotUsers(ctx context.Context, tx pgx.Tx, users map[string]models.User) error {
	if len(users) == 0 {
		return nil
	}
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, key := range ids {
		user := users[key]
		id := strings.TrimSpace(user.ID)
		if id == "" {
			id = key
		}
		createdAt := user.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		} else {
			createdAt = createdAt.UTC()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO users (id, username, email, password_hash, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			id, strings.TrimSpace(user.Username), normalizeEmail(user.Email), user.PasswordHash, createdAt)
		if err != nil {
			return fmt.Errorf("insert user %s: %w", id, err)
		}
	}
	return nil
}

func importSnapshotMedia(ctx context.Context, tx pgx.Tx, media map[string]models.Media) error {
	if len(media) == 0 {
		return nil
	}
	ids := make([]string, 0, len(media))
	for id := range media {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, key := range ids {
		record := media[key]
		id := strings.TrimSpace(record.ID)
		if id == "" {
			id = key
		}
		createdAt := record.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		} else {
			createdAt = createdAt.UTC()
		}
		updatedAt := record.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = createdAt
		} else {
			updatedAt = updatedAt.UTC()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO media (id, owner_id, title, filename, media_type, content, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
			id, record.OwnerID, record.Title, record.Filename, record.MediaType,
			record.Content, createdAt, updatedAt)
		if err != nil {
			return fmt.Errorf("insert media %s: %w", id, err)
		}
	}
	return nil
}
