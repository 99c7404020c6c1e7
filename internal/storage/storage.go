package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mediabin/internal/models"
)

// passwordHashCost matches the work factor the service has used since the
// first deployment; stored hashes depend on it.
const passwordHashCost = 10

type dataset struct {
	Users map[string]models.User  `json:"users"`
	Media map[string]models.Media `json:"media"`
}

// Storage is the JSON-file backed Repository implementation. Every mutation
// rewrites the backing file atomically via a temp file and rename.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	clock    func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Users: make(map[string]models.User),
		Media: make(map[string]models.Media),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Media == nil {
		s.data.Media = make(map[string]models.Media)
	}
}

// CreateUserParams captures the attributes required to register a user.
type CreateUserParams struct {
	Username string
	Email    string
	Password string
}

// CreateMediaParams captures the metadata and payload for a new media record.
type CreateMediaParams struct {
	OwnerID   string
	Title     string
	Filename  string
	MediaType string
	Content   []byte
}

// MediaFile bundles the fields that change together when a media payload is
// replaced.
type MediaFile struct {
	Filename  string
	MediaType string
	Content   []byte
}

// MediaUpdate represents a partial update. Nil fields are left untouched; a
// non-nil File swaps filename, media type, and content as a unit.
type MediaUpdate struct {
	Title *string
	File  *MediaFile
}

func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := dataset{}

	if src.Users != nil {
		clone.Users = make(map[string]models.User, len(src.Users))
		for id, user := range src.Users {
			clone.Users[id] = user
		}
	}

	if src.Media != nil {
		clone.Media = make(map[string]models.Media, len(src.Media))
		for id, media := range src.Media {
			cloned := media
			if media.Content != nil {
				cloned.Content = append([]byte(nil), media.Content...)
			}
			clone.Media[id] = cloned
		}
	}

	return clone
}

func generateID() string {
	return uuid.NewString()
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// Ping verifies the backing file's directory is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}

// User operations

func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.User{}, validationErrorf("username is required")
	}
	normalizedEmail := normalizeEmail(params.Email)
	if normalizedEmail == "" {
		return models.User{}, validationErrorf("email is required")
	}
	if params.Password == "" {
		return models.User{}, validationErrorf("password is required")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(params.Password), passwordHashCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.data.Users {
		if user.Email == normalizedEmail {
			return models.User{}, ErrEmailInUse
		}
	}

	user := models.User{
		ID:           generateID(),
		Username:     username,
		Email:        normalizedEmail,
		PasswordHash: string(hashed),
		CreatedAt:    s.clock(),
	}

	s.data.Users[user.ID] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, user.ID)
		return models.User{}, err
	}

	return user, nil
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

// FindUserByEmail looks up a user by their normalized email address.
func (s *Storage) FindUserByEmail(email string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	normalizedEmail := normalizeEmail(email)
	for _, user := range s.data.Users {
		if user.Email == normalizedEmail {
			return user, true
		}
	}
	return models.User{}, false
}

// AuthenticateUser verifies credentials and returns the matching user on
// success. An unknown email yields ErrNotFound so callers can distinguish it
// from a wrong password.
func (s *Storage) AuthenticateUser(email, password string) (models.User, error) {
	if normalizeEmail(email) == "" {
		return models.User{}, validationErrorf("email is required")
	}
	if password == "" {
		return models.User{}, validationErrorf("password is required")
	}
	user, ok := s.FindUserByEmail(email)
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", normalizeEmail(email), ErrNotFound)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, fmt.Errorf("verify password: %w", err)
	}
	return user, nil
}

// Media operations

func (s *Storage) CreateMedia(params CreateMediaParams) (models.Media, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Media{}, validationErrorf("title is required")
	}
	ownerID := strings.TrimSpace(params.OwnerID)
	if ownerID == "" {
		return models.Media{}, validationErrorf("owner is required")
	}
	if len(params.Content) == 0 {
		return models.Media{}, validationErrorf("media content is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[ownerID]; !ok {
		return models.Media{}, fmt.Errorf("owner %s: %w", ownerID, ErrNotFound)
	}

	now := s.clock()
	media := models.Media{
		ID:        generateID(),
		OwnerID:   ownerID,
		Title:     title,
		Filename:  strings.TrimSpace(params.Filename),
		MediaType: strings.TrimSpace(params.MediaType),
		Content:   append([]byte(nil), params.Content...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.Media[media.ID] = media
	if err := s.persist(); err != nil {
		delete(s.data.Media, media.ID)
		return models.Media{}, err
	}

	return media, nil
}

func (s *Storage) GetMedia(id string) (models.Media, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	media, ok := s.data.Media[id]
	return media, ok
}

func (s *Storage) UpdateMedia(id string, update MediaUpdate) (models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	media, ok := updatedData.Media[id]
	if !ok {
		return models.Media{}, fmt.Errorf("media %s: %w", id, ErrNotFound)
	}

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return models.Media{}, validationErrorf("title cannot be empty")
		}
		media.Title = title
	}

	if update.File != nil {
		if len(update.File.Content) == 0 {
			return models.Media{}, validationErrorf("replacement content cannot be empty")
		}
		media.Filename = strings.TrimSpace(update.File.Filename)
		media.MediaType = strings.TrimSpace(update.File.MediaType)
		media.Content = append([]byte(nil), update.File.Content...)
	}

	media.UpdatedAt = s.clock()
	updatedData.Media[id] = media
	if err := s.persistDataset(updatedData); err != nil {
		return models.Media{}, err
	}

	s.data = updatedData

	return media, nil
}

func (s *Storage) DeleteMedia(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	if _, ok := updatedData.Media[id]; !ok {
		return fmt.Errorf("media %s: %w", id, ErrNotFound)
	}

	delete(updatedData.Media, id)
	if err := s.persistDataset(updatedData); err != nil {
		return err
	}

	s.data = updatedData

	return nil
}
