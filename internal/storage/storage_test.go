package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...Option) *Storage {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	store, err := NewStorage(path, opts...)
	if err != nil {
		t.Fatalf("NewStorage error: %v", err)
	}
	return store
}

func seedUser(t *testing.T, store *Storage, username, email string) string {
	t.Helper()
	user, err := store.CreateUser(CreateUserParams{
		Username: username,
		Email:    email,
		Password: "hunter2!",
	})
	if err != nil {
		t.Fatalf("CreateUser %s: %v", email, err)
	}
	return user.ID
}

func seedMedia(t *testing.T, store *Storage, ownerID, title string) string {
	t.Helper()
	media, err := store.CreateMedia(CreateMediaParams{
		OwnerID:   ownerID,
		Title:     title,
		Filename:  "clip.png",
		MediaType: "image/png",
		Content:   []byte{0x89, 0x50, 0x4e, 0x47},
	})
	if err != nil {
		t.Fatalf("CreateMedia %s: %v", title, err)
	}
	return media.ID
}

func TestCreateUserNormalizesEmailAndHashesPassword(t *testing.T) {
	store := newTestStore(t)

	user, err := store.CreateUser(CreateUserParams{
		Username: "ada",
		Email:    "  Ada@Example.COM ",
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.PasswordHash == "" || user.PasswordHash == "correct horse" {
		t.Fatalf("expected hashed password, got %q", user.PasswordHash)
	}

	if _, err := store.CreateUser(CreateUserParams{
		Username: "other",
		Email:    "ADA@example.com",
		Password: "different",
	}); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	store := newTestStore(t)

	cases := []struct {
		name   string
		params CreateUserParams
	}{
		{"missing username", CreateUserParams{Email: "a@example.com", Password: "pw"}},
		{"missing email", CreateUserParams{Username: "a", Password: "pw"}},
		{"missing password", CreateUserParams{Username: "a", Email: "a@example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.CreateUser(tc.params)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestAuthenticateUser(t *testing.T) {
	store := newTestStore(t)
	seedUser(t, store, "ada", "ada@example.com")

	user, err := store.AuthenticateUser("Ada@Example.com", "hunter2!")
	if err != nil {
		t.Fatalf("AuthenticateUser: %v", err)
	}
	if user.Username != "ada" {
		t.Fatalf("unexpected user %q", user.Username)
	}

	if _, err := store.AuthenticateUser("nobody@example.com", "hunter2!"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown email, got %v", err)
	}
	if _, err := store.AuthenticateUser("ada@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateMediaRequiresKnownOwner(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateMedia(CreateMediaParams{
		OwnerID: "missing",
		Title:   "Sunset",
		Content: []byte{1},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown owner, got %v", err)
	}

	_, err = store.CreateMedia(CreateMediaParams{Title: "Sunset"})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for missing owner, got %v", err)
	}
}

func TestUpdateMediaPartialUpdate(t *testing.T) {
	store := newTestStore(t)
	owner := seedUser(t, store, "ada", "ada@example.com")
	id := seedMedia(t, store, owner, "Sunset")

	before, _ := store.GetMedia(id)

	title := "Sunrise"
	updated, err := store.UpdateMedia(id, MediaUpdate{Title: &title})
	if err != nil {
		t.Fatalf("UpdateMedia title: %v", err)
	}
	if updated.Title != "Sunrise" {
		t.Fatalf("expected new title, got %q", updated.Title)
	}
	if updated.Filename != before.Filename || updated.MediaType != before.MediaType {
		t.Fatalf("title-only update must not touch the file fields")
	}
	if string(updated.Content) != string(before.Content) {
		t.Fatalf("title-only update must not touch content")
	}

	replacement := &MediaFile{Filename: "clip.webm", MediaType: "video/webm", Content: []byte{9, 9}}
	updated, err = store.UpdateMedia(id, MediaUpdate{File: replacement})
	if err != nil {
		t.Fatalf("UpdateMedia file: %v", err)
	}
	if updated.Filename != "clip.webm" || updated.MediaType != "video/webm" {
		t.Fatalf("file replacement did not swap metadata: %+v", updated)
	}
	if string(updated.Content) != string(replacement.Content) {
		t.Fatalf("file replacement did not swap content")
	}
	if updated.Title != "Sunrise" {
		t.Fatalf("file replacement must not touch the title")
	}

	empty := ""
	if _, err := store.UpdateMedia(id, MediaUpdate{Title: &empty}); err == nil {
		t.Fatalf("expected error for empty title")
	}
	if _, err := store.UpdateMedia("missing", MediaUpdate{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMedia(t *testing.T) {
	store := newTestStore(t)
	owner := seedUser(t, store, "ada", "ada@example.com")
	id := seedMedia(t, store, owner, "Sunset")

	if err := store.DeleteMedia(id); err != nil {
		t.Fatalf("DeleteMedia: %v", err)
	}
	if _, ok := store.GetMedia(id); ok {
		t.Fatalf("expected media %s to be gone", id)
	}
	if err := store.DeleteMedia(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestPersistFailureLeavesDataUntouched(t *testing.T) {
	store := newTestStore(t)
	owner := seedUser(t, store, "ada", "ada@example.com")
	id := seedMedia(t, store, owner, "Sunset")

	store.persistOverride = func(dataset) error {
		return errors.New("persist failed")
	}

	if err := store.DeleteMedia(id); err == nil {
		t.Fatalf("expected DeleteMedia error when persist fails")
	}
	title := "Other"
	if _, err := store.UpdateMedia(id, MediaUpdate{Title: &title}); err == nil {
		t.Fatalf("expected UpdateMedia error when persist fails")
	}

	store.persistOverride = nil

	media, ok := store.GetMedia(id)
	if !ok {
		t.Fatalf("expected media %s to remain", id)
	}
	if media.Title != "Sunset" {
		t.Fatalf("expected original title, got %q", media.Title)
	}
}

func TestStorageReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	owner := seedUser(t, store, "ada", "ada@example.com")
	id := seedMedia(t, store, owner, "Sunset")

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage reload: %v", err)
	}
	media, ok := reloaded.GetMedia(id)
	if !ok {
		t.Fatalf("expected media %s after reload", id)
	}
	if media.OwnerID != owner || media.Title != "Sunset" {
		t.Fatalf("unexpected media after reload: %+v", media)
	}
	if len(media.Content) == 0 {
		t.Fatalf("expected content to survive reload")
	}
}

func TestWithClockControlsTimestamps(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(func() time.Time { return fixed }))

	owner := seedUser(t, store, "ada", "ada@example.com")
	id := seedMedia(t, store, owner, "Sunset")

	media, _ := store.GetMedia(id)
	if !media.CreatedAt.Equal(fixed) || !media.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected fixed timestamps, got %+v", media)
	}
}
