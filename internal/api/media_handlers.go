package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediabin/internal/models"
	"mediabin/internal/storage"
	"mediabin/internal/transfer"
)

// maxUploadBytes bounds the request body before any multipart parsing so an
// oversized payload is rejected before anything is persisted.
const maxUploadBytes = 10 << 20

type mediaOwnerResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type mediaResponse struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Filename  string             `json:"filename"`
	MediaType string             `json:"mediaType"`
	File      string             `json:"file"`
	Owner     mediaOwnerResponse `json:"owner"`
	CreatedAt string             `json:"createdAt"`
	UpdatedAt string             `json:"updatedAt"`
}

func newMediaResponse(media models.Media, owner models.User) mediaResponse {
	return mediaResponse{
		ID:        media.ID,
		Title:     media.Title,
		Filename:  media.Filename,
		MediaType: media.MediaType,
		File:      transfer.DataURI(media.MediaType, media.Content),
		Owner: mediaOwnerResponse{
			ID:       owner.ID,
			Username: owner.Username,
			Email:    owner.Email,
		},
		CreatedAt: media.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: media.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// mediaListResponse joins each record with its owner, skipping rows whose
// owner vanished underneath them.
func (h *Handler) mediaListResponse(items []models.Media) []mediaResponse {
	response := make([]mediaResponse, 0, len(items))
	for _, media := range items {
		owner, exists := h.Store.GetUser(media.OwnerID)
		if !exists {
			continue
		}
		response = append(response, newMediaResponse(media, owner))
	}
	return response
}

// mediaForm carries the fields of a multipart media request. Pointer fields
// distinguish "absent" from "empty" for partial updates.
type mediaForm struct {
	title  *string
	userID string
	file   *storage.MediaFile
}

func (h *Handler) parseMediaForm(w http.ResponseWriter, r *http.Request) (*mediaForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("parse multipart request: %w", err)
	}

	form := &mediaForm{}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart data: %w", err)
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if name == "file" {
			if form.file != nil {
				_ = part.Close()
				continue
			}
			file, readErr := readMediaFile(part)
			if readErr != nil {
				return nil, readErr
			}
			form.file = file
			continue
		}
		payload, readErr := io.ReadAll(part)
		_ = part.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read form field: %w", readErr)
		}
		value := strings.TrimSpace(string(payload))
		switch name {
		case "title":
			form.title = &value
		case "userId":
			form.userID = value
		}
	}
	return form, nil
}

func readMediaFile(part *multipart.Part) (*storage.MediaFile, error) {
	defer part.Close()
	content, err := io.ReadAll(part)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	mediaType := part.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = transfer.DefaultMediaType
	}
	return &storage.MediaFile{
		Filename:  part.FileName(),
		MediaType: mediaType,
		Content:   content,
	}, nil
}

// Media dispatches the /media collection routes: upload and list-all.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createMedia(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.mediaListResponse(h.Store.ListMedia()))
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (h *Handler) createMedia(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	form, err := h.parseMediaForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if form.userID != "" && form.userID != actor.ID {
		writeError(w, http.StatusForbidden, fmt.Errorf("media can only be uploaded for the authenticated user"))
		return
	}

	params := storage.CreateMediaParams{OwnerID: actor.ID}
	if form.title != nil {
		params.Title = *form.title
	}
	if form.file != nil {
		params.Filename = form.file.Filename
		params.MediaType = form.file.MediaType
		params.Content = form.file.Content
	}

	media, err := h.Store.CreateMedia(params)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.metrics().ObserveMediaEvent("created")
	h.metrics().ObserveUploadBytes(int64(len(media.Content)))
	h.logger().Info("media created", "media_id", media.ID, "owner_id", media.OwnerID, "bytes", len(media.Content))
	writeJSON(w, http.StatusCreated, newMediaResponse(media, actor))
}

// MediaLatest serves the recency feed. The limit query parameter defaults to
// the storage layer's feed size.
func (h *Handler) MediaLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.mediaListResponse(h.Store.ListLatestMedia(limit)))
}

// MediaSearch matches titles case-insensitively. An empty query is a
// validation failure and zero matches is 404, never an empty success list.
func (h *Handler) MediaSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	matches, err := h.Store.SearchMedia(r.URL.Query().Get("query"))
	if err != nil {
		if errors.Is(err, storage.ErrNoMatches) {
			h.metrics().ObserveMediaEvent("search_miss")
		}
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.mediaListResponse(matches))
}

// MediaByOwner lists a user's media. A missing owner is an error distinct
// from an owner with no media.
func (h *Handler) MediaByOwner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	ownerID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/media/user/"), "/")
	if ownerID == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("user id missing"))
		return
	}
	items, err := h.Store.ListMediaByOwner(ownerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.mediaListResponse(items))
}

// MediaByID dispatches the per-record routes: fetch, edit, delete.
func (h *Handler) MediaByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/media/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown media path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getMedia(w, r, id)
	case http.MethodPut:
		h.updateMedia(w, r, id)
	case http.MethodDelete:
		h.deleteMedia(w, r, id)
	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

func (h *Handler) getMedia(w http.ResponseWriter, r *http.Request, id string) {
	media, ok := h.Store.GetMedia(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("media %s not found", id))
		return
	}
	owner, exists := h.Store.GetUser(media.OwnerID)
	if !exists {
		h.respondError(w, r, fmt.Errorf("media %s owner %s missing", media.ID, media.OwnerID))
		return
	}
	h.metrics().ObserveMediaEvent("served")
	h.metrics().ObserveServedBytes(int64(len(media.Content)))
	writeJSON(w, http.StatusOK, newMediaResponse(media, owner))
}

func (h *Handler) updateMedia(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	media, exists := h.Store.GetMedia(id)
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("media %s not found", id))
		return
	}
	if !h.authorizeOwner(w, actor, media) {
		return
	}

	form, err := h.parseMediaForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	update := storage.MediaUpdate{Title: form.title, File: form.file}
	updated, err := h.Store.UpdateMedia(id, update)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.metrics().ObserveMediaEvent("updated")
	if form.file != nil {
		h.metrics().ObserveUploadBytes(int64(len(form.file.Content)))
	}
	h.logger().Info("media updated", "media_id", id, "owner_id", actor.ID)
	writeJSON(w, http.StatusOK, newMediaResponse(updated, actor))
}

func (h *Handler) deleteMedia(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	media, exists := h.Store.GetMedia(id)
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("media %s not found", id))
		return
	}
	if !h.authorizeOwner(w, actor, media) {
		return
	}

	if err := h.Store.DeleteMedia(id); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.metrics().ObserveMediaEvent("deleted")
	h.logger().Info("media deleted", "media_id", id, "owner_id", actor.ID)
	writeJSON(w, http.StatusOK, map[string]string{"msg": "media deleted"})
}
