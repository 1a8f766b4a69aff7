// Package api exposes the app over a JSON HTTP API and as MCP tools.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/cory/internal/app"
	"github.com/kalambet/cory/internal/chat"
	"github.com/kalambet/cory/internal/creature"
	"github.com/kalambet/cory/internal/explore"
	"github.com/kalambet/cory/internal/generation"
	"github.com/kalambet/cory/internal/notify"
	"github.com/kalambet/cory/internal/storage"
)

const maxPhotoSize = 10 << 20 // 10MB

type AppDeps struct {
	App   *app.App
	Token string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/account", handleGetAccount(deps))
		r.Post("/account/reset", handleResetAccount(deps))
		r.Get("/export", handleExport(deps))

		r.Get("/creatures", handleListCreatures(deps))
		r.Get("/creatures/{id}", handleGetCreature(deps))
		r.Patch("/creatures/{id}", handleRenameCreature(deps))
		r.Post("/creatures/{id}/representative", handleSetRepresentative(deps))
		r.Get("/representative", handleGetRepresentative(deps))

		r.Post("/explorations", handleStartExploration(deps))
		r.Get("/explorations/current", handleGetExploration(deps))
		r.Delete("/explorations/current", handleCancelExploration(deps))

		r.Get("/chat", handleGetChat(deps))
		r.Post("/chat", handlePostChat(deps))

		r.Get("/notifications", handleListNotifications(deps))
		r.Post("/notifications/read", handleMarkNotificationsRead(deps))
	})

	// Sprites are referenced from records as plain URLs.
	r.Get(generation.ImagePathPrefix+"{id}", handleGetImage(deps))

	return r
}

func handleGetAccount(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.App.Collection.Summary())
	}
}

func handleResetAccount(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.App.Reset(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset account: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.App.Export())
	}
}

func handleListCreatures(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := deps.App.Collection.All()
		offset := min(parseIntParam(r, "offset", 0, 0), len(all))
		limit := min(parseIntParam(r, "limit", len(all), 0), len(all)-offset)
		writeJSON(w, http.StatusOK, all[offset:offset+limit])
	}
}

func handleGetCreature(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := deps.App.Collection.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "creature not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

type renameRequest struct {
	Name string `json:"name"`
}

func handleRenameCreature(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req renameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		rec, ok, err := deps.App.Collection.Rename(chi.URLParam(r, "id"), name)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "creature not found")
			return
		}
		if errors.Is(err, creature.ErrInvalid) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "renamed but failed to save: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleSetRepresentative(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok, err := deps.App.SetRepresentative(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "creature not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "representative set but failed to save: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleGetRepresentative(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := deps.App.Collection.Representative()
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "collection is empty")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// ExplorationView is the wire form of an exploration snapshot.
type ExplorationView struct {
	State            explore.State      `json:"state"`
	Photo            *creature.PhotoRef `json:"photo,omitempty"`
	StartedAt        *time.Time         `json:"startedAt,omitempty"`
	DurationSeconds  int                `json:"durationSeconds,omitempty"`
	RemainingSeconds int                `json:"remainingSeconds,omitempty"`
	ProducedID       string             `json:"producedId,omitempty"`
	Positions        [2]explore.Point   `json:"positions"`
}

func explorationView(s explore.Snapshot) ExplorationView {
	v := ExplorationView{
		State:            s.State,
		Photo:            s.Photo,
		DurationSeconds:  int(s.Duration / time.Second),
		RemainingSeconds: int((s.Remaining + time.Second - 1) / time.Second),
		ProducedID:       s.ProducedID,
		Positions:        s.Positions,
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt.UTC()
		v.StartedAt = &t
	}
	return v
}

// handleStartExploration accepts an optional multipart "photo" file. Without
// one the exploration produces an offline creature.
func handleStartExploration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+maxRequestBodySize)
		defer r.Body.Close()

		photo, err := readPhoto(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid photo upload: %v", err)
			return
		}

		err = deps.App.Explorer.Submit(r.Context(), photo)
		if errors.Is(err, explore.ErrAlreadyExploring) {
			httpError(w, http.StatusConflict, "conflict", "an exploration is already in progress")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to start exploration: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, explorationView(deps.App.Explorer.Status()))
	}
}

func readPhoto(r *http.Request) (*generation.Photo, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return nil, nil
	}
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		return nil, err
	}
	file, header, err := r.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return imagePhoto(header.Filename, header.Header.Get("Content-Type"), data)
}

// imagePhoto wraps data as a photo, sniffing the type when the declared one
// is missing or generic. Anything that is not an image is rejected.
func imagePhoto(name, mime string, data []byte) (*generation.Photo, error) {
	if len(data) > maxPhotoSize {
		return nil, fmt.Errorf("photo is larger than %d bytes", maxPhotoSize)
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, errors.New("photo must be an image, got " + mime)
	}
	return &generation.Photo{Name: name, MIMEType: mime, Data: data}, nil
}

func handleGetExploration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, explorationView(deps.App.Explorer.Status()))
	}
}

func handleCancelExploration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.App.Explorer.Cancel()
		if errors.Is(err, explore.ErrNotExploring) {
			httpError(w, http.StatusNotFound, "not_found", "no exploration in progress")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to cancel exploration: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

// ChatView is the conversation with the current representative.
type ChatView struct {
	Creature creature.Record `json:"creature"`
	Messages []chat.Message  `json:"messages"`
	Awaiting bool            `json:"awaiting"`
}

func handleGetChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok := deps.App.Collection.Representative()
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "collection is empty")
			return
		}
		writeJSON(w, http.StatusOK, ChatView{
			Creature: rep,
			Messages: deps.App.Chat.Open(rep),
			Awaiting: deps.App.Chat.Awaiting(),
		})
	}
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatReply struct {
	CreatureID string `json:"creatureId"`
	Name       string `json:"name"`
	Reply      string `json:"reply"`
}

func handlePostChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		reply, rep, err := deps.App.Talk(r.Context(), req.Message)
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		case errors.Is(err, chat.ErrAwaitingResponse):
			httpError(w, http.StatusConflict, "conflict", "still waiting for the previous reply")
			return
		case errors.Is(err, app.ErrNoRepresentative):
			httpError(w, http.StatusNotFound, "not_found", "collection is empty")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ChatReply{CreatureID: rep.ID, Name: rep.Name, Reply: reply})
	}
}

type NotificationList struct {
	Notices   []notify.Notice `json:"notices"`
	HasUnread bool            `json:"hasUnread"`
}

func handleListNotifications(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var since int64
		if s := r.URL.Query().Get("since"); s != "" {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid since: %q", s)
				return
			}
			since = v
		}
		notices := deps.App.Notices.List(since)
		if notices == nil {
			notices = []notify.Notice{}
		}
		writeJSON(w, http.StatusOK, NotificationList{Notices: notices, HasUnread: deps.App.Notices.HasUnread()})
	}
}

func handleMarkNotificationsRead(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.App.Notices.MarkRead()
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

func handleGetImage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		img, err := deps.App.Storage.GetImage(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "image not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get image: %v", err)
			return
		}
		w.Header().Set("Content-Type", img.MIMEType)
		w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
		w.Write(img.Data)
	}
}
