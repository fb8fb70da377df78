// events.go - JSON API over the events table.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"event-board/internal/events"
)

// EventStore is the persistence the handlers need. *events.Gateway
// implements it.
type EventStore interface {
	Insert(ctx context.Context, f events.Fields, image events.Image, timestamp string) (int64, error)
	Update(ctx context.Context, id int64, f events.Fields, image, previous events.Image) error
	Delete(ctx context.Context, id int64) (events.Image, error)
	Get(ctx context.Context, id int64) (events.Event, error)
	List(ctx context.Context) ([]events.Event, error)
	Search(ctx context.Context, col events.Column, value string) ([]events.Event, error)
	Distinct(ctx context.Context, col events.Column) ([]string, error)
}

// timestampLayout is RFC 3339 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// storeError writes the response for a gateway failure.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, events.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	s.log.Error("event_store_failed", "rid", RequestIDFromContext(r.Context()), "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// formError writes the response for a body that could not be parsed.
func (s *Server) formError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= 500 {
		s.log.Error("event_form_failed", "rid", RequestIDFromContext(r.Context()), "err", err)
	}
	writeError(w, status, msg)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.storeError(w, r, "list", err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": list})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid event id")
		return
	}
	ev, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": ev})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseEventForm(w, r)
	if err != nil {
		s.formError(w, r, err)
		return
	}
	if err := form.fields.Validate(); err != nil {
		s.discardUpload(form)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if form.image == nil && s.requireImage {
		writeError(w, http.StatusBadRequest, "Image file is required")
		return
	}

	var img events.Image
	if form.image != nil {
		img, _, err = s.storeImage(r.Context(), form.image)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	id, err := s.store.Insert(r.Context(), form.fields, img, s.now().UTC().Format(timestampLayout))
	if err != nil {
		s.storeError(w, r, "insert", err)
		return
	}
	s.log.Info("event_created", "rid", RequestIDFromContext(r.Context()), "id", id, "image", img.Kind.String())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid event id")
		return
	}
	form, err := s.parseEventForm(w, r)
	if err != nil {
		s.formError(w, r, err)
		return
	}
	if err := form.fields.Validate(); err != nil {
		s.discardUpload(form)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.discardUpload(form)
		s.storeError(w, r, "get", err)
		return
	}
	previous := existing.ImageRef()

	img, uploadedRemote := previous, false
	if form.image != nil {
		img, uploadedRemote, err = s.storeImage(r.Context(), form.image)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	if err := s.store.Update(r.Context(), id, form.fields, img, previous); err != nil {
		s.storeError(w, r, "update", err)
		return
	}
	if uploadedRemote && img != previous {
		s.releaseRemote(r.Context(), previous)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid event id")
		return
	}
	img, err := s.store.Delete(r.Context(), id)
	if err != nil {
		s.storeError(w, r, "delete", err)
		return
	}
	s.releaseRemote(r.Context(), img)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDistinct(w http.ResponseWriter, r *http.Request) {
	col, err := events.ParseColumn(r.PathValue("column"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid column")
		return
	}
	values, err := s.store.Distinct(r.Context(), col)
	if err != nil {
		s.storeError(w, r, "distinct", err)
		return
	}
	if values == nil {
		values = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": values})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	col, err := events.ParseColumn(q.Get("column"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid column")
		return
	}
	list, err := s.store.Search(r.Context(), col, q.Get("value"))
	if err != nil {
		s.storeError(w, r, "search", err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": list})
}

// discardUpload removes a saved upload that will not be used.
func (s *Server) discardUpload(form eventForm) {
	if form.image != nil {
		s.removeUpload(form.image.path)
	}
}

func (s *Server) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}
