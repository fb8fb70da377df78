package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"event-board/internal/blob"
	"event-board/internal/events"
	"event-board/internal/logging"
)

func init() {
	passwordHashCost = bcrypt.MinCost
}

const (
	testUser = "admin"
	testPass = "admin123"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	gifBytes = append([]byte("GIF89a"), bytes.Repeat([]byte{0}, 64)...)
)

// fakeStore mimics the gateway in memory and records every call.
type fakeStore struct {
	mu     sync.Mutex
	rows   map[int64]events.Event
	nextID int64
	calls  []string
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[int64]events.Event{}}
}

func (f *fakeStore) record(op string) error {
	f.calls = append(f.calls, op)
	return f.err
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) Insert(_ context.Context, fl events.Fields, img events.Image, ts string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("insert"); err != nil {
		return 0, err
	}
	f.nextID++
	f.rows[f.nextID] = events.Event{
		ID: f.nextID, Name: fl.Name, Event: fl.Event, Venue: fl.Venue,
		Topic: fl.Topic, Details: fl.Details, Image: img.String(), Timestamp: ts,
	}
	return f.nextID, nil
}

func (f *fakeStore) Update(_ context.Context, id int64, fl events.Fields, img, _ events.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update"); err != nil {
		return err
	}
	ev, ok := f.rows[id]
	if !ok {
		return events.ErrNotFound
	}
	ev.Name, ev.Event, ev.Venue, ev.Topic, ev.Details = fl.Name, fl.Event, fl.Venue, fl.Topic, fl.Details
	ev.Image = img.String()
	f.rows[id] = ev
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id int64) (events.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete"); err != nil {
		return events.Image{}, err
	}
	ev, ok := f.rows[id]
	if !ok {
		return events.Image{}, events.ErrNotFound
	}
	delete(f.rows, id)
	return ev.ImageRef(), nil
}

func (f *fakeStore) Get(_ context.Context, id int64) (events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get"); err != nil {
		return events.Event{}, err
	}
	ev, ok := f.rows[id]
	if !ok {
		return events.Event{}, events.ErrNotFound
	}
	return ev, nil
}

func (f *fakeStore) sorted(keep func(events.Event) bool) []events.Event {
	var out []events.Event
	for _, ev := range f.rows {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (f *fakeStore) List(context.Context) ([]events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list"); err != nil {
		return nil, err
	}
	return f.sorted(func(events.Event) bool { return true }), nil
}

func columnValue(ev events.Event, col events.Column) string {
	switch col {
	case events.ColumnName:
		return ev.Name
	case events.ColumnEvent:
		return ev.Event
	case events.ColumnVenue:
		return ev.Venue
	default:
		return ev.Topic
	}
}

func (f *fakeStore) Search(_ context.Context, col events.Column, value string) ([]events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("search"); err != nil {
		return nil, err
	}
	return f.sorted(func(ev events.Event) bool { return columnValue(ev, col) == value }), nil
}

func (f *fakeStore) Distinct(_ context.Context, col events.Column) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("distinct"); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, ev := range f.rows {
		v := columnValue(ev, col)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out, nil
}

// fakeBlob records calls and succeeds or fails on demand.
type fakeBlob struct {
	mu      sync.Mutex
	ok      bool
	puts    []string
	deletes []string
}

func (b *fakeBlob) Put(_ context.Context, key, _ string) blob.PutResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts = append(b.puts, key)
	if !b.ok {
		return blob.PutResult{Error: "HTTP 500: boom"}
	}
	return blob.PutResult{Success: true, URL: "https://blob.test/" + key}
}

func (b *fakeBlob) Delete(_ context.Context, keyOrURL string) blob.DeleteResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, keyOrURL)
	if !b.ok {
		return blob.DeleteResult{Error: "HTTP 500: boom"}
	}
	return blob.DeleteResult{Success: true}
}

type testEnv struct {
	srv     *Server
	h       http.Handler
	store   *fakeStore
	blob    *fakeBlob
	uploads string
	public  string
}

func newTestEnv(t *testing.T, opts ...func(*Config)) testEnv {
	t.Helper()
	env := testEnv{
		store:   newFakeStore(),
		blob:    &fakeBlob{ok: true},
		uploads: t.TempDir(),
		public:  t.TempDir(),
	}
	cfg := Config{
		Addr:    ":0",
		Version: "test",
		Auth: AuthConfig{
			Username:      testUser,
			Password:      testPass,
			SessionSecret: "test-secret",
			SessionTTL:    time.Hour,
		},
		Events:     env.store,
		Blob:       env.blob,
		UploadsDir: env.uploads,
		PublicDir:  env.public,
		Logger:     logging.Discard(),
		Now:        func() time.Time { return time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC) },
	}
	for _, o := range opts {
		o(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	env.srv = srv
	env.h = srv.Handler()
	return env
}

func (e testEnv) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func (e testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	body := strings.NewReader(fmt.Sprintf(`{"username":%q,"password":%q}`, testUser, testPass))
	req := httptest.NewRequest(http.MethodPost, "/api/login", body)
	req.Header.Set("Content-Type", "application/json")
	w := e.do(req, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	for _, c := range w.Result().Cookies() {
		if c.Name == "eb_session" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type upload struct {
	filename    string
	contentType string
	data        []byte
}

func eventFields(name string) map[string]string {
	return map[string]string{
		"name":    name,
		"event":   "Tech Fair",
		"venue":   "Hall A",
		"topic":   "AI",
		"details": "...",
	}
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, file *upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, file.filename))
		h.Set("Content-Type", file.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = io.Copy(part, bytes.NewReader(file.data))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
