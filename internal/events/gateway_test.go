package events

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-board/internal/logging"
)

const sqliteSchema = `CREATE TABLE webdevsite (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT,
	event     TEXT,
	venue     TEXT,
	topic     TEXT,
	details   TEXT,
	image     TEXT,
	timestamp TEXT
)`

type fixture struct {
	gw      *Gateway
	db      *sql.DB
	uploads string
	logDir  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)

	uploads := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(uploads, 0o755))
	logDir := filepath.Join(dir, "logs")

	log := logging.Discard()
	gw := NewGateway(db, Options{
		UploadsDir: uploads,
		ErrorLog:   NewErrorLog(logDir, log),
		Logger:     log,
	})
	return fixture{gw: gw, db: db, uploads: uploads, logDir: logDir}
}

func (f fixture) writeUpload(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(f.uploads, name)
	require.NoError(t, os.WriteFile(p, []byte("img"), 0o644))
	return p
}

func sampleFields(name string) Fields {
	return Fields{Name: name, Event: "Tech Fair", Venue: "Hall A", Topic: "AI", Details: "..."}
}

func TestInsertGetRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.gw.Insert(ctx, sampleFields("Expo"), ParseImage("photo.png"), "2026-10-17T10:00:00.000Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	ev, err := f.gw.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Event{
		ID: 1, Name: "Expo", Event: "Tech Fair", Venue: "Hall A", Topic: "AI",
		Details: "...", Image: "photo.png", Timestamp: "2026-10-17T10:00:00.000Z",
	}, ev)
}

func TestInsertIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		id, err := f.gw.Insert(ctx, sampleFields("n"), Image{}, "ts")
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []string{"a", "b", "c"} {
		_, err := f.gw.Insert(ctx, sampleFields(n), Image{}, "ts")
		require.NoError(t, err)
	}
	list, err := f.gw.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func TestListEmptyIsNotNil(t *testing.T) {
	f := newFixture(t)
	list, err := f.gw.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestDistinctSortedWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, venue := range []string{"Hall B", "Hall A", "Hall B", "Annex"} {
		fields := sampleFields("x")
		fields.Venue = venue
		_, err := f.gw.Insert(ctx, fields, Image{}, "ts")
		require.NoError(t, err)
	}
	_, err := f.db.Exec(`INSERT INTO webdevsite (name) VALUES ('null venue')`)
	require.NoError(t, err)

	got, err := f.gw.Distinct(ctx, ColumnVenue)
	require.NoError(t, err)
	assert.Equal(t, []string{"Annex", "Hall A", "Hall B"}, got)
}

func TestDistinctRejectsUnknownColumn(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.Distinct(context.Background(), Column("details"))
	assert.ErrorIs(t, err, ErrInvalidColumn)
}

func TestSearchExactMatchNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topics := []string{"AI", "Cloud", "AI", "ai"}
	for i, topic := range topics {
		fields := sampleFields(string(rune('a' + i)))
		fields.Topic = topic
		_, err := f.gw.Insert(ctx, fields, Image{}, "ts")
		require.NoError(t, err)
	}

	got, err := f.gw.Search(ctx, ColumnTopic, "AI")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)
	for _, ev := range got {
		assert.Equal(t, "AI", ev.Topic)
	}
}

func TestSearchRejectsUnknownColumn(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.Search(context.Background(), Column("name; DROP TABLE webdevsite"), "x")
	assert.ErrorIs(t, err, ErrInvalidColumn)
}

func TestUpdateReplacesLocalImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldPath := f.writeUpload(t, "old.png")
	newPath := f.writeUpload(t, "new.png")

	id, err := f.gw.Insert(ctx, sampleFields("Expo"), ParseImage("old.png"), "ts")
	require.NoError(t, err)

	updated := sampleFields("Expo 2")
	require.NoError(t, f.gw.Update(ctx, id, updated, ParseImage("new.png"), ParseImage("old.png")))

	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, newPath)

	ev, err := f.gw.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Expo 2", ev.Name)
	assert.Equal(t, "new.png", ev.Image)
}

func TestUpdateSameImageKeepsFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.writeUpload(t, "same.png")

	id, err := f.gw.Insert(ctx, sampleFields("Expo"), ParseImage("same.png"), "ts")
	require.NoError(t, err)
	require.NoError(t, f.gw.Update(ctx, id, sampleFields("Expo"), ParseImage("same.png"), ParseImage("same.png")))
	assert.FileExists(t, p)
}

func TestUpdateRemotePreviousNeverTouchesDisk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// A file named like the URL basename must survive.
	decoy := f.writeUpload(t, "old.png")

	prev := ParseImage("https://blob.example.com/v1/blob/images/old.png")
	id, err := f.gw.Insert(ctx, sampleFields("Expo"), prev, "ts")
	require.NoError(t, err)
	require.NoError(t, f.gw.Update(ctx, id, sampleFields("Expo"), ParseImage("fresh.png"), prev))
	assert.FileExists(t, decoy)
}

func TestUpdateMissingFileIsNotAnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.gw.Insert(ctx, sampleFields("Expo"), ParseImage("gone.png"), "ts")
	require.NoError(t, err)
	assert.NoError(t, f.gw.Update(ctx, id, sampleFields("Expo"), ParseImage("next.png"), ParseImage("gone.png")))
}

func TestUpdateNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.gw.Update(context.Background(), 99, sampleFields("x"), Image{}, Image{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteLocalImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.writeUpload(t, "pic.gif")
	id, err := f.gw.Insert(ctx, sampleFields("Expo"), ParseImage("pic.gif"), "ts")
	require.NoError(t, err)

	img, err := f.gw.Delete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ImageLocal, img.Kind)
	assert.NoFileExists(t, p)

	_, err = f.gw.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemoteImageReturnsURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	url := "https://blob.example.com/v1/blob/images/pic.gif"
	decoy := f.writeUpload(t, "pic.gif")
	id, err := f.gw.Insert(ctx, sampleFields("Expo"), ParseImage(url), "ts")
	require.NoError(t, err)

	img, err := f.gw.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, img.IsRemote())
	assert.Equal(t, url, img.String())
	assert.FileExists(t, decoy)
}

func TestDeleteNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.Delete(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLErrorsAreLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.db.Exec(`DROP TABLE webdevsite`)
	require.NoError(t, err)

	_, err = f.gw.List(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	b, readErr := os.ReadFile(filepath.Join(f.logDir, ErrorLogFile))
	require.NoError(t, readErr)
	line := string(b)
	assert.True(t, strings.HasPrefix(line, "["), line)
	assert.Contains(t, line, "] SQL Error: ")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestNotFoundIsNotLogged(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.Get(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, filepath.Join(f.logDir, ErrorLogFile))
}
