package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Table is the events table name, kept from the first deployment of the site.
const Table = "webdevsite"

const selectColumns = `id, COALESCE(name, ''), COALESCE(event, ''), COALESCE(venue, ''),
	COALESCE(topic, ''), COALESCE(details, ''), COALESCE(image, ''), COALESCE(timestamp, '')`

var tracer = otel.Tracer("event-board/internal/events")

// Options configures a Gateway.
type Options struct {
	// UploadsDir is where local image filenames are resolved.
	UploadsDir string
	// ErrorLog receives every SQL failure. Nil disables it.
	ErrorLog *ErrorLog
	Logger   *slog.Logger
}

// Gateway runs the SQL for events and removes local image files that a
// mutation orphaned.
type Gateway struct {
	db         *sql.DB
	uploadsDir string
	errLog     *ErrorLog
	log        *slog.Logger
}

// NewGateway returns a gateway over db.
func NewGateway(db *sql.DB, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		db:         db,
		uploadsDir: opts.UploadsDir,
		errLog:     opts.ErrorLog,
		log:        logger,
	}
}

// UploadsDir returns the directory local images live in.
func (g *Gateway) UploadsDir() string { return g.uploadsDir }

// Insert stores a new event and returns its generated id.
func (g *Gateway) Insert(ctx context.Context, f Fields, image Image, timestamp string) (id int64, err error) {
	ctx, span := tracer.Start(ctx, "events.Insert")
	defer func() { g.finish(span, err) }()

	err = g.db.QueryRowContext(ctx,
		`INSERT INTO `+Table+` (name, event, venue, topic, details, image, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		f.Name, f.Event, f.Venue, f.Topic, f.Details, image.String(), timestamp,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	span.SetAttributes(attribute.Int64("event.id", id))
	return id, nil
}

// Update overwrites every editable column of the event. When the image
// changed and the previous one was a local file, that file is removed; a
// failed removal is logged and does not fail the update.
func (g *Gateway) Update(ctx context.Context, id int64, f Fields, image, previous Image) (err error) {
	ctx, span := tracer.Start(ctx, "events.Update", trace.WithAttributes(attribute.Int64("event.id", id)))
	defer func() { g.finish(span, err) }()

	res, err := g.db.ExecContext(ctx,
		`UPDATE `+Table+`
		SET name = $1, event = $2, venue = $3, topic = $4, details = $5, image = $6
		WHERE id = $7`,
		f.Name, f.Event, f.Venue, f.Topic, f.Details, image.String(), id,
	)
	if err != nil {
		return fmt.Errorf("update event %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if image.String() != previous.String() {
		g.removeLocal(previous)
	}
	return nil
}

// Delete removes the event and, when its image was a local file, the file.
// The removed image is returned so the caller can release remote storage.
func (g *Gateway) Delete(ctx context.Context, id int64) (image Image, err error) {
	ctx, span := tracer.Start(ctx, "events.Delete", trace.WithAttributes(attribute.Int64("event.id", id)))
	defer func() { g.finish(span, err) }()

	var stored sql.NullString
	err = g.db.QueryRowContext(ctx, `SELECT image FROM `+Table+` WHERE id = $1`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return Image{}, ErrNotFound
	}
	if err != nil {
		return Image{}, fmt.Errorf("load event %d: %w", id, err)
	}

	if _, err = g.db.ExecContext(ctx, `DELETE FROM `+Table+` WHERE id = $1`, id); err != nil {
		return Image{}, fmt.Errorf("delete event %d: %w", id, err)
	}

	image = ParseImage(stored.String)
	g.removeLocal(image)
	return image, nil
}

// Get returns a single event.
func (g *Gateway) Get(ctx context.Context, id int64) (ev Event, err error) {
	ctx, span := tracer.Start(ctx, "events.Get", trace.WithAttributes(attribute.Int64("event.id", id)))
	defer func() { g.finish(span, err) }()

	row := g.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM `+Table+` WHERE id = $1`, id)
	ev, err = scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("get event %d: %w", id, err)
	}
	return ev, nil
}

// List returns every event, newest first.
func (g *Gateway) List(ctx context.Context) ([]Event, error) {
	return g.Query(ctx, `SELECT `+selectColumns+` FROM `+Table+` ORDER BY id DESC`)
}

// Search returns the events whose column equals value exactly, newest first.
func (g *Gateway) Search(ctx context.Context, col Column, value string) ([]Event, error) {
	if _, err := ParseColumn(string(col)); err != nil {
		return nil, err
	}
	return g.Query(ctx,
		`SELECT `+selectColumns+` FROM `+Table+` WHERE `+col.String()+` = $1 ORDER BY id DESC`,
		value,
	)
}

// Distinct returns the sorted distinct non-null values of col.
func (g *Gateway) Distinct(ctx context.Context, col Column) (values []string, err error) {
	if _, err := ParseColumn(string(col)); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "events.Distinct", trace.WithAttributes(attribute.String("event.column", col.String())))
	defer func() { g.finish(span, err) }()

	c := col.String()
	rows, err := g.db.QueryContext(ctx,
		`SELECT DISTINCT `+c+` FROM `+Table+` WHERE `+c+` IS NOT NULL ORDER BY `+c+` ASC`)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", c, err)
	}
	defer func() { _ = rows.Close() }()

	values = []string{}
	for rows.Next() {
		var v string
		if err = rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("distinct %s: %w", c, err)
		}
		values = append(values, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("distinct %s: %w", c, err)
	}
	return values, nil
}

// Query runs an arbitrary statement that selects event-shaped rows.
func (g *Gateway) Query(ctx context.Context, query string, args ...any) (events []Event, err error) {
	ctx, span := tracer.Start(ctx, "events.Query")
	defer func() { g.finish(span, err) }()

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events = []Event{}
	for rows.Next() {
		ev, scanErr := scanEvent(rows)
		if scanErr != nil {
			err = fmt.Errorf("scan event: %w", scanErr)
			return nil, err
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (Event, error) {
	var ev Event
	err := r.Scan(&ev.ID, &ev.Name, &ev.Event, &ev.Venue, &ev.Topic, &ev.Details, &ev.Image, &ev.Timestamp)
	return ev, err
}

// removeLocal deletes the file behind a local image. Remote URLs and
// absolute paths are never touched; a file that is already gone is fine.
func (g *Gateway) removeLocal(img Image) {
	if !img.IsLocal() || g.uploadsDir == "" {
		return
	}
	path := filepath.Join(g.uploadsDir, filepath.Base(img.Value))
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		g.log.Warn("image_cleanup_failed", "path", path, "err", err)
	}
}

func (g *Gateway) finish(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidColumn) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.errLog.Record(err)
	}
	span.End()
}
