// images.go - Event form parsing and image storage.
//
// An uploaded image is first written under the uploads directory, then
// pushed to the blob store. On success the local copy goes away and the
// blob URL is recorded. On failure development keeps the local file while
// production removes it and fails the request.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"event-board/internal/blob"
	"event-board/internal/events"
)

const (
	// MaxImageBytes is the largest accepted image upload.
	MaxImageBytes = 5 << 20
	// formOverhead leaves room for the text fields and multipart framing.
	formOverhead    = 1 << 20
	multipartMemory = 1 << 20
	imageField      = "image"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/gif":  true,
	"image/png":  true,
}

// imageExtTypes maps the accepted extensions to the media type each implies.
var imageExtTypes = map[string]string{
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".gif":  "image/gif",
	".png":  "image/png",
}

// requestError carries the HTTP status a form problem maps to.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// errorStatus maps a form error to a status code and message.
func errorStatus(err error) (int, string) {
	var re *requestError
	if errors.As(err, &re) {
		return re.status, re.msg
	}
	return http.StatusInternalServerError, err.Error()
}

// savedImage is a freshly uploaded file sitting in the uploads directory.
type savedImage struct {
	path     string
	filename string
}

type eventForm struct {
	fields events.Fields
	image  *savedImage
}

type eventJSON struct {
	Name    string `json:"name"`
	Event   string `json:"event"`
	Venue   string `json:"venue"`
	Topic   string `json:"topic"`
	Details string `json:"details"`
}

// parseEventForm reads the event fields from a multipart, urlencoded or
// JSON body. A multipart "image" part is validated and saved locally.
func (s *Server) parseEventForm(w http.ResponseWriter, r *http.Request) (eventForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageBytes+formOverhead)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		var body eventJSON
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return eventForm{}, bodyError(err)
		}
		return eventForm{fields: events.Fields(body).Normalize()}, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return eventForm{}, bodyError(err)
		}
		form := eventForm{fields: formFields(r)}
		file, header, err := r.FormFile(imageField)
		if errors.Is(err, http.ErrMissingFile) {
			return form, nil
		}
		if err != nil {
			return eventForm{}, bodyError(err)
		}
		defer file.Close()

		img, err := s.saveUpload(file, header)
		if err != nil {
			return eventForm{}, err
		}
		form.image = img
		return form, nil

	default:
		if err := r.ParseForm(); err != nil {
			return eventForm{}, bodyError(err)
		}
		return eventForm{fields: formFields(r)}, nil
	}
}

func formFields(r *http.Request) events.Fields {
	return events.Fields{
		Name:    r.FormValue("name"),
		Event:   r.FormValue("event"),
		Venue:   r.FormValue("venue"),
		Topic:   r.FormValue("topic"),
		Details: r.FormValue("details"),
	}.Normalize()
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &requestError{status: http.StatusRequestEntityTooLarge, msg: "File too large. Maximum size is 5MB."}
	}
	return badRequest("Invalid request body")
}

// saveUpload checks the part and copies it to a fresh name under the
// uploads directory.
func (s *Server) saveUpload(file multipart.File, header *multipart.FileHeader) (*savedImage, error) {
	if header.Size > MaxImageBytes {
		return nil, &requestError{status: http.StatusRequestEntityTooLarge, msg: "File too large. Maximum size is 5MB."}
	}
	head := make([]byte, sniffLen)
	hn, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:hn]
	if err := validateImage(header.Filename, header.Header.Get("Content-Type"), head); err != nil {
		s.log.Info("upload_rejected", "file", header.Filename, "reason", err)
		return nil, badRequest("Invalid file type. Only JPEG, JPG, GIF, and PNG are allowed.")
	}

	filename := s.uploadName(header.Filename)
	path := filepath.Join(s.uploadsDir, filename)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	body := io.MultiReader(bytes.NewReader(head), file)
	n, err := io.Copy(dst, io.LimitReader(body, MaxImageBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxImageBytes {
		err = &requestError{status: http.StatusRequestEntityTooLarge, msg: "File too large. Maximum size is 5MB."}
	}
	if err != nil {
		s.removeUpload(path)
		var re *requestError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, fmt.Errorf("save upload: %w", err)
	}
	return &savedImage{path: path, filename: filename}, nil
}

// uploadName builds "<unix-ms>_<9 random chars><ext>".
func (s *Server) uploadName(original string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	ext := strings.ToLower(filepath.Ext(original))
	if _, ok := imageExtTypes[ext]; !ok {
		ext = ""
	}
	return fmt.Sprintf("%d_%s%s", s.now().UnixMilli(), suffix, ext)
}

func (s *Server) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("upload_cleanup_failed", "path", path, "err", err)
	}
}

// errBlobUnavailable is returned by storeImage when production requires the
// blob store and the upload failed.
var errBlobUnavailable = errors.New("image upload failed")

// storeImage pushes a saved upload to the blob store. remote reports whether
// the image ended up there.
func (s *Server) storeImage(ctx context.Context, img *savedImage) (ref events.Image, remote bool, err error) {
	res := s.blob.Put(ctx, blob.KeyPrefix+img.filename, img.path)
	if res.Success {
		s.removeUpload(img.path)
		return events.RemoteImage(res.URL), true, nil
	}

	s.log.Warn("blob_put_failed",
		"rid", RequestIDFromContext(ctx),
		"file", img.filename,
		"err", res.Error,
	)
	if s.requireBlob {
		s.removeUpload(img.path)
		return events.Image{}, false, fmt.Errorf("%w: %s", errBlobUnavailable, res.Error)
	}
	return events.LocalImage(img.filename), false, nil
}

// releaseRemote deletes a blob-hosted image. Failures are logged only.
func (s *Server) releaseRemote(ctx context.Context, img events.Image) {
	if !img.IsRemote() {
		return
	}
	res := s.blob.Delete(ctx, img.String())
	if !res.Success {
		s.log.Warn("blob_delete_failed",
			"rid", RequestIDFromContext(ctx),
			"url", img.String(),
			"err", res.Error,
		)
	}
}
