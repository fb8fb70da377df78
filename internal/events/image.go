package events

import (
	"regexp"
	"strings"
)

// ImageKind tells where an image is stored.
type ImageKind int

const (
	// ImageNone means the event has no image.
	ImageNone ImageKind = iota
	// ImageLocal is a bare filename under the uploads directory.
	ImageLocal
	// ImageRemote is a full http(s) URL in blob storage.
	ImageRemote
	// ImagePath is an absolute path. It is never deleted by the gateway.
	ImagePath
)

func (k ImageKind) String() string {
	switch k {
	case ImageLocal:
		return "local"
	case ImageRemote:
		return "remote"
	case ImagePath:
		return "path"
	default:
		return "none"
	}
}

var remoteImage = regexp.MustCompile(`(?i)^https?://`)

// Image is the tagged form of the image column. The column itself keeps the
// plain string so rows written by older deployments stay readable.
type Image struct {
	Kind  ImageKind
	Value string
}

// ParseImage classifies a stored image string. Local means: not empty, no
// http(s) scheme, no leading slash.
func ParseImage(s string) Image {
	switch {
	case s == "":
		return Image{Kind: ImageNone}
	case remoteImage.MatchString(s):
		return Image{Kind: ImageRemote, Value: s}
	case strings.HasPrefix(s, "/"):
		return Image{Kind: ImagePath, Value: s}
	default:
		return Image{Kind: ImageLocal, Value: s}
	}
}

// LocalImage builds a local image reference for filename.
func LocalImage(filename string) Image { return ParseImage(filename) }

// RemoteImage builds a remote image reference for url.
func RemoteImage(url string) Image { return ParseImage(url) }

func (i Image) String() string { return i.Value }

func (i Image) IsLocal() bool  { return i.Kind == ImageLocal }
func (i Image) IsRemote() bool { return i.Kind == ImageRemote }
func (i Image) IsZero() bool   { return i.Kind == ImageNone }
