package wiki

import (
	"context"
	"encoding/base64"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// MaxImageBytes is the largest accepted image payload. A payload of exactly
// this size is accepted.
const MaxImageBytes = 2 << 20

const imageRefPrefix = "img:"

var (
	// ErrImageTooLarge is returned when an image payload exceeds MaxImageBytes.
	ErrImageTooLarge = eris.New("image exceeds maximum size")
	// ErrUnsupportedImageType is returned for payloads that are not images.
	ErrUnsupportedImageType = eris.New("unsupported image type")
	// ErrEmptyImage is returned for empty payloads.
	ErrEmptyImage = eris.New("image payload is empty")
	// ErrImageNotFound indicates that no image is stored under an id.
	ErrImageNotFound = eris.New("image not found")
)

// imageRefPattern matches references only inside src attributes, so img:<id>
// quoted in prose or code blocks is left alone.
var imageRefPattern = regexp.MustCompile(`src="img:([A-Za-z0-9_-]+)"`)

// ImageRef returns the inline reference used in page content for id.
func ImageRef(id string) string {
	return imageRefPrefix + id
}

// SaveImage validates and stores an image, returning its identifier. Nothing
// is written when validation fails. An empty mimeType is sniffed from data.
func (s *service) SaveImage(ctx context.Context, data []byte, mimeType string, name string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if len(data) > MaxImageBytes {
		return "", eris.Wrapf(ErrImageTooLarge, "%d bytes exceeds %d", len(data), MaxImageBytes)
	}

	mediaType, err := imageMediaType(data, mimeType)
	if err != nil {
		return "", err
	}

	image := &Image{
		ID:        newShortID(),
		Data:      "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data),
		MimeType:  mediaType,
		Name:      strings.TrimSpace(name),
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.CreateImage(ctx, image); err != nil {
		s.recordError(logrus.Fields{"name": image.Name, "mime_type": mediaType}, err, "storing image")
		return "", eris.Wrap(err, "storing image")
	}

	return image.ID, nil
}

// GetImage returns the stored image with id.
func (s *service) GetImage(ctx context.Context, id string) (*Image, error) {
	id = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(id), imageRefPrefix))
	if id == "" {
		return nil, eris.Wrap(ErrImageNotFound, "image id is empty")
	}

	images, err := s.repo.GetImages(ctx, []string{id})
	if err != nil {
		s.recordError(logrus.Fields{"image_id": id}, err, "loading image")
		return nil, eris.Wrapf(err, "loading image: %s", id)
	}

	image, ok := images[id]
	if !ok {
		return nil, eris.Wrapf(ErrImageNotFound, "image %s", id)
	}
	return &image, nil
}

// DecodeImage returns the raw bytes and media type held in an image's data URL.
func DecodeImage(image *Image) ([]byte, string, error) {
	if image == nil {
		return nil, "", eris.New("image is nil")
	}

	header, payload, ok := strings.Cut(image.Data, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, "", eris.Errorf("malformed image data url for %s", image.ID)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", eris.Wrapf(err, "decoding image %s", image.ID)
	}

	mediaType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	return raw, mediaType, nil
}

// ResolveImageRefs replaces every src="img:<id>" attribute in html with the stored
// data URL. References to unknown images are left untouched and logged, and a
// failed lookup returns html unchanged.
func (s *service) ResolveImageRefs(ctx context.Context, html string) string {
	matches := imageRefPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		return html
	}

	ids := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		if _, ok := seen[match[1]]; ok {
			continue
		}
		seen[match[1]] = struct{}{}
		ids = append(ids, match[1])
	}

	images, err := s.repo.GetImages(ctx, ids)
	if err != nil {
		s.recordError(logrus.Fields{"image_ids": ids}, err, "resolving image references")
		return html
	}

	for _, id := range ids {
		if _, ok := images[id]; !ok && s.logger != nil {
			s.logger.WithFields(logrus.Fields{"component": "wiki.images", "image_id": id}).Warn("unresolved image reference")
		}
	}

	return imageRefPattern.ReplaceAllStringFunc(html, func(attr string) string {
		id := imageRefPattern.FindStringSubmatch(attr)[1]
		image, ok := images[id]
		if !ok {
			return attr
		}
		return `src="` + image.Data + `"`
	})
}

func imageMediaType(data []byte, declared string) (string, error) {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		declared = http.DetectContentType(data)
	}

	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", eris.Wrapf(ErrUnsupportedImageType, "parsing mime type %q", declared)
	}

	mediaType = strings.ToLower(mediaType)
	if !strings.HasPrefix(mediaType, "image/") {
		return "", eris.Wrapf(ErrUnsupportedImageType, "mime type %q", mediaType)
	}

	return mediaType, nil
}

func newShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
