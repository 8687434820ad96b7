package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/platinummonkey/quill/pkg/observability"
)

// Bucket names an object storage bucket
type Bucket string

const (
	BucketAvatars Bucket = "avatars"
	BucketImages  Bucket = "images"
)

// Buckets lists every bucket the service writes to
var Buckets = []Bucket{BucketAvatars, BucketImages}

const (
	// MaxUploadSize is the largest accepted upload
	MaxUploadSize = 10 << 20
	// AvatarCompressThreshold is the avatar size above which images are resized
	AvatarCompressThreshold = 1 << 20
	// AvatarMaxDimension bounds both sides of a compressed avatar
	AvatarMaxDimension = 800
	// AvatarJPEGQuality is the re-encode quality for compressed avatars
	AvatarJPEGQuality = 80
)

var (
	ErrTooLarge      = errors.New("file must be 10MB or smaller")
	ErrInvalidType   = errors.New("file must be an image")
	ErrUnknownBucket = errors.New("unknown bucket")
	ErrForeignURL    = errors.New("url does not belong to this bucket")
)

// Service uploads and removes user images
type Service struct {
	objects    ObjectStore
	publicURL  string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// NewService creates a media service. publicURL is the base that bucket
// names and keys are appended to when building object URLs.
func NewService(objects ObjectStore, publicURL string, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		objects:    objects,
		publicURL:  strings.TrimRight(publicURL, "/"),
		httpClient: newURLCheckClient(),
		metrics:    metrics,
		logger:     logger,
	}
}

// Upload validates and stores an image, returning its public URL.
// Avatars above AvatarCompressThreshold are resized and re-encoded as JPEG.
func (s *Service) Upload(ctx context.Context, bucket Bucket, userID, filename, contentType string, body io.Reader) (string, error) {
	if !validBucket(bucket) {
		return "", ErrUnknownBucket
	}
	if userID == "" {
		return "", fmt.Errorf("upload requires a user id")
	}

	data, err := io.ReadAll(io.LimitReader(body, MaxUploadSize+1))
	if err != nil {
		s.metrics.RecordUpload(string(bucket), "error")
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		s.metrics.RecordUpload(string(bucket), "too_large")
		return "", ErrTooLarge
	}
	// The declared type must agree with the bytes; the sniffed type is stored.
	detected := mimetype.Detect(data).String()
	if !strings.HasPrefix(contentType, "image/") || !strings.HasPrefix(detected, "image/") {
		s.metrics.RecordUpload(string(bucket), "invalid_type")
		return "", ErrInvalidType
	}
	contentType = detected

	ext := extension(filename, contentType)
	if bucket == BucketAvatars && len(data) > AvatarCompressThreshold {
		data, err = compressAvatar(data)
		if err != nil {
			s.metrics.RecordUpload(string(bucket), "invalid_type")
			return "", err
		}
		contentType, ext = "image/jpeg", "jpg"
	}

	key := fmt.Sprintf("%s/%s.%s", userID, uuid.NewString(), ext)
	if err := s.objects.Put(ctx, string(bucket), key, data, contentType); err != nil {
		s.metrics.RecordUpload(string(bucket), "error")
		return "", err
	}

	s.metrics.RecordUpload(string(bucket), "ok")
	s.logger.WithFields(map[string]interface{}{
		"bucket": bucket,
		"key":    key,
		"size":   len(data),
	}).Debug("image uploaded")
	return s.PublicURL(bucket, key), nil
}

// Delete removes the object behind a URL previously returned by Upload
func (s *Service) Delete(ctx context.Context, bucket Bucket, publicURL string) error {
	key, err := s.KeyFromURL(bucket, publicURL)
	if err != nil {
		return err
	}
	return s.objects.Delete(ctx, string(bucket), key)
}

// PublicURL builds the URL an object is served from
func (s *Service) PublicURL(bucket Bucket, key string) string {
	return s.publicURL + "/" + string(bucket) + "/" + key
}

// KeyFromURL recovers the object key from a public URL in bucket
func (s *Service) KeyFromURL(bucket Bucket, publicURL string) (string, error) {
	if !validBucket(bucket) {
		return "", ErrUnknownBucket
	}
	prefix := s.publicURL + "/" + string(bucket) + "/"
	key, ok := strings.CutPrefix(publicURL, prefix)
	if !ok || key == "" || strings.Contains(key, "..") {
		return "", ErrForeignURL
	}
	return key, nil
}

func compressAvatar(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidType, err)
	}

	img = imaging.Fit(img, AvatarMaxDimension, AvatarMaxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(AvatarJPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode avatar: %w", err)
	}
	return buf.Bytes(), nil
}

// extension picks the key suffix from the filename, falling back to the content type
func extension(filename, contentType string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext != "" && isAlnum(ext) {
		return ext
	}

	sub := strings.TrimPrefix(contentType, "image/")
	if i := strings.IndexAny(sub, "+;"); i >= 0 {
		sub = sub[:i]
	}
	switch sub {
	case "jpeg":
		return "jpg"
	case "":
		return "bin"
	}
	if !isAlnum(sub) {
		return "bin"
	}
	return sub
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func validBucket(b Bucket) bool {
	for _, known := range Buckets {
		if b == known {
			return true
		}
	}
	return false
}
