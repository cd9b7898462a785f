package utils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	ErrNoFile       = errors.New("no file uploaded")
	ErrFileTooLarge = errors.New("file size exceeds limit")
)

var supportedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
}

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	NewArtifactName(ext string) string
	ReadImageFile(file *multipart.FileHeader) ([]byte, string, error)
}

type utils struct {
	maxFileSize int64
}

func New() IUtils {
	return &utils{
		maxFileSize: 10 * 1024 * 1024,
	}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	ms := ulid.Timestamp(t)
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// NewArtifactName returns a collision-resistant file name such as
// "3f2c...e1.jpg".
func (u *utils) NewArtifactName(ext string) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + ext
}

// ReadImageFile returns the upload bytes and its declared media type. The
// type is not checked here; the pipeline decides what it accepts.
func (u *utils) ReadImageFile(file *multipart.FileHeader) ([]byte, string, error) {
	if file == nil {
		return nil, "", ErrNoFile
	}

	if file.Size > u.maxFileSize {
		return nil, "", ErrFileTooLarge
	}

	src, err := file.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, u.maxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > u.maxFileSize {
		return nil, "", ErrFileTooLarge
	}

	return data, NormalizeContentType(file.Header.Get("Content-Type")), nil
}

// NormalizeContentType strips parameters and lower-cases the media type.
func NormalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

func IsSupportedImageType(contentType string) bool {
	_, ok := supportedImageTypes[NormalizeContentType(contentType)]
	return ok
}
