package artifact

import (
	"IntelProd/pkg/s3"
	"IntelProd/pkg/utils"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"

	DefaultDir       = "static/annotated"
	DefaultURLPrefix = "/static/annotated"

	jpegExt = ".jpg"
)

type IStore interface {
	// SaveJPEG stores data under a fresh name and returns its reference.
	// Existing artifacts are never overwritten.
	SaveJPEG(ctx context.Context, data []byte) (string, error)
}

type localStore struct {
	dir       string
	urlPrefix string
	utils     utils.IUtils
}

func NewLocal(dir, urlPrefix string, u utils.IUtils) (IStore, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if urlPrefix == "" {
		urlPrefix = DefaultURLPrefix
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	return &localStore{
		dir:       dir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
		utils:     u,
	}, nil
}

func (s *localStore) SaveJPEG(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	for attempt := 0; attempt < 3; attempt++ {
		name := s.utils.NewArtifactName(jpegExt)

		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create artifact: %w", err)
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("write artifact: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close artifact: %w", err)
		}

		return path.Join(s.urlPrefix, name), nil
	}

	return "", errors.New("could not allocate a unique artifact name")
}

type s3Store struct {
	client s3.ItfS3
	prefix string
	utils  utils.IUtils
}

func NewS3(client s3.ItfS3, keyPrefix string, u utils.IUtils) IStore {
	return &s3Store{
		client: client,
		prefix: strings.Trim(keyPrefix, "/"),
		utils:  u,
	}
}

func (s *s3Store) SaveJPEG(ctx context.Context, data []byte) (string, error) {
	key := s.utils.NewArtifactName(jpegExt)
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	location, err := s.client.PutObject(ctx, key, data, "image/jpeg")
	if err != nil {
		return "", err
	}
	return location, nil
}
