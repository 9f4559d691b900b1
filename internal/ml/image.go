package ml

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/franckalain/nutritrack/internal/models"
)

const defaultImageType = "image/jpeg"

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// ContentType infers an image MIME type from the file extension,
// defaulting to image/jpeg.
func ContentType(filename string) string {
	if t, ok := imageTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return defaultImageType
}

// localPath maps an image reference to a filesystem path. Plain paths and
// file:// URIs are accepted.
func localPath(ref models.ImageRef) (string, error) {
	if ref.URI == "" {
		return "", fmt.Errorf("empty image reference")
	}
	if !strings.Contains(ref.URI, "://") {
		return ref.URI, nil
	}
	u, err := url.Parse(ref.URI)
	if err != nil {
		return "", fmt.Errorf("invalid image uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported image uri scheme %q", u.Scheme)
	}
	return u.Path, nil
}

func readImage(ref models.ImageRef) (data []byte, filename string, err error) {
	path, err := localPath(ref)
	if err != nil {
		return nil, "", err
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	return data, filepath.Base(path), nil
}
