package uploads

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxFileSize        = 5 << 20 // per file
	MaxFilesPerRequest = 20

	thumbnailWidth = 320
)

// upload categories, each mapping to its own public directory
const (
	CategoryRecipes  = "recipes"
	CategorySteps    = "steps"
	CategoryStudents = "students"
)

var ErrNotAnImage = errors.New("file is not a supported image")
var ErrFileTooLarge = fmt.Errorf("file exceeds the %d byte limit", MaxFileSize)
var ErrTooManyFiles = fmt.Errorf("request exceeds the %d file limit", MaxFilesPerRequest)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// StoredFile describes a persisted upload. Path identifies the file for
// deletion, URL is what clients fetch.
type StoredFile struct {
	Path      string `json:"path"`
	URL       string `json:"url"`
	Extension string `json:"extension"`
}

type Storage struct {
	root   string // filesystem directory holding the uploads tree
	logger *zap.Logger
}

func NewStorage(root string, logger *zap.Logger) *Storage {
	return &Storage{root: root, logger: logger}
}

// CheckCount rejects requests carrying more files than the per-request cap.
func CheckCount(fileHeaders ...[]*multipart.FileHeader) error {
	total := 0
	for _, headers := range fileHeaders {
		total += len(headers)
	}
	if total > MaxFilesPerRequest {
		return ErrTooManyFiles
	}
	return nil
}

// Save persists one uploaded image under the category's public directory
// with a random filename, keeping the original extension. The content is
// decoded to verify it really is an image.
func (s *Storage) Save(fh *multipart.FileHeader, category string) (*StoredFile, error) {
	if fh.Size > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedExtensions[ext] {
		return nil, ErrNotAnImage
	}

	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer file.Close()

	if _, err := imaging.Decode(file); err != nil {
		return nil, ErrNotAnImage
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding upload: %w", err)
	}

	name := uuid.NewString() + ext
	relPath := filepath.Join("uploads", category, name)
	fullPath := filepath.Join(s.root, relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	dst, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("creating upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("writing upload file: %w", err)
	}

	return &StoredFile{
		Path:      relPath,
		URL:       "/" + filepath.ToSlash(relPath),
		Extension: strings.TrimPrefix(ext, "."),
	}, nil
}

// SaveCover stores a recipe cover image and writes a 320px-wide thumbnail
// next to it. Thumbnail failure is logged, not fatal: the full image is
// already in place.
func (s *Storage) SaveCover(fh *multipart.FileHeader) (*StoredFile, error) {
	stored, err := s.Save(fh, CategoryRecipes)
	if err != nil {
		return nil, err
	}

	fullPath := filepath.Join(s.root, stored.Path)
	img, err := imaging.Open(fullPath)
	if err != nil {
		s.logger.Warn("cover thumbnail: reopen failed", zap.String("path", stored.Path), zap.Error(err))
		return stored, nil
	}
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	if err := imaging.Save(thumb, thumbPath(fullPath)); err != nil {
		s.logger.Warn("cover thumbnail: save failed", zap.String("path", stored.Path), zap.Error(err))
	}
	return stored, nil
}

// Delete removes a stored file (and its thumbnail, when present) by the
// path returned from Save. Best-effort: failures are logged, never returned.
func (s *Storage) Delete(storedPath string) {
	if storedPath == "" {
		return
	}
	fullPath := filepath.Join(s.root, storedPath)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to delete stored file", zap.String("path", storedPath), zap.Error(err))
	}
	if err := os.Remove(thumbPath(fullPath)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to delete thumbnail", zap.String("path", storedPath), zap.Error(err))
	}
}

// DeleteAll best-effort deletes every path in the list.
func (s *Storage) DeleteAll(paths []string) {
	for _, p := range paths {
		s.Delete(p)
	}
}

func thumbPath(fullPath string) string {
	ext := filepath.Ext(fullPath)
	return strings.TrimSuffix(fullPath, ext) + "_thumb" + ext
}
