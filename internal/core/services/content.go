package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// mediaExtensions maps accepted media types to storage file extensions.
var mediaExtensions = map[string]string{
	"application/pdf": "pdf",
	"image/png":       "png",
	"image/jpeg":      "jpg",
	"image/tiff":      "tiff",
	"image/webp":      "webp",
	"image/heic":      "heic",
}

// extensionMediaTypes is the declared-name fallback when sniffing is inconclusive.
var extensionMediaTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heic",
}

// ContentStore stores uploaded bytes once per content address.
type ContentStore struct {
	files  driven.FileStore
	blobs  driven.BlobStorage
	cfg    domain.ContentConfig
	logger *slog.Logger
	now    func() time.Time
}

// ContentStoreConfig holds dependencies for ContentStore.
type ContentStoreConfig struct {
	Files   driven.FileStore
	Blobs   driven.BlobStorage
	Content domain.ContentConfig
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewContentStore creates a new content store.
func NewContentStore(cfg ContentStoreConfig) *ContentStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	content := cfg.Content
	if content.MaxBytes <= 0 {
		content.MaxBytes = domain.DefaultContentConfig().MaxBytes
	}
	if len(content.AllowedMediaTypes) == 0 {
		content.AllowedMediaTypes = domain.DefaultContentConfig().AllowedMediaTypes
	}

	return &ContentStore{
		files:  cfg.Files,
		blobs:  cfg.Blobs,
		cfg:    content,
		logger: logger,
		now:    now,
	}
}

// ContentAddress returns the hex SHA-256 digest of data.
func ContentAddress(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BlobLocation returns the storage key for an address: a two-character
// fan-out directory, the digest and the media type's extension.
func BlobLocation(address, mediaType string) string {
	ext, ok := mediaExtensions[mediaType]
	if !ok {
		ext = "bin"
	}
	return address[:2] + "/" + address + "." + ext
}

// DetectMediaType sniffs the media type of data. The declared file name's
// extension is consulted only when the bytes are inconclusive.
func DetectMediaType(data []byte, declaredName string) string {
	switch {
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return "image/tiff"
	case isHEIF(data):
		return "image/heic"
	}

	sniffed, _, _ := strings.Cut(http.DetectContentType(data), ";")
	sniffed = strings.TrimSpace(sniffed)
	if _, ok := mediaExtensions[sniffed]; ok {
		return sniffed
	}

	if mt, ok := extensionMediaTypes[strings.ToLower(filepath.Ext(declaredName))]; ok {
		if sniffed == "application/octet-stream" || sniffed == "" {
			return mt
		}
	}
	return sniffed
}

// isHEIF checks for an ISO-BMFF ftyp box with a HEIF brand.
func isHEIF(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "hevc", "heim", "heis", "mif1", "msf1":
		return true
	}
	return false
}

// Store persists data under its content address. Storing identical bytes
// again returns the existing record with AlreadyExisted set and performs
// no blob write.
func (c *ContentStore) Store(ctx context.Context, data []byte, declaredName string) (*domain.StoreResult, error) {
	if len(data) == 0 {
		return nil, domain.ErrPayloadEmpty
	}
	if int64(len(data)) > c.cfg.MaxBytes {
		return nil, domain.RejectPayload(domain.ErrPayloadTooLarge, "payload of %d bytes exceeds limit of %d", len(data), c.cfg.MaxBytes)
	}

	address := ContentAddress(data)

	existing, err := c.files.GetByAddress(ctx, address)
	if err == nil {
		if err := c.heal(ctx, existing, data); err != nil {
			return nil, err
		}
		return &domain.StoreResult{File: existing, AlreadyExisted: true}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up %s: %w", address, err)
	}

	mediaType := DetectMediaType(data, declaredName)
	if !c.cfg.Allows(mediaType) {
		return nil, domain.RejectPayload(domain.ErrMediaTypeForbidden, "media type %s is not accepted", mediaType)
	}

	location := BlobLocation(address, mediaType)
	created, err := c.blobs.Put(ctx, location, data)
	if err != nil {
		return nil, fmt.Errorf("failed to write blob %s: %w", location, err)
	}

	file := &domain.StoredFile{
		ID:           domain.GenerateID(),
		Address:      address,
		Size:         int64(len(data)),
		MediaType:    mediaType,
		Location:     location,
		OriginalName: filepath.Base(strings.TrimSpace(declaredName)),
		CreatedAt:    c.now(),
	}
	if file.OriginalName == "." {
		file.OriginalName = ""
	}

	if err := c.files.Create(ctx, file); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("failed to record %s: %w", address, err)
		}
		// Lost the race to a concurrent writer of the same bytes.
		winner, err := c.files.GetByAddress(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read %s: %w", address, err)
		}
		return &domain.StoreResult{File: winner, AlreadyExisted: true}, nil
	}

	c.logger.Info("stored document",
		"address", address,
		"media_type", mediaType,
		"size", file.Size,
		"blob_created", created,
	)
	return &domain.StoreResult{File: file}, nil
}

// heal rewrites a blob whose record exists but whose object is missing.
func (c *ContentStore) heal(ctx context.Context, file *domain.StoredFile, data []byte) error {
	ok, err := c.blobs.Exists(ctx, file.Location)
	if err != nil {
		return fmt.Errorf("failed to check blob %s: %w", file.Location, err)
	}
	if ok {
		return nil
	}
	c.logger.Warn("restoring missing blob", "address", file.Address, "location", file.Location)
	if _, err := c.blobs.Put(ctx, file.Location, data); err != nil {
		return fmt.Errorf("failed to restore blob %s: %w", file.Location, err)
	}
	return nil
}

// Retrieve returns the bytes stored under address.
func (c *ContentStore) Retrieve(ctx context.Context, address string) ([]byte, error) {
	file, err := c.files.GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	return c.blobs.Get(ctx, file.Location)
}

// Stat returns the stored file record for address.
func (c *ContentStore) Stat(ctx context.Context, address string) (*domain.StoredFile, error) {
	return c.files.GetByAddress(ctx, address)
}

// Delete removes a document record (its links cascade) and then its blob.
func (c *ContentStore) Delete(ctx context.Context, documentID string) error {
	file, err := c.files.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if err := c.files.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	if err := c.blobs.Delete(ctx, file.Location); err != nil {
		c.logger.Warn("failed to delete blob", "location", file.Location, "error", err)
	}
	c.logger.Info("deleted document", "document_id", documentID, "address", file.Address)
	return nil
}
