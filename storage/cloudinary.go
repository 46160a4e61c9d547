package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryStore uploads proofs to Cloudinary. Object paths are public IDs.
type CloudinaryStore struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryStore(cloudinaryURL string) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("initialize cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true
	return &CloudinaryStore{cld: cld}, nil
}

func (s *CloudinaryStore) Save(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error) {
	folder, publicID := splitKey(key)
	overwrite := false
	unique := false
	res, err := s.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:         folder,
		PublicID:       publicID,
		Overwrite:      &overwrite,
		UniqueFilename: &unique,
		ResourceType:   resourceType(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: %w", err)
	}
	if res.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary upload: %s", res.Error.Message)
	}
	return &Object{Path: res.PublicID, URL: res.SecureURL, Size: int64(res.Bytes)}, nil
}

func (s *CloudinaryStore) Delete(ctx context.Context, publicID string) error {
	res, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy: %s", res.Error.Message)
	}
	return nil
}

// splitKey turns "task_proofs/7/abc.jpg" into folder "task_proofs/7" and
// public ID "abc".
func splitKey(key string) (folder, publicID string) {
	clean := path.Clean(key)
	folder = path.Dir(clean)
	if folder == "." {
		folder = ""
	}
	base := path.Base(clean)
	return folder, strings.TrimSuffix(base, path.Ext(base))
}

func resourceType(contentType string) string {
	if strings.HasPrefix(contentType, "image/") {
		return "image"
	}
	// PDFs and anything else go up as raw so Cloudinary keeps the bytes as-is.
	return "raw"
}
