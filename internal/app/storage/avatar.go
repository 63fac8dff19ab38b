package storage

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/randx"
)

const (
	// MaxAvatarSizeMB is the maximum allowed avatar size in megabytes.
	MaxAvatarSizeMB = 5

	MaxAvatarSize = MaxAvatarSizeMB * 1024 * 1024

	// PresignedURLDuration is how long an upload URL stays valid.
	PresignedURLDuration = 5 * time.Minute

	avatarFolder = "avatars"
)

// AllowedMIMETypes defines the set of permitted image MIME types.
var AllowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// ExtToMIME maps file extensions to their corresponding MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// AvatarUploadRequest describes the file a user is about to upload.
type AvatarUploadRequest struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// AvatarUpload is returned to the client to perform the direct upload.
type AvatarUpload struct {
	PresignedURL string `json:"presignedUrl"`
	FileKey      string `json:"fileKey"`
	PublicURL    string `json:"publicUrl"`
}

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if fileSize > MaxAvatarSize {
		return errs.NewError(errs.ErrFileSizeTooLarge, MaxAvatarSizeMB)
	}

	return nil
}

// ValidateFileType checks that the MIME type is an allowed image type and that
// the file extension agrees with it.
func ValidateFileType(fileName, mimeType string) *errs.CustomError {
	lowerMimeType := strings.ToLower(mimeType)
	if _, ok := AllowedMIMETypes[lowerMimeType]; !ok {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	expectedMIME, ok := ExtToMIME[ext]
	if !ok || expectedMIME != lowerMimeType {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	return nil
}

// PresignAvatar validates req and issues an upload URL under avatars/<userID>/.
func PresignAvatar(ctx context.Context, svc StorageService, userID string, req AvatarUploadRequest) (*AvatarUpload, error) {
	if svc == nil {
		return nil, errs.NewError(errs.ErrFeatureDisabled)
	}

	if err := ValidateFileSize(req.FileSize); err != nil {
		return nil, err
	}
	if err := ValidateFileType(req.FileName, req.MimeType); err != nil {
		return nil, err
	}

	key := randx.ObjectKey(avatarFolder, userID, filepath.Ext(req.FileName))

	url, err := svc.PresignUpload(ctx, key, strings.ToLower(req.MimeType), req.FileSize, PresignedURLDuration)
	if err != nil {
		return nil, errs.Wrap(errs.ErrFileStorageFailed, err)
	}

	return &AvatarUpload{
		PresignedURL: url,
		FileKey:      key,
		PublicURL:    svc.PublicURL(key),
	}, nil
}
