package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tripchat/internal/constants"
	"tripchat/internal/models"
	"tripchat/internal/security"
)

// Uploader pushes a local file to media storage and returns the URL to embed
// in the outgoing message. Upload happens before send so attachments are
// immutable by the time the message enters the timeline.
type Uploader interface {
	Upload(ctx context.Context, path string, mimeType string) (url string, thumbnailURL string, err error)
}

// Handler validates local files and prepares them as message attachments.
type Handler interface {
	PrepareAttachment(ctx context.Context, path string) (*models.MediaAttachment, error)
}

type handler struct {
	config   models.MediaConfig
	uploader Uploader
}

func NewHandler(config models.MediaConfig, uploader Uploader) Handler {
	return &handler{config: config, uploader: uploader}
}

func (h *handler) PrepareAttachment(ctx context.Context, path string) (*models.MediaAttachment, error) {
	// Validate file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid media path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	attachmentType, err := h.validateMedia(ext, info.Size())
	if err != nil {
		return nil, err
	}

	mimeType := constants.DefaultMimeType
	if mt, ok := constants.MimeTypes["."+ext]; ok {
		mimeType = mt
	}

	url, thumbnailURL, err := h.uploader.Upload(ctx, path, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}

	return &models.MediaAttachment{
		Type:         attachmentType,
		URL:          url,
		ThumbnailURL: thumbnailURL,
		FileName:     filepath.Base(path),
		FileSize:     info.Size(),
		MimeType:     mimeType,
	}, nil
}

func (h *handler) validateMedia(ext string, size int64) (models.AttachmentType, error) {
	var maxSizeMB int
	var attachmentType models.AttachmentType

	for _, allowedExt := range h.allowedOrDefault(h.config.AllowedTypes.Image, constants.DefaultImageTypes) {
		if ext == allowedExt {
			maxSizeMB = h.config.MaxSizeMB.Image
			attachmentType = models.ImageAttachment
			break
		}
	}

	if maxSizeMB == 0 {
		for _, allowedExt := range h.allowedOrDefault(h.config.AllowedTypes.Video, constants.DefaultVideoTypes) {
			if ext == allowedExt {
				maxSizeMB = h.config.MaxSizeMB.Video
				attachmentType = models.VideoAttachment
				break
			}
		}
	}

	if maxSizeMB == 0 {
		for _, allowedExt := range h.allowedOrDefault(h.config.AllowedTypes.Voice, constants.DefaultVoiceTypes) {
			if ext == allowedExt {
				maxSizeMB = h.config.MaxSizeMB.Voice
				attachmentType = models.VoiceAttachment
				break
			}
		}
	}

	if maxSizeMB == 0 {
		for _, allowedExt := range h.allowedOrDefault(h.config.AllowedTypes.File, constants.DefaultFileTypes) {
			if ext == allowedExt {
				maxSizeMB = h.config.MaxSizeMB.File
				attachmentType = models.FileAttachment
				break
			}
		}
	}

	if maxSizeMB == 0 {
		return "", fmt.Errorf("file type .%s is not allowed", ext)
	}

	maxSizeBytes := int64(maxSizeMB) * 1024 * 1024
	if size > maxSizeBytes {
		return "", fmt.Errorf("%s too large: %d > %d bytes", attachmentType, size, maxSizeBytes)
	}

	return attachmentType, nil
}

func (h *handler) allowedOrDefault(configured, defaults []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return defaults
}
