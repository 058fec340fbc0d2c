package services

import (
	"context"
	"fmt"
	"mime/multipart"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/AnshRaj112/studycrew-backend/internal/models"
)

type CloudinaryService struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryService(cloudName, apiKey, apiSecret string) (*CloudinaryService, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}

	return &CloudinaryService{
		cld: cld,
	}, nil
}

// UploadAttachment stores a chat attachment and returns the metadata a
// client passes back in sendMessage.
func (s *CloudinaryService) UploadAttachment(ctx context.Context, fileHeader *multipart.FileHeader, folder string) (models.FileMeta, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return models.FileMeta{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	uploadResult, err := s.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		Folder:         folder,
		ResourceType:   "auto", // Automatically detect image, video, or raw
		UseFilename:    api.Bool(true),
		UniqueFilename: api.Bool(true),
	})
	if err != nil {
		return models.FileMeta{}, fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if uploadResult.Error.Message != "" {
		return models.FileMeta{}, fmt.Errorf("cloudinary: %s", uploadResult.Error.Message)
	}

	meta := models.FileMeta{
		URL:  uploadResult.SecureURL,
		Name: path.Base(fileHeader.Filename),
		Size: fileHeader.Size,
		Mime: fileHeader.Header.Get("Content-Type"),
	}
	if uploadResult.ResourceType != "video" {
		// fl_attachment makes the CDN answer with Content-Disposition: attachment.
		meta.DownloadURL = attachmentURL(uploadResult.SecureURL)
	}
	return meta, nil
}

// attachmentURL inserts the fl_attachment flag after /upload/ in a delivery URL.
func attachmentURL(secureURL string) string {
	const marker = "/upload/"
	i := strings.Index(secureURL, marker)
	if i < 0 {
		return secureURL
	}
	return secureURL[:i+len(marker)] + "fl_attachment/" + secureURL[i+len(marker):]
}
