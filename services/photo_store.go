package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/models"
	"github.com/Andrlu75/healtCoach-sub000/utils"
)

// ObjectStore is the part of the S3 client the photo store needs.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// PhotoStore keeps meal photos so a failed analysis can be retried with
// the same image.
type PhotoStore struct {
	s3        ObjectStore
	bucket    string
	publicURL string
}

func NewPhotoStore(client ObjectStore, bucket, publicURL string) *PhotoStore {
	return &PhotoStore{s3: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

func photoPrefix(owner uint) string {
	return fmt.Sprintf("meal-photos/%d/", owner)
}

// Upload stores the image under a fresh key scoped to owner.
func (p *PhotoStore) Upload(ctx context.Context, owner uint, data []byte, contentType string) (models.Photo, error) {
	key := photoPrefix(owner) + uuid.NewString() + utils.ImageExtension(contentType)
	_, err := p.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         s3types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return models.Photo{}, fmt.Errorf("failed to upload to S3: %w", err)
	}
	return models.Photo{Key: key, URL: p.url(key), ContentType: contentType, Data: data}, nil
}

// Fetch loads a previously uploaded photo. Keys of other owners are not found.
func (p *PhotoStore) Fetch(ctx context.Context, owner uint, key string) (models.Photo, error) {
	if !strings.HasPrefix(key, photoPrefix(owner)) {
		return models.Photo{}, fmt.Errorf("photo %s: %w", key, apperrors.ErrNotFound)
	}
	out, err := p.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return models.Photo{}, fmt.Errorf("photo %s: %w", key, apperrors.ErrNotFound)
		}
		return models.Photo{}, fmt.Errorf("failed to fetch from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return models.Photo{}, fmt.Errorf("failed to read S3 object: %w", err)
	}
	return models.Photo{
		Key:         key,
		URL:         p.url(key),
		ContentType: aws.ToString(out.ContentType),
		Data:        data,
	}, nil
}

func (p *PhotoStore) url(key string) string {
	if p.publicURL == "" {
		return ""
	}
	return p.publicURL + "/" + key
}
