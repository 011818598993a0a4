package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/customeros/draftsync/config"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/services/storage/aws_client"
)

// NewR2StorageService creates a StorageService configured for Cloudflare R2
func NewR2StorageService(accountID, accessKeyID, accessKeySecret, bucketName string) interfaces.StorageService {
	r2Client := aws_client.NewS3Client(&aws.Config{
		Endpoint:         aws.String("https://" + accountID + ".r2.cloudflarestorage.com"),
		Region:           aws.String("auto"),
		Credentials:      credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
		S3ForcePathStyle: aws.Bool(true),
	})

	return NewStorageService(r2Client, StorageConfig{BucketName: bucketName})
}

// NewAttachmentStorage uses R2 when an account is configured and the local
// filesystem otherwise.
func NewAttachmentStorage(cfg *config.R2StorageConfig) (interfaces.StorageService, error) {
	if cfg.AccountID != "" {
		return NewR2StorageService(cfg.AccountID, cfg.AccessKeyID, cfg.AccessKeySecret, cfg.AttachmentBucket), nil
	}
	return NewLocalStorageService(cfg.LocalDir)
}
