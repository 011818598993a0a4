package storage

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) Upload(ctx context.Context, in s3manager.UploadInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

func (m *mockS3Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	args := m.Called(ctx, bucket, key)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockS3Client) Delete(ctx context.Context, bucket, key string) error {
	args := m.Called(ctx, bucket, key)
	return args.Error(0)
}

func TestObjectStorageService_Upload(t *testing.T) {
	// Arrange
	client := &mockS3Client{}
	svc := NewStorageService(client, StorageConfig{BucketName: "bucket"})
	client.On("Upload", mock.Anything, mock.MatchedBy(func(in s3manager.UploadInput) bool {
		body, _ := io.ReadAll(in.Body)
		return aws.StringValue(in.Bucket) == "bucket" &&
			aws.StringValue(in.Key) == "drafts/o/att_1" &&
			aws.StringValue(in.ContentType) == "application/octet-stream" &&
			string(body) == "payload"
	})).Return(nil)

	// Act
	err := svc.Upload(context.Background(), "drafts/o/att_1", []byte("payload"), "")

	// Assert
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestObjectStorageService_DownloadAndDelete(t *testing.T) {
	client := &mockS3Client{}
	svc := NewStorageService(client, StorageConfig{BucketName: "bucket"})
	client.On("Download", mock.Anything, "bucket", "k").Return([]byte("x"), nil)
	client.On("Delete", mock.Anything, "bucket", "k").Return(nil)

	data, err := svc.Download(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
	require.NoError(t, svc.Delete(context.Background(), "k"))
	client.AssertExpectations(t)
}

func TestLocalStorageService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, err := NewLocalStorageService(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, svc.Upload(ctx, "drafts/o/att_1", []byte("hello"), "text/plain"))
	data, err := svc.Download(ctx, "drafts/o/att_1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, svc.Delete(ctx, "drafts/o/att_1"))
	require.NoError(t, svc.Delete(ctx, "drafts/o/att_1"))
	_, err = svc.Download(ctx, "drafts/o/att_1")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalStorageService_KeysStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	svc, err := NewLocalStorageService(root)
	require.NoError(t, err)

	local := svc.(*LocalStorageService)
	p, err := local.path("../../etc/passwd")
	require.NoError(t, err)
	assert.Contains(t, p, root)
}
