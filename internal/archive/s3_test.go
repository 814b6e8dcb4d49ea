package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func TestS3StorePut(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewS3Store(mockClient, "archive-bucket")

	var body []byte
	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Bucket == "archive-bucket" &&
			*input.Key == "blog/snap.json" &&
			*input.ContentType == "application/json" &&
			*input.ContentLength == 11
	})).Run(func(args mock.Arguments) {
		body, _ = io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	err := store.Put(context.Background(), "blog/snap.json", []byte(`{"count":0}`), "application/json")
	assert.NoError(t, err)
	assert.Equal(t, `{"count":0}`, string(body))
	mockClient.AssertExpectations(t)
}

func TestS3StorePutError(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewS3Store(mockClient, "archive-bucket")

	mockClient.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("AccessDenied")).Once()

	err := store.Put(context.Background(), "k", []byte("x"), "application/json")
	assert.ErrorContains(t, err, "AccessDenied")
}

func TestArchiverOverS3(t *testing.T) {
	mockClient := new(MockS3Client)
	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.ContentType == "application/zstd"
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	a, err := New(NewS3Store(mockClient, "bucket"), WithPrefix("prod"), WithCompression())
	require.NoError(t, err)
	defer a.Close()

	key, err := a.Write(context.Background(), "blog", nil)
	require.NoError(t, err)
	assert.Regexp(t, `^prod/blog/.*\.json\.zst$`, key)
	mockClient.AssertExpectations(t)
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{Region: "eu-west-1"})
	assert.Error(t, err)
}

func TestLoadOptionsStaticCredentials(t *testing.T) {
	var lo config.LoadOptions
	for _, opt := range loadOptions(S3Config{Bucket: "b", Region: "eu-west-1", AccessKeyID: "AKID", SecretAccessKey: "SECRET"}) {
		require.NoError(t, opt(&lo))
	}
	assert.Equal(t, "eu-west-1", lo.Region)
	require.NotNil(t, lo.Credentials)

	creds, err := lo.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "SECRET", creds.SecretAccessKey)
	assert.Equal(t, credentials.StaticCredentialsName, creds.Source)

	var defaults config.LoadOptions
	for _, opt := range loadOptions(S3Config{Bucket: "b"}) {
		require.NoError(t, opt(&defaults))
	}
	assert.Nil(t, defaults.Credentials, "no keys leaves the default chain")
}
