// Package s3presign implements the upload service contract against Amazon S3
// using presigned part URLs.
//
// Initialization opens one S3 multipart upload per file and presigns an
// UploadPart URL for every planned part; part transfers are then plain HTTP
// PUTs that need no AWS credentials, which is what lets them run from anywhere
// the session was handed to. Completion submits the collected ETags through
// CompleteMultipartUpload.
package s3presign

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/assetforge/upload/enumerate"
	uperrors "github.com/assetforge/upload/errors"
	"github.com/assetforge/upload/internal/planner"
	"github.com/assetforge/upload/uptypes"
)

// DefaultURLExpiry is how long presigned part URLs stay valid. Long enough to
// ride out a slow session; expired URLs surface as part failures and the next
// cycle re-initializes.
const DefaultURLExpiry = 6 * time.Hour

// s3API is the slice of the S3 client the transport uses.
type s3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// presignAPI is the slice of the S3 presign client the transport uses.
type presignAPI interface {
	PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4PresignedRequest, error)
}

// v4PresignedRequest mirrors the fields of the SDK's presigned request type
// that the transport consumes.
type v4PresignedRequest struct {
	URL    string
	Method string
}

// presignClient adapts *s3.PresignClient to presignAPI.
type presignClient struct {
	inner *s3.PresignClient
}

func (p *presignClient) PresignUploadPart(
	ctx context.Context,
	params *s3.UploadPartInput,
	optFns ...func(*s3.PresignOptions),
) (*v4PresignedRequest, error) {
	req, err := p.inner.PresignUploadPart(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &v4PresignedRequest{URL: req.URL, Method: req.Method}, nil
}

// Service implements the upload service contract over S3.
type Service struct {
	api     s3API
	presign presignAPI
	httpc   *http.Client
	bucket  string
	expiry  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the HTTP client used for presigned part PUTs.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.httpc = c
	}
}

// WithURLExpiry sets the presigned URL lifetime.
func WithURLExpiry(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// New creates a Service over an existing S3 client.
func New(client *s3.Client, bucket string, opts ...Option) *Service {
	s := &Service{
		api:     client,
		presign: &presignClient{inner: s3.NewPresignClient(client)},
		httpc:   http.DefaultClient,
		bucket:  bucket,
		expiry:  DefaultURLExpiry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig creates a Service by loading the default AWS configuration
// chain.
func NewFromConfig(ctx context.Context, bucket string, opts ...Option) (*Service, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, uperrors.NewError("transportInit", err)
	}
	return New(s3.NewFromConfig(cfg), bucket, opts...), nil
}

// NewWithAPI creates a Service over custom API implementations.
// This is primarily used for testing with mocked clients.
func NewWithAPI(api s3API, presign presignAPI, bucket string, opts ...Option) *Service {
	s := &Service{
		api:     api,
		presign: presign,
		httpc:   http.DefaultClient,
		bucket:  bucket,
		expiry:  DefaultURLExpiry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeUpload opens one multipart upload per file and presigns its part
// URLs. No state is committed on failure: uploads opened before the error are
// aborted best-effort.
func (s *Service) InitializeUpload(
	ctx context.Context,
	req *uptypes.InitializeRequest,
) (*uptypes.InitializeResult, error) {
	if req.PartSize <= 0 {
		return nil, uperrors.NewError("initialize", fmt.Errorf("%w: part size %d",
			uperrors.ErrInvalidInput, req.PartSize))
	}

	result := &uptypes.InitializeResult{
		UploadID: uuid.NewString(),
	}

	var opened []uptypes.FilePlan
	for _, f := range req.Files {
		plan, err := s.initializeFile(ctx, req, f)
		if err != nil {
			s.abortPlans(ctx, req.KeyPrefix, opened)
			return nil, err
		}
		opened = append(opened, plan)
		result.Files = append(result.Files, plan)
	}
	return result, nil
}

func (s *Service) initializeFile(
	ctx context.Context,
	req *uptypes.InitializeRequest,
	f uptypes.InitializeFile,
) (uptypes.FilePlan, error) {
	key := enumerate.NormalizeKey(req.KeyPrefix, f.RelativeKey)

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if f.ContentType != "" {
		input.ContentType = aws.String(f.ContentType)
	}

	created, err := s.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return uptypes.FilePlan{}, uperrors.NewError("initialize", err).
			WithAsset(req.AssetID).WithPath(f.RelativeKey)
	}
	uploadID := aws.ToString(created.UploadId)

	plan := uptypes.FilePlan{
		RelativeKey: f.RelativeKey,
		NumParts:    planner.Count(f.Size, req.PartSize),
		UploadID:    uploadID,
	}
	for part := 1; part <= plan.NumParts; part++ {
		presigned, err := s.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(part)),
		}, s3.WithPresignExpires(s.expiry))
		if err != nil {
			return uptypes.FilePlan{}, uperrors.NewError("presignPart", err).
				WithAsset(req.AssetID).WithPath(f.RelativeKey)
		}
		plan.PartURLs = append(plan.PartURLs, uptypes.PartURL{
			PartNumber: part,
			URL:        presigned.URL,
		})
	}
	return plan, nil
}

// UploadPart PUTs a part's bytes against its presigned URL and returns the
// ETag completion token.
func (s *Service) UploadPart(ctx context.Context, url string, body io.Reader, size int64) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return "", uperrors.NewError("uploadPart", err)
	}
	httpReq.ContentLength = size

	resp, err := s.httpc.Do(httpReq)
	if err != nil {
		return "", uperrors.NewError("uploadPart", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", uperrors.NewError("uploadPart",
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	eTag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if eTag == "" {
		return "", uperrors.NewError("uploadPart", fmt.Errorf("response missing ETag"))
	}
	return eTag, nil
}

// CompleteUpload finalizes every file's multipart upload with its sorted part
// tokens.
func (s *Service) CompleteUpload(
	ctx context.Context,
	req *uptypes.CompleteRequest,
) (*uptypes.CompleteResult, error) {
	result := &uptypes.CompleteResult{}

	for _, f := range req.Files {
		key := enumerate.NormalizeKey(req.KeyPrefix, f.RelativeKey)

		parts := make([]awstypes.CompletedPart, 0, len(f.Parts))
		for _, p := range f.Parts {
			parts = append(parts, awstypes.CompletedPart{
				PartNumber: aws.Int32(int32(p.PartNumber)),
				ETag:       aws.String(p.ETag),
			})
		}

		out, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(f.UploadID),
			MultipartUpload: &awstypes.CompletedMultipartUpload{
				Parts: parts,
			},
		})
		if err != nil {
			return nil, uperrors.NewError("complete", err).WithPath(f.RelativeKey)
		}

		result.Objects = append(result.Objects, uptypes.CompletedObject{
			Key:  key,
			ETag: strings.Trim(aws.ToString(out.ETag), `"`),
		})
	}
	return result, nil
}

// AbortUpload aborts a file's remote multipart upload. The core never calls
// it automatically; callers use it to clean up abandoned sessions.
func (s *Service) AbortUpload(ctx context.Context, keyPrefix, relativeKey, uploadID string) error {
	key := enumerate.NormalizeKey(keyPrefix, relativeKey)
	_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return uperrors.NewError("abort", err).WithPath(relativeKey)
	}
	return nil
}

// abortPlans cleans up uploads opened before an initialization failure.
// Errors are ignored: the caller is already failing with the original error.
func (s *Service) abortPlans(ctx context.Context, keyPrefix string, plans []uptypes.FilePlan) {
	for _, plan := range plans {
		_ = s.AbortUpload(ctx, keyPrefix, plan.RelativeKey, plan.UploadID)
	}
}
