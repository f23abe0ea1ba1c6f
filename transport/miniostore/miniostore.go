// Package miniostore implements the upload service contract directly against
// an S3-compatible object store, without a presigning service in the middle.
//
// This is the degraded fallback path: part "URLs" are opaque minio:// locators
// carrying the object key, multipart upload ID, and part number, and part
// transfers call the store's multipart API with the transport's own
// credentials. Use it when no session-issuing service fronts the store; prefer
// the presigned transport otherwise.
package miniostore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/assetforge/upload/enumerate"
	uperrors "github.com/assetforge/upload/errors"
	"github.com/assetforge/upload/internal/planner"
	"github.com/assetforge/upload/uptypes"
)

const locatorScheme = "minio"

// coreAPI is the slice of the minio core client the transport uses.
type coreAPI interface {
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
}

// Service implements the upload service contract over a minio core client.
type Service struct {
	core   coreAPI
	bucket string
}

// New creates a Service over an existing minio core client.
func New(core *minio.Core, bucket string) *Service {
	return &Service{
		core:   core,
		bucket: bucket,
	}
}

// NewWithAPI creates a Service over a custom core implementation.
// This is primarily used for testing with mocked clients.
func NewWithAPI(core coreAPI, bucket string) *Service {
	return &Service{
		core:   core,
		bucket: bucket,
	}
}

// InitializeUpload opens one multipart upload per file. Part locators are
// synthesized rather than presigned; they stay opaque to the core pipeline.
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
		key := enumerate.NormalizeKey(req.KeyPrefix, f.RelativeKey)

		opts := minio.PutObjectOptions{ContentType: f.ContentType}
		uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, opts)
		if err != nil {
			s.abortPlans(ctx, req.KeyPrefix, opened)
			return nil, uperrors.NewError("initialize", err).
				WithAsset(req.AssetID).WithPath(f.RelativeKey)
		}

		plan := uptypes.FilePlan{
			RelativeKey: f.RelativeKey,
			NumParts:    planner.Count(f.Size, req.PartSize),
			UploadID:    uploadID,
		}
		for part := 1; part <= plan.NumParts; part++ {
			plan.PartURLs = append(plan.PartURLs, uptypes.PartURL{
				PartNumber: part,
				URL:        s.locator(key, uploadID, part),
			})
		}
		opened = append(opened, plan)
		result.Files = append(result.Files, plan)
	}
	return result, nil
}

// UploadPart parses the part locator and streams the range through the
// store's multipart API, returning the part's ETag.
func (s *Service) UploadPart(ctx context.Context, locator string, body io.Reader, size int64) (string, error) {
	object, uploadID, partNumber, err := s.parseLocator(locator)
	if err != nil {
		return "", err
	}

	part, err := s.core.PutObjectPart(ctx, s.bucket, object, uploadID, partNumber,
		body, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", uperrors.NewError("uploadPart", err).WithPath(object)
	}
	return part.ETag, nil
}

// CompleteUpload finalizes every file's multipart upload.
func (s *Service) CompleteUpload(
	ctx context.Context,
	req *uptypes.CompleteRequest,
) (*uptypes.CompleteResult, error) {
	result := &uptypes.CompleteResult{}

	for _, f := range req.Files {
		key := enumerate.NormalizeKey(req.KeyPrefix, f.RelativeKey)

		parts := make([]minio.CompletePart, 0, len(f.Parts))
		for _, p := range f.Parts {
			parts = append(parts, minio.CompletePart{
				PartNumber: p.PartNumber,
				ETag:       p.ETag,
			})
		}

		info, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, f.UploadID,
			parts, minio.PutObjectOptions{})
		if err != nil {
			return nil, uperrors.NewError("complete", err).WithPath(f.RelativeKey)
		}

		result.Objects = append(result.Objects, uptypes.CompletedObject{
			Key:  key,
			ETag: info.ETag,
		})
	}
	return result, nil
}

// AbortUpload aborts a file's remote multipart upload.
func (s *Service) AbortUpload(ctx context.Context, keyPrefix, relativeKey, uploadID string) error {
	key := enumerate.NormalizeKey(keyPrefix, relativeKey)
	if err := s.core.AbortMultipartUpload(ctx, s.bucket, key, uploadID); err != nil {
		return uperrors.NewError("abort", err).WithPath(relativeKey)
	}
	return nil
}

func (s *Service) abortPlans(ctx context.Context, keyPrefix string, plans []uptypes.FilePlan) {
	for _, plan := range plans {
		_ = s.AbortUpload(ctx, keyPrefix, plan.RelativeKey, plan.UploadID)
	}
}

// locator encodes a part's destination as minio://bucket/object?uploadId&partNumber.
func (s *Service) locator(object, uploadID string, partNumber int) string {
	q := url.Values{}
	q.Set("uploadId", uploadID)
	q.Set("partNumber", strconv.Itoa(partNumber))
	u := url.URL{
		Scheme:   locatorScheme,
		Host:     s.bucket,
		Path:     "/" + object,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (s *Service) parseLocator(locator string) (object, uploadID string, partNumber int, err error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", 0, uperrors.NewError("uploadPart", fmt.Errorf("bad part locator: %w", err))
	}
	if u.Scheme != locatorScheme || u.Host != s.bucket {
		return "", "", 0, uperrors.NewError("uploadPart",
			fmt.Errorf("part locator %q does not target bucket %q", locator, s.bucket))
	}
	uploadID = u.Query().Get("uploadId")
	partNumber, convErr := strconv.Atoi(u.Query().Get("partNumber"))
	if uploadID == "" || convErr != nil || partNumber < 1 {
		return "", "", 0, uperrors.NewError("uploadPart",
			fmt.Errorf("part locator %q missing uploadId or partNumber", locator))
	}
	object = u.Path[1:]
	return object, uploadID, partNumber, nil
}
