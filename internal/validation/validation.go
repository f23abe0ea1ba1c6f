// Package validation validates session inputs before they reach the remote
// service.
//
// Relative paths become object keys, so they are checked for traversal
// sequences and control characters up front rather than trusting the
// enumeration source.
package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"

	uperrors "github.com/assetforge/upload/errors"
	"github.com/assetforge/upload/uptypes"
)

// maxKeyLength bounds key prefix plus relative path, matching the S3 object
// key limit.
const maxKeyLength = 1024

var mimePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-+.]*\/[a-zA-Z0-9][a-zA-Z0-9\-+.]*(\s*;.*)?$`)

// ValidateSession checks a session's identifiers and files before a cycle
// starts. Failing early keeps bad keys out of the remote store entirely.
func ValidateSession(s *uptypes.Session) error {
	if s.AssetID == "" {
		return uperrors.NewError("validate",
			fmt.Errorf("%w: session missing asset ID", uperrors.ErrInvalidInput))
	}
	if len(s.Files) == 0 {
		return uperrors.NewError("validate",
			fmt.Errorf("%w: session has no files", uperrors.ErrInvalidInput)).WithAsset(s.AssetID)
	}

	seen := make(map[string]bool, len(s.Files))
	for _, f := range s.Files {
		if err := ValidateRelativePath(f.RelativePath); err != nil {
			return err
		}
		if err := ValidateContentType(f.ContentType); err != nil {
			return err
		}
		if f.Size < 0 {
			return uperrors.NewError("validate",
				fmt.Errorf("%w: negative size %d", uperrors.ErrInvalidInput, f.Size)).
				WithPath(f.RelativePath)
		}
		if len(s.KeyPrefix)+1+len(f.RelativePath) > maxKeyLength {
			return uperrors.NewError("validate",
				fmt.Errorf("%w: object key exceeds %d characters", uperrors.ErrInvalidInput, maxKeyLength)).
				WithPath(f.RelativePath)
		}
		if seen[f.RelativePath] {
			return uperrors.NewError("validate",
				fmt.Errorf("%w: duplicate relative path", uperrors.ErrInvalidInput)).
				WithPath(f.RelativePath)
		}
		seen[f.RelativePath] = true
	}
	return nil
}

// ValidateRelativePath checks that a relative path is a safe object key
// suffix: non-empty, relative, no traversal, no control characters.
func ValidateRelativePath(rel string) error {
	if rel == "" {
		return uperrors.NewError("validate",
			fmt.Errorf("%w: empty relative path", uperrors.ErrInvalidInput))
	}
	if hasTraversal(rel) {
		return uperrors.NewError("validate",
			fmt.Errorf("%w: relative path contains traversal", uperrors.ErrInvalidInput)).WithPath(rel)
	}
	for _, r := range rel {
		if unicode.IsControl(r) {
			return uperrors.NewError("validate",
				fmt.Errorf("%w: relative path contains control characters", uperrors.ErrInvalidInput)).
				WithPath(rel)
		}
	}
	return nil
}

// ValidateContentType checks that a detected content type looks like a MIME
// type. Empty is allowed; the transport omits the header.
func ValidateContentType(contentType string) error {
	if contentType == "" {
		return nil
	}
	if !mimePattern.MatchString(contentType) {
		return uperrors.NewError("validate",
			fmt.Errorf("%w: content type %q is not a valid MIME type", uperrors.ErrInvalidInput, contentType))
	}
	return nil
}

func hasTraversal(rel string) bool {
	if strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return true
	}
	if strings.Contains(rel, "..") {
		return true
	}
	cleaned := path.Clean(rel)
	return cleaned == "." || strings.HasPrefix(cleaned, "../")
}
