// Package link mints time-limited download URLs for validated files.
//
// Information Hiding:
// - Storage-type branching hidden behind Issue
// - Signing failure fallback policy encapsulated
// - Access bookkeeping fire-and-forget details hidden
package link

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/selasie/charon/access"
	"github.com/selasie/charon/model"
	"github.com/selasie/charon/storage"
)

// ObjectSigner produces a time-limited GET URL for an object-store key.
// The production implementation presigns S3 URLs; tests substitute fakes.
type ObjectSigner interface {
	Sign(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// Issuer turns validated grants into download links.
type Issuer struct {
	signer         ObjectSigner
	citations      storage.CitationStore
	baseURL        string
	expiry         time.Duration
	signingTimeout time.Duration
	logger         *slog.Logger
}

// NewIssuer creates an issuer. signer may be nil when the deployment has
// no object store; every issuance then takes the local-stream path.
func NewIssuer(signer ObjectSigner, citations storage.CitationStore, baseURL string, expiry, signingTimeout time.Duration, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		signer:         signer,
		citations:      citations,
		baseURL:        baseURL,
		expiry:         expiry,
		signingTimeout: signingTimeout,
		logger:         logger,
	}
}

// Issue produces a download URL and expiry for a validated grant.
//
// Object-store files get a freshly presigned URL; signing failure or
// timeout degrades to the local-stream URL rather than failing the
// request. Repeated calls return functionally equivalent, independently
// time-limited URLs.
func (i *Issuer) Issue(ctx context.Context, grant *access.Grant) (model.IssuedLink, error) {
	lnk := model.IssuedLink{
		ExpiresAt: time.Now().Add(i.expiry),
		FileName:  displayName(grant),
		MimeType:  grant.File.MimeType,
	}

	if i.storageTypeOf(grant) == model.StorageObject {
		if signed, ok := i.trySign(ctx, grant); ok {
			lnk.DownloadURL = signed
			i.RecordAccess(grant)
			return lnk, nil
		}
	}

	lnk.DownloadURL = i.localStreamURL(grant.Message.UserID, grant.File.FileID)
	i.RecordAccess(grant)
	return lnk, nil
}

// storageTypeOf resolves the effective storage type, preferring the
// citation record over file metadata.
func (i *Issuer) storageTypeOf(grant *access.Grant) model.StorageType {
	if grant.Record.StorageType != model.StorageUnknown {
		return grant.Record.StorageType
	}
	return grant.File.Source
}

// trySign attempts to presign an object-store URL within the signing
// timeout. Returns false (caller falls back to local streaming) when
// the signer is absent, the location is incomplete, or signing fails.
func (i *Issuer) trySign(ctx context.Context, grant *access.Grant) (string, bool) {
	if i.signer == nil {
		return "", false
	}

	// Values captured on the citation record win over possibly stale
	// file metadata.
	bucket, key := grant.Record.Bucket, grant.Record.Key
	if bucket == "" {
		bucket = grant.File.Bucket
	}
	if key == "" {
		key = grant.File.Key
	}
	if bucket == "" || key == "" {
		i.logger.Warn("object-store citation missing bucket/key, falling back to local stream",
			"file", grant.File.FileID, "message", grant.Record.MessageID)
		return "", false
	}

	signCtx, cancel := context.WithTimeout(ctx, i.signingTimeout)
	defer cancel()

	signed, err := i.signer.Sign(signCtx, bucket, key, i.expiry)
	if err != nil {
		i.logger.Warn("signing failed, falling back to local stream",
			"file", grant.File.FileID, "bucket", bucket, "error", err)
		return "", false
	}
	return signed, true
}

// localStreamURL builds the streaming endpoint URL. The path embeds the
// requesting user's id; the endpoint refuses to stream when the path
// user does not match the authenticated user.
func (i *Issuer) localStreamURL(userID, fileID string) string {
	return fmt.Sprintf("%s/api/files/%s/%s",
		i.baseURL, url.PathEscape(userID), url.PathEscape(fileID))
}

// RecordAccess bumps the citation record's bookkeeping without blocking
// or failing the caller. Issue calls it on every issuance; the serving
// layer calls it when a link is handed out from the prefetch cache,
// since that path skips Issue.
func (i *Issuer) RecordAccess(grant *access.Grant) {
	messageID, fileID := grant.Record.MessageID, grant.Record.FileID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := i.citations.RecordAccess(ctx, messageID, fileID); err != nil {
			i.logger.Warn("access bookkeeping failed", "message", messageID, "file", fileID, "error", err)
		}
	}()
}

// displayName prefers the human-readable name; the internal storage key
// is never served to the client.
func displayName(grant *access.Grant) string {
	if grant.File.DisplayName != "" {
		return grant.File.DisplayName
	}
	return grant.Record.FileName
}
