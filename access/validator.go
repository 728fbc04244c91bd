// Package access decides whether a user may request a download link for
// a cited file.
//
// The grant is derived on every request, never stored: a user may fetch
// a file only when the message exists in the given conversation, is
// owned by the user, and carries a citation record for the file.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/selasie/charon/model"
	"github.com/selasie/charon/storage"
)

// ErrDenied covers both "message not yours" and "file not cited in this
// message". The two cases are deliberately indistinguishable so a
// request cannot probe whether a message exists for another user.
var ErrDenied = errors.New("access denied")

// ErrNotFound means file metadata is missing after ownership was
// already proven. Distinct from ErrDenied: revealing it leaks nothing.
var ErrNotFound = errors.New("file not found")

// Grant is the result of a successful validation: everything the link
// issuer needs, resolved within the same request.
type Grant struct {
	Message model.Message
	Record  model.SourceRecord
	File    model.FileMetadata
}

// Validator checks (user, message, conversation, file) download requests.
type Validator struct {
	messages  storage.MessageStore
	citations storage.CitationStore
	files     storage.FileMetadataStore
}

// NewValidator creates a validator over the given stores.
func NewValidator(messages storage.MessageStore, citations storage.CitationStore, files storage.FileMetadataStore) *Validator {
	return &Validator{messages: messages, citations: citations, files: files}
}

// Validate runs the three checks in a fixed order:
//
//  1. the message exists in the conversation and belongs to the user,
//  2. the message's citation set contains the file,
//  3. the file's metadata exists.
//
// Ownership is always established before anything about the file is
// looked up, so file existence is never leaked to non-owners.
func (v *Validator) Validate(ctx context.Context, userID, messageID, conversationID, fileID string) (*Grant, error) {
	msg, err := v.messages.GetOwnedMessage(ctx, messageID, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("message lookup failed: %w", err)
	}
	if msg == nil {
		return nil, ErrDenied
	}

	record, err := v.citations.Get(ctx, messageID, fileID)
	if err != nil {
		return nil, fmt.Errorf("citation lookup failed: %w", err)
	}
	if record == nil {
		return nil, ErrDenied
	}

	file, err := v.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("file metadata lookup failed: %w", err)
	}
	if file == nil {
		return nil, ErrNotFound
	}

	return &Grant{Message: *msg, Record: *record, File: *file}, nil
}
