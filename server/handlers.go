package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/selasie/charon/access"
	"github.com/selasie/charon/model"
)

// batchConcurrency bounds how many link resolutions a batch request
// runs at once.
const batchConcurrency = 4

type agentResponseRequest struct {
	MessageID      string   `json:"messageId"`
	ConversationID string   `json:"conversationId"`
	ContentParts   []string `json:"contentParts"`
}

type agentResponseReply struct {
	MessageID string         `json:"messageId"`
	Citations []citationInfo `json:"citations"`
}

type citationInfo struct {
	FileID    string  `json:"fileId"`
	FileName  string  `json:"fileName"`
	Relevance float64 `json:"relevance"`
	Pages     []int   `json:"pages,omitempty"`
}

// handleAgentResponse ingests one agent response: persists the message,
// extracts and records citations, then kicks off a prefetch pass in the
// background.
func (s *Server) handleAgentResponse(w http.ResponseWriter, r *http.Request) {
	var req agentResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	userID := userFrom(r)
	msg := model.Message{
		ID:             req.MessageID,
		ConversationID: req.ConversationID,
		UserID:         userID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.messages.SaveMessage(r.Context(), msg); err != nil {
		s.logger.Error("message persistence failed", "message", req.MessageID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}

	records := s.citations.ProcessResponse(r.Context(), req.MessageID, req.ContentParts)

	// Prefetch runs detached from the request lifecycle.
	if s.orchestrator != nil && len(records) > 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.orchestrator.PrefetchMessage(ctx, userID, req.ConversationID, req.MessageID, false)
		}()
	}

	reply := agentResponseReply{MessageID: req.MessageID, Citations: make([]citationInfo, 0, len(records))}
	for _, rec := range records {
		reply.Citations = append(reply.Citations, citationInfo{
			FileID:    rec.FileID,
			FileName:  rec.FileName,
			Relevance: rec.Relevance,
			Pages:     rec.Pages,
		})
	}
	writeJSON(w, http.StatusOK, reply)
}

type sourceURLRequest struct {
	FileID         string `json:"fileId"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// handleSourceURL issues one download link for a cited file.
func (s *Server) handleSourceURL(w http.ResponseWriter, r *http.Request) {
	var req sourceURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FileID == "" || req.MessageID == "" || req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "fileId, messageId and conversationId are required")
		return
	}

	userID := userFrom(r)

	grant, err := s.validator.Validate(r.Context(), userID, req.MessageID, req.ConversationID, req.FileID)
	if err != nil {
		s.writeAccessError(w, req.FileID, err)
		return
	}

	// Validation always runs; the prefetch cache only spares the signing
	// round trip. The cache key is (message, file), so serving it before
	// validating would leak links across users.
	if s.orchestrator != nil {
		if lnk, ok := s.orchestrator.PrefetchedLink(r.Context(), req.MessageID, req.FileID); ok {
			s.issuer.RecordAccess(grant)
			s.recordDownload(userID, lnk.FileName)
			writeJSON(w, http.StatusOK, lnk)
			return
		}
	}

	lnk, err := s.issuer.Issue(r.Context(), grant)
	if err != nil {
		s.logger.Error("link issuance failed", "file", req.FileID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue download link")
		return
	}

	s.recordDownload(userID, lnk.FileName)
	writeJSON(w, http.StatusOK, lnk)
}

type sourceURLBatchRequest struct {
	MessageID      string   `json:"messageId"`
	ConversationID string   `json:"conversationId"`
	FileIDs        []string `json:"fileIds"`
}

type sourceURLBatchReply struct {
	Links  map[string]model.IssuedLink `json:"links"`
	Errors map[string]string           `json:"errors,omitempty"`
}

// handleSourceURLBatch issues links for several cited files at once.
// The size cap is enforced before any lookup; individual failures do
// not fail the batch.
func (s *Server) handleSourceURLBatch(w http.ResponseWriter, r *http.Request) {
	var req sourceURLBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MessageID == "" || req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "messageId and conversationId are required")
		return
	}
	if len(req.FileIDs) == 0 {
		writeError(w, http.StatusBadRequest, "fileIds must not be empty")
		return
	}
	if len(req.FileIDs) > s.batchLimit {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("too many files: %d (limit %d)", len(req.FileIDs), s.batchLimit))
		return
	}

	userID := userFrom(r)
	reply := sourceURLBatchReply{
		Links:  make(map[string]model.IssuedLink, len(req.FileIDs)),
		Errors: make(map[string]string),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, batchConcurrency)

	for _, fileID := range req.FileIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(fileID string) {
			defer wg.Done()
			defer func() { <-sem }()

			grant, err := s.validator.Validate(r.Context(), userID, req.MessageID, req.ConversationID, fileID)
			if err != nil {
				mu.Lock()
				reply.Errors[fileID] = accessErrorMessage(err)
				mu.Unlock()
				return
			}
			lnk, err := s.issuer.Issue(r.Context(), grant)
			if err != nil {
				mu.Lock()
				reply.Errors[fileID] = "failed to issue download link"
				mu.Unlock()
				return
			}
			mu.Lock()
			reply.Links[fileID] = lnk
			mu.Unlock()
		}(fileID)
	}
	wg.Wait()

	if len(reply.Links) >= 2 && s.orchestrator != nil {
		s.orchestrator.Profiles().RecordBatchDownload(userID, len(reply.Links))
	}
	if len(reply.Errors) == 0 {
		reply.Errors = nil
	}
	writeJSON(w, http.StatusOK, reply)
}

// handleStreamFile serves a locally stored file as a download.
func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request) {
	s.serveLocalFile(w, r, false)
}

// handlePreviewFile serves a locally stored file inline, recording a
// preview event instead of a download.
func (s *Server) handlePreviewFile(w http.ResponseWriter, r *http.Request) {
	s.serveLocalFile(w, r, true)
}

// serveLocalFile streams a locally stored file. The path embeds the
// owning user id; a mismatch with the authenticated user is refused
// before any file lookup.
func (s *Server) serveLocalFile(w http.ResponseWriter, r *http.Request, preview bool) {
	pathUser := chi.URLParam(r, "userID")
	fileID := chi.URLParam(r, "fileID")

	if pathUser != userFrom(r) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	meta, err := s.files.GetFile(r.Context(), fileID)
	if err != nil {
		s.logger.Error("file metadata lookup failed", "file", fileID, "error", err)
		writeError(w, http.StatusInternalServerError, "file lookup failed")
		return
	}
	if meta == nil || meta.LocalPath == "" {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	if meta.MimeType != "" {
		w.Header().Set("Content-Type", meta.MimeType)
	}
	name := meta.DisplayName
	if name == "" {
		name = filepath.Base(meta.LocalPath)
	}

	if preview {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
		s.recordPreview(pathUser)
	} else {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		s.recordDownload(pathUser, name)
	}
	http.ServeFile(w, r, meta.LocalPath)
}

// recordDownload feeds the behavior profile used by prefetch scoring.
func (s *Server) recordDownload(userID, fileName string) {
	if s.orchestrator == nil {
		return
	}
	s.orchestrator.Profiles().RecordDownload(userID, filepath.Ext(fileName))
}

// recordPreview notes a preview event on the behavior profile.
func (s *Server) recordPreview(userID string) {
	if s.orchestrator == nil {
		return
	}
	s.orchestrator.Profiles().RecordPreview(userID)
}

// writeAccessError maps validation failures onto HTTP statuses. Denied
// and not-found stay distinct: not-found is only ever returned after
// ownership was proven.
func (s *Server) writeAccessError(w http.ResponseWriter, fileID string, err error) {
	switch {
	case errors.Is(err, access.ErrDenied):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, access.ErrNotFound):
		writeError(w, http.StatusNotFound, "file not found")
	default:
		s.logger.Error("access validation failed", "file", fileID, "error", err)
		writeError(w, http.StatusInternalServerError, "validation failed")
	}
}

func accessErrorMessage(err error) string {
	switch {
	case errors.Is(err, access.ErrDenied):
		return "access denied"
	case errors.Is(err, access.ErrNotFound):
		return "file not found"
	default:
		return "validation failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
