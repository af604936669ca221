package handlers

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/attachments"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

// AttachmentsHandler issues signed links for transaction attachments.
type AttachmentsHandler struct {
	svc *attachments.Service
}

// NewAttachmentsHandler creates a new attachments handler.
func NewAttachmentsHandler(svc *attachments.Service) *AttachmentsHandler {
	return &AttachmentsHandler{svc: svc}
}

// Presign handles POST /api/attachments/presign
func (h *AttachmentsHandler) Presign(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req struct {
		TxnID       string `json:"txnId"`
		Filename    string `json:"filename"`
		ContentType string `json:"contentType"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	link, err := h.svc.PresignUpload(r.Context(), uid, req.TxnID, req.Filename, req.ContentType)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("txn_id", req.TxnID).
		Str("object_key", link.ObjectKey).
		Msg("Attachment upload URL issued")
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"uploadUrl": link.URL,
		"objectKey": link.ObjectKey,
		"expiresAt": link.ExpiresAt,
	})
}

// PresignDownload handles POST /api/attachments/download-url
func (h *AttachmentsHandler) PresignDownload(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req struct {
		TxnID    string `json:"txnId"`
		Filename string `json:"filename"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	link, err := h.svc.PresignDownload(r.Context(), uid, req.TxnID, req.Filename)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"downloadUrl": link.URL,
		"objectKey":   link.ObjectKey,
		"expiresAt":   link.ExpiresAt,
	})
}
