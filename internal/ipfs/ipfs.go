// Package ipfs provides content addressing for task metadata, plans, and
// evidence. The market core has no compile-time dependency on it; consumers
// take the Pinner interface so a real IPFS client can be swapped in.
package ipfs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
)

// Pinner stores content and returns its content identifier.
type Pinner interface {
	// Pin stores content and returns (cid, uri).
	Pin(content []byte) (string, string)
}

// MockPinner derives CIDs from a content hash without talking to a real
// IPFS node. The CID shape matches CIDv0 ("Qm" prefix) closely enough for
// development.
type MockPinner struct{}

// NewMockPinner creates a MockPinner.
func NewMockPinner() *MockPinner {
	return &MockPinner{}
}

func (MockPinner) Pin(content []byte) (string, string) {
	sum := sha256.Sum256(content)
	cid := "Qm" + hex.EncodeToString(sum[:])[:44]
	return cid, "ipfs://" + cid
}

// UploadRequest is the JSON body for POST /api/ipfs/upload.
type UploadRequest struct {
	Content string `json:"content"`
}

// UploadResult is the JSON response for an upload.
type UploadResult struct {
	CID string `json:"cid"`
	URI string `json:"uri"`
}

// Handler exposes a Pinner over HTTP.
type Handler struct {
	pinner Pinner
}

// NewHandler creates an upload handler backed by the given Pinner.
func NewHandler(p Pinner) *Handler {
	return &Handler{pinner: p}
}

// Upload handles POST /api/ipfs/upload.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}

	cid, uri := h.pinner.Pin([]byte(req.Content))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UploadResult{CID: cid, URI: uri})
}
