package media

import (
	"net/http"

	"go-dm/internal/httpx"
)

type Handler struct {
	resolver *Resolver
	maxBytes int64
}

func NewHandler(r *Resolver, maxBytes int64) *Handler {
	return &Handler{resolver: r, maxBytes: maxBytes}
}

type UploadResponse struct {
	MediaRef string `json:"media_ref"`
}

// Upload stores the multipart "file" part for the form's kind and returns
// the reference to put in a message.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	up, cleanup, err := ReadUpload(w, r, h.maxBytes)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	defer cleanup()

	ref, err := h.resolver.Resolve(r.Context(), r.FormValue("kind"), up)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.WriteJSON(w, UploadResponse{MediaRef: ref}, http.StatusCreated)
}
