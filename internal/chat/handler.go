package chat

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-dm/internal/apperr"
	"go-dm/internal/httpx"
	"go-dm/internal/media"
	myMiddleware "go-dm/internal/middleware"
)

const maxPageSize = 500

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Tokens travel in the query string, not cookies, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Uploader stores raw media and returns its reference.
type Uploader interface {
	Resolve(ctx context.Context, kind string, up media.Upload) (string, error)
}

type Handler struct {
	service  *Service
	hub      *Hub
	uploads  Uploader
	maxBytes int64
	log      zerolog.Logger
}

func NewHandler(service *Service, hub *Hub, uploads Uploader, maxUploadBytes int64, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		hub:      hub,
		uploads:  uploads,
		maxBytes: maxUploadBytes,
		log:      log.With().Str("component", "chat_handler").Logger(),
	}
}

func currentUser(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, _, ok := myMiddleware.UserFromContext(r.Context())
	if !ok {
		httpx.Fail(w, apperr.ErrUnauthorized)
	}
	return id, ok
}

// ServeWs upgrades the request into a live channel for the caller.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade")
		return
	}

	client := NewClient(h.hub, h.service, conn, userID, h.log)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	me, ok := currentUser(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ChatList(r.Context(), me)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.WriteJSON(w, entries, http.StatusOK)
}

// ListMessages serves GET /api/messages/{userID}?after=&limit=.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	me, ok := currentUser(w, r)
	if !ok {
		return
	}

	other, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Fail(w, apperr.Invalid("user_id", "must be an integer"))
		return
	}
	page, err := parsePage(r)
	if err != nil {
		httpx.Fail(w, err)
		return
	}

	msgs, err := h.service.History(r.Context(), me, other, page)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.WriteJSON(w, msgs, http.StatusOK)
}

func parsePage(r *http.Request) (Page, error) {
	var p Page
	q := r.URL.Query()
	if s := q.Get("after"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return p, apperr.Invalid("after", "must be a message id")
		}
		p.AfterID = n
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return p, apperr.Invalid("limit", "must be a positive integer")
		}
		p.Limit = min(n, maxPageSize)
	}
	return p, nil
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	me, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req SendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	req.SenderID = me

	m, err := h.service.Send(r.Context(), req)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.WriteJSON(w, m, http.StatusCreated)
}

// UploadAndSend stores the multipart "file" part and sends it as one message.
// Form fields: to, kind, content (optional caption).
func (h *Handler) UploadAndSend(w http.ResponseWriter, r *http.Request) {
	me, ok := currentUser(w, r)
	if !ok {
		return
	}

	up, cleanup, err := media.ReadUpload(w, r, h.maxBytes)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	defer cleanup()

	to, err := strconv.Atoi(r.FormValue("to"))
	if err != nil {
		httpx.Fail(w, apperr.Invalid("to", "must be a user id"))
		return
	}
	req := SendRequest{
		SenderID:    me,
		RecipientID: to,
		Content:     r.FormValue("content"),
		Kind:        Kind(r.FormValue("kind")),
	}
	if req.Kind == KindText || req.Kind == "" {
		httpx.Fail(w, apperr.Invalid("kind", "must be one of file, voice, video"))
		return
	}
	m, err := h.service.SendUpload(r.Context(), req, func(ctx context.Context) (string, error) {
		return h.uploads.Resolve(ctx, string(req.Kind), up)
	})
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.WriteJSON(w, m, http.StatusCreated)
}
