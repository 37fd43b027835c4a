package user

import (
	"net/http"

	"go-dm/internal/apperr"
	"go-dm/internal/httpx"
	myMiddleware "go-dm/internal/middleware"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.WriteJSON(w, res, http.StatusCreated)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.WriteJSON(w, res, http.StatusOK)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	me, _, ok := myMiddleware.UserFromContext(r.Context())
	if !ok {
		httpx.Fail(w, apperr.ErrUnauthorized)
		return
	}

	users, err := h.Service.ListUsers(r.Context(), me)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.WriteJSON(w, users, http.StatusOK)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.WriteJSON(w, users, http.StatusOK)
}
