package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/taskhub-app/apiserver/internal/services"
	"github.com/taskhub-app/apiserver/types"
)

const (
	formFieldAvatar    = "avatar"
	maxMultipartMemory = 8 << 20
)

// AccountHandler serves the authenticated account endpoints.
type AccountHandler struct {
	accounts *services.AccountService
}

func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	account, err := h.accounts.Me(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, services.ErrUnregisteredAccount) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account.Public())
}

// UploadAvatar accepts a multipart form with the image in the "avatar" field.
func (h *AccountHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxAvatarBytes+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	data, err := parseAvatarFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.accounts.UploadAvatar(r.Context(), accountID, data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account.Public())
}

// ReviewAccount lets an admin set the status of another account.
func (h *AccountHandler) ReviewAccount(w http.ResponseWriter, r *http.Request) {
	actorID, err := accountIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	status, err := types.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.accounts.ReviewAccount(r.Context(), actorID, chi.URLParam(r, "accountID"), status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account.Public())
}

type ReviewRequest struct {
	Status string `json:"status"`
}

func parseAvatarFile(r *http.Request) ([]byte, error) {
	if r.MultipartForm == nil {
		return nil, errors.New("missing form data")
	}
	files := r.MultipartForm.File[formFieldAvatar]
	if len(files) == 0 {
		return nil, errors.New("avatar file is required")
	}
	if len(files) > 1 {
		return nil, errors.New("only one avatar file is allowed")
	}

	file, err := files[0].Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read avatar file: %w", err)
	}
	defer file.Close()

	data, err := readFileLimited(file, services.MaxAvatarBytes)
	if err != nil {
		return nil, err
	}
	return data, nil
}
