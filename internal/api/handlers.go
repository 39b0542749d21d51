// Package api exposes HTTP handlers for the boost service.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/ChiMaMe-bean/msj/internal/domain"
	"github.com/ChiMaMe-bean/msj/internal/observability"
)

// Handler coordinates HTTP requests with the help service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/help", h.help)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HelpResponse is the body for POST /api/help. Business failures still answer
// 200: success=false plus a user-facing message is the protocol.
type HelpResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) help(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, HelpResponse{Success: false, Message: "unsupported method"})
		return
	}

	code := r.FormValue("code")
	returnCode, err := h.service.ProcessHelp(r.Context(), code)
	if err != nil {
		outcome, message, known := classify(err)
		if !known {
			// Internal detail stays server-side; the caller only sees a
			// generic busy message.
			log.Printf("help request failed: %v", err)
		}
		observability.RecordOutcome(outcome)
		writeJSON(w, http.StatusOK, HelpResponse{Success: false, Message: message})
		return
	}

	observability.RecordOutcome("success")
	observability.RecordSuccess(time.Now())
	writeJSON(w, http.StatusOK, HelpResponse{
		Success: true,
		Message: "助力成功！请为此码助力：" + returnCode,
	})
}

// classify maps a service error to its metrics label and user-facing message.
func classify(err error) (outcome, message string, known bool) {
	switch {
	case errors.Is(err, domain.ErrOutOfWindow):
		return "out_of_window", "活动暂未开放", true
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid_code", "请输入正确的12位助力码", true
	case errors.Is(err, domain.ErrCodeAlreadyUsed):
		return "code_used", "该助力码已被使用", true
	case errors.Is(err, domain.ErrNoHelperAvailable):
		return "no_helper", "暂时没有可用账号，请稍后再试", true
	case errors.Is(err, domain.ErrNoHelpedAvailable):
		return "no_helped", "无可用被助力账号", true
	case errors.Is(err, domain.ErrNoReturnCode):
		return "no_return_code", "暂时没有可用助力码", true
	}
	var ext *domain.ExternalError
	if errors.As(err, &ext) {
		return "external_failure", "助力失败：" + ext.Msg, true
	}
	return "internal_error", "系统繁忙，请稍后重试", false
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
