package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ruteri/secret-compute-enclave/contractkey"
	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/enclave"
	"github.com/ruteri/secret-compute-enclave/kms"
	"github.com/ruteri/secret-compute-enclave/validation"
)

// maxCallBodySize bounds a host call, contract code included.
const maxCallBodySize = 8 * 1024 * 1024

// Enclave is the call surface the host API forwards to. *enclave.Enclave
// implements it.
type Enclave interface {
	Init(ctx context.Context, req enclave.InitRequest) (enclave.InitResult, error)
	Handle(ctx context.Context, req enclave.HandleRequest) (enclave.HandleResult, error)
	Query(ctx context.Context, req enclave.QueryRequest) (enclave.QueryResult, error)
	Migrate(ctx context.Context, req enclave.MigrateRequest) (enclave.MigrateResult, error)
	AuthorizeAdminChange(req enclave.AdminRequest) error
}

// Byte fields are base64 in JSON. Env is passed through as JSON.
type (
	InitCall struct {
		Code    []byte          `json:"code"`
		Env     json.RawMessage `json:"env"`
		Msg     []byte          `json:"msg"`
		SigInfo cosmos.SigInfo  `json:"sig_info"`
	}

	HandleCall struct {
		Code       []byte                `json:"code"`
		Env        json.RawMessage       `json:"env"`
		Msg        []byte                `json:"msg"`
		SigInfo    cosmos.SigInfo        `json:"sig_info"`
		HandleType validation.HandleType `json:"handle_type"`
	}

	QueryCall struct {
		Code []byte          `json:"code"`
		Env  json.RawMessage `json:"env"`
		Msg  []byte          `json:"msg"`
	}

	MigrateCall struct {
		Code             []byte           `json:"code"`
		Env              json.RawMessage  `json:"env"`
		Msg              []byte           `json:"msg"`
		SigInfo          cosmos.SigInfo   `json:"sig_info"`
		Admin            cosmos.HumanAddr `json:"admin"`
		PreviousCodeHash string           `json:"previous_code_hash"`
	}

	AdminChangeCall struct {
		Env      json.RawMessage  `json:"env"`
		SigInfo  cosmos.SigInfo   `json:"sig_info"`
		Admin    cosmos.HumanAddr `json:"admin"`
		NewAdmin cosmos.HumanAddr `json:"new_admin"`
	}
)

type CallResponse struct {
	Output      json.RawMessage `json:"output,omitempty"`
	ContractKey string          `json:"contract_key,omitempty"`
	Proof       string          `json:"proof,omitempty"`
}

type CallError struct {
	Error string `json:"error"`
}

// HostHandler exposes the enclave to the untrusted host process. Nothing
// it receives is trusted; every call goes through the enclave checks.
type HostHandler struct {
	enclave Enclave
	log     *slog.Logger
}

func NewHostHandler(e Enclave, log *slog.Logger) *HostHandler {
	return &HostHandler{enclave: e, log: log}
}

// POST /api/host/init
func (h *HostHandler) HandleInit(w http.ResponseWriter, r *http.Request) {
	var call InitCall
	if !decodeCall(w, r, &call) {
		return
	}
	res, err := h.enclave.Init(r.Context(), enclave.InitRequest{
		Code:    call.Code,
		Env:     call.Env,
		Msg:     call.Msg,
		SigInfo: call.SigInfo,
	})
	if err != nil {
		h.writeCallError(w, "init", err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{Output: res.Output, ContractKey: res.ContractKey.Base64()})
}

// POST /api/host/handle
func (h *HostHandler) HandleHandle(w http.ResponseWriter, r *http.Request) {
	var call HandleCall
	if !decodeCall(w, r, &call) {
		return
	}
	res, err := h.enclave.Handle(r.Context(), enclave.HandleRequest{
		Code:       call.Code,
		Env:        call.Env,
		Msg:        call.Msg,
		SigInfo:    call.SigInfo,
		HandleType: call.HandleType,
	})
	if err != nil {
		h.writeCallError(w, "handle", err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{Output: res.Output})
}

// POST /api/host/query
func (h *HostHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var call QueryCall
	if !decodeCall(w, r, &call) {
		return
	}
	res, err := h.enclave.Query(r.Context(), enclave.QueryRequest{
		Code: call.Code,
		Env:  call.Env,
		Msg:  call.Msg,
	})
	if err != nil {
		h.writeCallError(w, "query", err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{Output: res.Output})
}

// POST /api/host/migrate
func (h *HostHandler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	var call MigrateCall
	if !decodeCall(w, r, &call) {
		return
	}
	previous, err := parseCodeHash(call.PreviousCodeHash)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, CallError{Error: err.Error()})
		return
	}

	res, err := h.enclave.Migrate(r.Context(), enclave.MigrateRequest{
		Code:             call.Code,
		Env:              call.Env,
		Msg:              call.Msg,
		SigInfo:          call.SigInfo,
		Admin:            call.Admin,
		PreviousCodeHash: previous,
	})
	if err != nil {
		h.writeCallError(w, "migrate", err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{
		Output:      res.Output,
		ContractKey: res.ContractKey.Base64(),
		Proof:       base64.StdEncoding.EncodeToString(res.Proof[:]),
	})
}

// POST /api/host/admin_change
func (h *HostHandler) HandleAdminChange(w http.ResponseWriter, r *http.Request) {
	var call AdminChangeCall
	if !decodeCall(w, r, &call) {
		return
	}
	err := h.enclave.AuthorizeAdminChange(enclave.AdminRequest{
		Env:      call.Env,
		SigInfo:  call.SigInfo,
		Admin:    call.Admin,
		NewAdmin: call.NewAdmin,
	})
	if err != nil {
		h.writeCallError(w, "admin_change", err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{})
}

func decodeCall(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, CallError{Error: "invalid request body"})
		return false
	}
	return true
}

func parseCodeHash(h string) (contractkey.CodeHash, error) {
	var hash contractkey.CodeHash
	b, err := hex.DecodeString(h)
	if err != nil || len(b) != len(hash) {
		return hash, errors.New("previous_code_hash must be a hex encoded sha256")
	}
	copy(hash[:], b)
	return hash, nil
}

// callStatus maps enclave errors to a status and a coarse category. The
// category never says which provenance check failed.
func callStatus(err error) (int, string) {
	switch {
	case errors.Is(err, kms.ErrUninitialized):
		return http.StatusServiceUnavailable, "node is not initialized"
	case errors.Is(err, enclave.ErrInvalidEnv), errors.Is(err, validation.ErrParse):
		return http.StatusBadRequest, "parse error"
	case errors.Is(err, contractkey.ErrMissingOrMalformed), errors.Is(err, contractkey.ErrAuthentication):
		return http.StatusForbidden, "contract key rejected"
	case errors.Is(err, validation.ErrProvenanceMismatch), errors.Is(err, validation.ErrValidation):
		return http.StatusForbidden, "verification failed"
	case errors.Is(err, validation.ErrDecryption):
		return http.StatusForbidden, "decryption failed"
	case errors.Is(err, enclave.ErrEngine), errors.Is(err, enclave.ErrInvalidOutput):
		return http.StatusUnprocessableEntity, "execution failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *HostHandler) writeCallError(w http.ResponseWriter, call string, err error) {
	status, category := callStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Enclave call failed", "call", call, "err", err)
	} else {
		h.log.Debug("Enclave call rejected", "call", call, "status", status)
	}
	writeJSON(w, status, CallError{Error: fmt.Sprintf("%s failed: %s", call, category)})
}
