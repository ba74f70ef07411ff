package httpserver

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/kms"
)

// RegistrationResponse is what a node publishes about itself. Keys are hex.
type RegistrationResponse struct {
	IOExchangePubkey   GenerationKeys `json:"io_exchange_pubkey"`
	SeedExchangePubkey GenerationKeys `json:"seed_exchange_pubkey"`
	AttestationType    string         `json:"attestation_type"`
	Quote              string         `json:"quote"`
}

type GenerationKeys struct {
	Genesis string `json:"genesis"`
	Current string `json:"current"`
}

// Handler serves the public node information.
type Handler struct {
	keys        *kms.KeyHierarchy
	attestation cryptoutils.AttestationProvider
	log         *slog.Logger
}

func NewHandler(keys *kms.KeyHierarchy, attestation cryptoutils.AttestationProvider, log *slog.Logger) *Handler {
	return &Handler{
		keys:        keys,
		attestation: attestation,
		log:         log,
	}
}

// HandleRegistration returns the node public keys with a quote binding the
// current ones.
//
// GET /api/public/registration
func (h *Handler) HandleRegistration(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.registration(w)
	if !ok {
		return
	}

	reportData := cryptoutils.RegistrationReportData(reg.IOExchangePubkey.Current, reg.SeedExchangePubkey.Current)
	quote, err := h.attestation.Attest(reportData)
	if err != nil {
		h.log.Error("Failed to attest registration", "err", err)
		http.Error(w, "Attestation failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, RegistrationResponse{
		IOExchangePubkey: GenerationKeys{
			Genesis: hex.EncodeToString(reg.IOExchangePubkey.Genesis[:]),
			Current: hex.EncodeToString(reg.IOExchangePubkey.Current[:]),
		},
		SeedExchangePubkey: GenerationKeys{
			Genesis: hex.EncodeToString(reg.SeedExchangePubkey.Genesis[:]),
			Current: hex.EncodeToString(reg.SeedExchangePubkey.Current[:]),
		},
		AttestationType: h.attestation.AttestationType().StringID,
		Quote:           hex.EncodeToString(quote),
	})
}

// HandleIOExchangePubkey returns the key users encrypt their messages to.
//
// GET /api/public/io_exchange_pubkey
func (h *Handler) HandleIOExchangePubkey(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.registration(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(base64.StdEncoding.EncodeToString(reg.IOExchangePubkey.Current[:])))
}

func (h *Handler) registration(w http.ResponseWriter) (kms.Registration, bool) {
	reg, err := h.keys.NodeRegistration()
	if errors.Is(err, kms.ErrUninitialized) {
		http.Error(w, "Node is not initialized", http.StatusServiceUnavailable)
		return kms.Registration{}, false
	}
	if err != nil {
		h.log.Error("Failed to read node registration", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return kms.Registration{}, false
	}
	return reg, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
