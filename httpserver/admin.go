package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/kms"
)

// BootstrapState is where the node is in getting its consensus seeds.
type BootstrapState int

const (
	// StateInitial: no seeds and no bootstrap started.
	StateInitial BootstrapState = iota

	// StateDistributingShares: seeds were generated and installed, and the
	// backup shares wait to be retrieved by the admins.
	StateDistributingShares

	// StateRecovering: shares of existing seeds are being collected.
	StateRecovering

	// StateComplete: seeds are installed and no shares are pending.
	StateComplete
)

var bootstrapStateNames = map[BootstrapState]string{
	StateInitial:            "initial",
	StateDistributingShares: "distributing_shares",
	StateRecovering:         "recovering",
	StateComplete:           "complete",
}

func (s BootstrapState) String() string {
	if name, ok := bootstrapStateNames[s]; ok {
		return name
	}
	return "unknown"
}

type backupShare struct {
	index     int
	encrypted []byte
	retrieved bool
}

type bootstrapStatus struct {
	State          string `json:"state"`
	Threshold      int    `json:"threshold,omitempty"`
	TotalShares    int    `json:"total_shares,omitempty"`
	ReceivedShares int    `json:"received_shares,omitempty"`
}

type splitParams struct {
	Threshold   int `json:"threshold"`
	TotalShares int `json:"total_shares"`
}

type shareAssignment struct {
	AdminID    string `json:"admin_id"`
	ShareIndex int    `json:"share_index"`
}

type generateResponse struct {
	Assignments []shareAssignment `json:"share_assignments"`
	Threshold   int               `json:"threshold"`
	TotalShares int               `json:"total_shares"`
}

type backupShareResponse struct {
	ShareIndex     int    `json:"share_index"`
	EncryptedShare []byte `json:"encrypted_share"`
}

type shareSubmission struct {
	Share     []byte `json:"share"`
	Signature []byte `json:"signature"`
}

// submitResponse omits received_shares once the seeds are recovered.
type submitResponse struct {
	Recovered      bool `json:"recovered"`
	ReceivedShares *int `json:"received_shares,omitempty"`
}

type adminError struct {
	Error string `json:"error"`
}

func failAdmin(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, adminError{Error: fmt.Sprintf(format, args...)})
}

// AdminHandler bootstraps the consensus seeds of a node. Admins either have
// it generate seeds and collect an encrypted Shamir share each, or feed it
// signed shares of existing seeds until enough are in to rebuild them.
type AdminHandler struct {
	log  *slog.Logger
	keys *kms.KeyHierarchy
	auth *adminAuth

	mu          sync.Mutex
	state       BootstrapState
	threshold   int
	totalShares int
	shares      map[string]*backupShare
	recovery    *kms.SeedRecovery

	seeded     chan struct{}
	seededOnce sync.Once
}

func NewAdminHandler(log *slog.Logger, keys *kms.KeyHierarchy, adminPubKeys map[string][]byte) *AdminHandler {
	h := &AdminHandler{
		log:    log,
		keys:   keys,
		auth:   &adminAuth{log: log, pubKeys: adminPubKeys},
		state:  StateInitial,
		seeded: make(chan struct{}),
	}
	if keys.IsInitialized() {
		h.state = StateComplete
		h.markSeeded()
	}
	return h
}

// WaitForBootstrap blocks until the node holds its seeds or ctx is done.
func (h *AdminHandler) WaitForBootstrap(ctx context.Context) error {
	select {
	case <-h.seeded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *AdminHandler) State() BootstrapState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *AdminHandler) markSeeded() {
	h.seededOnce.Do(func() { close(h.seeded) })
}

// AdminRouter serves the bootstrap API. Status is open, every other route
// requires a signed admin request.
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.middleware)
		r.Post("/init/generate", h.handleInitGenerate)
		r.Post("/init/recover", h.handleInitRecover)
		r.Get("/share", h.handleGetShare)
		r.Post("/share", h.handleSubmitShare)
	})
	return r
}

func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	status := bootstrapStatus{State: h.state.String()}
	switch h.state {
	case StateDistributingShares:
		status.Threshold, status.TotalShares = h.threshold, h.totalShares
	case StateRecovering:
		status.Threshold, status.ReceivedShares = h.threshold, h.recovery.Received()
	}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, status)
}

func (p splitParams) validate(admins int) error {
	switch {
	case p.Threshold < 2:
		return errors.New("threshold must be at least 2")
	case p.TotalShares < p.Threshold:
		return errors.New("total shares must not be below the threshold")
	case p.TotalShares > admins:
		return fmt.Errorf("%d shares requested but only %d admins are configured", p.TotalShares, admins)
	}
	return nil
}

// handleInitGenerate creates and installs fresh consensus seeds, then splits
// them into one share per admin, each encrypted to that admin's key. Admins
// are assigned shares in the order of their ids.
func (h *AdminHandler) handleInitGenerate(w http.ResponseWriter, r *http.Request) {
	adminID := adminFromContext(r.Context())

	var params splitParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		failAdmin(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := params.validate(len(h.auth.pubKeys)); err != nil {
		failAdmin(w, http.StatusBadRequest, "%s", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateInitial {
		failAdmin(w, http.StatusBadRequest, "bootstrap is %s", h.state)
		return
	}

	seeds, err := h.keys.CreateConsensusSeed(r.Context())
	if err != nil {
		h.log.Error("Failed to create consensus seeds", "err", err, "adminID", adminID)
		failAdmin(w, http.StatusInternalServerError, "failed to create consensus seeds")
		return
	}
	h.markSeeded()

	split, err := kms.SplitSeeds(seeds, params.TotalShares, params.Threshold)
	if err != nil {
		h.log.Error("Failed to split consensus seeds", "err", err)
		failAdmin(w, http.StatusInternalServerError, "failed to split consensus seeds")
		return
	}
	defer func() {
		for _, s := range split {
			clear(s)
		}
	}()

	holders := h.auth.adminIDs()[:len(split)]
	shares := make(map[string]*backupShare, len(split))
	resp := generateResponse{Threshold: params.Threshold, TotalShares: params.TotalShares}
	for i, id := range holders {
		encrypted, err := cryptoutils.EncryptForAdmin(h.auth.pubKeys[id], split[i])
		if err != nil {
			h.log.Error("Failed to encrypt share", "err", err, "adminID", id)
			failAdmin(w, http.StatusInternalServerError, "failed to encrypt shares")
			return
		}
		shares[id] = &backupShare{index: i, encrypted: encrypted}
		resp.Assignments = append(resp.Assignments, shareAssignment{AdminID: id, ShareIndex: i})
	}

	h.shares = shares
	h.threshold, h.totalShares = params.Threshold, params.TotalShares
	h.state = StateDistributingShares

	h.log.Info("Consensus seeds generated, shares await retrieval", "adminID", adminID,
		"threshold", params.Threshold, "totalShares", params.TotalShares)
	writeJSON(w, http.StatusOK, resp)
}

// handleGetShare hands out the caller's share. An admin may fetch again until
// every share was fetched at least once; then the shares are dropped.
func (h *AdminHandler) handleGetShare(w http.ResponseWriter, r *http.Request) {
	adminID := adminFromContext(r.Context())

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateDistributingShares {
		failAdmin(w, http.StatusBadRequest, "no shares to retrieve while bootstrap is %s", h.state)
		return
	}
	share, ok := h.shares[adminID]
	if !ok {
		failAdmin(w, http.StatusNotFound, "no share is assigned to %s", adminID)
		return
	}
	share.retrieved = true
	resp := backupShareResponse{ShareIndex: share.index, EncryptedShare: share.encrypted}

	if h.allRetrieved() {
		h.shares = nil
		h.state = StateComplete
		h.log.Info("Every share was retrieved, seed bootstrap complete")
	}

	h.log.Info("Share retrieved", "adminID", adminID, "shareIndex", share.index)
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) allRetrieved() bool {
	for _, s := range h.shares {
		if !s.retrieved {
			return false
		}
	}
	return true
}

func (h *AdminHandler) handleInitRecover(w http.ResponseWriter, r *http.Request) {
	adminID := adminFromContext(r.Context())

	var params struct {
		Threshold int `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		failAdmin(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateInitial {
		failAdmin(w, http.StatusBadRequest, "bootstrap is %s", h.state)
		return
	}

	ids := h.auth.adminIDs()
	pubKeys := make([][]byte, len(ids))
	for i, id := range ids {
		pubKeys[i] = h.auth.pubKeys[id]
	}
	recovery, err := kms.NewSeedRecovery(h.keys, params.Threshold, pubKeys)
	if err != nil {
		failAdmin(w, http.StatusBadRequest, "invalid recovery parameters: %s", err)
		return
	}

	h.recovery = recovery
	h.threshold, h.totalShares = params.Threshold, len(ids)
	h.state = StateRecovering

	h.log.Info("Seed recovery started", "adminID", adminID, "threshold", params.Threshold)
	writeJSON(w, http.StatusOK, bootstrapStatus{State: h.state.String(), Threshold: params.Threshold})
}

// handleSubmitShare feeds one admin's share to the recovery. The share must
// be signed by the submitting admin; kms.SeedRecovery checks that.
func (h *AdminHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	adminID := adminFromContext(r.Context())

	var submission shareSubmission
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		failAdmin(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer clear(submission.Share)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateRecovering {
		failAdmin(w, http.StatusBadRequest, "not recovering, bootstrap is %s", h.state)
		return
	}

	done, err := h.recovery.SubmitShare(r.Context(), submission.Share, submission.Signature, h.auth.pubKeys[adminID])
	if err != nil {
		h.log.Warn("Share rejected", "err", err, "adminID", adminID)
		failAdmin(w, http.StatusBadRequest, "share rejected: %s", err)
		return
	}

	if !done {
		received := h.recovery.Received()
		h.log.Info("Share accepted", "adminID", adminID, "received", received)
		writeJSON(w, http.StatusOK, submitResponse{ReceivedShares: &received})
		return
	}

	h.state = StateComplete
	h.markSeeded()
	h.log.Info("Consensus seeds recovered", "adminID", adminID)
	writeJSON(w, http.StatusOK, submitResponse{Recovered: true})
}
