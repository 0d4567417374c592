package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Jacob-Jan/proof-of-heart/internal/cache"
	"github.com/Jacob-Jan/proof-of-heart/internal/directory"
	"github.com/Jacob-Jan/proof-of-heart/internal/lightning"
	"github.com/Jacob-Jan/proof-of-heart/internal/models"
	"github.com/Jacob-Jan/proof-of-heart/internal/relays"
	"github.com/Jacob-Jan/proof-of-heart/internal/session"
	"github.com/Jacob-Jan/proof-of-heart/internal/signer"
	"github.com/Jacob-Jan/proof-of-heart/internal/source"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	svc      *directory.Service
	policy   *relays.Policy
	cache    *cache.Cache
	sessions *session.Store
	limit    int
}

// New creates a new Handler instance
func New(svc *directory.Service, policy *relays.Policy, c *cache.Cache, sessions *session.Store, limit int) *Handler {
	return &Handler{
		svc:      svc,
		policy:   policy,
		cache:    c,
		sessions: sessions,
		limit:    limit,
	}
}

// Register installs all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", corsMiddleware(h.Health))
	mux.HandleFunc("/charities", corsMiddleware(h.Charities))
	mux.HandleFunc("/charities/", corsMiddleware(h.CharityRoutes))
	mux.HandleFunc("/insights", corsMiddleware(h.Insights))
	mux.HandleFunc("/profile", corsMiddleware(h.Profile))
	mux.HandleFunc("/onboard", corsMiddleware(h.Onboard))
	mux.HandleFunc("/settings", corsMiddleware(h.Settings))
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	RelayMode string    `json:"relayMode"`
}

// RatingRequest is the body of a rating publish request
type RatingRequest struct {
	Rating int    `json:"rating"`
	Note   string `json:"note"`
}

// ReportRequest is the body of a flag publish request
type ReportRequest struct {
	Reason   string `json:"reason"`
	Note     string `json:"note"`
	Withdraw bool   `json:"withdraw"`
}

// PublishResponse returns the id of a published event
type PublishResponse struct {
	EventID string `json:"eventId"`
}

// DonationResponse resolves where a donation for a charity should go
type DonationResponse struct {
	Address     string `json:"address"`
	PayEndpoint string `json:"payEndpoint"`
	Message     string `json:"message,omitempty"`
}

// SettingsResponse exposes the effective relay configuration
type SettingsResponse struct {
	RelayMode     string   `json:"relayMode"`
	ReadRelays    []string `json:"readRelays"`
	WriteRelays   []string `json:"writeRelays"`
	CurrentPubkey string   `json:"currentPubkey,omitempty"`
}

// SettingsRequest updates the relay mode preference
type SettingsRequest struct {
	RelayMode string `json:"relayMode"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// corsMiddleware adds CORS headers to allow cross-origin requests
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (h *Handler) relaySet() directory.RelaySet {
	return directory.RelaySet{
		App:      h.policy.ActiveReadRelays(),
		Identity: h.policy.IdentityReadRelays(),
	}
}

func (h *Handler) loadCharities(r *http.Request) ([]models.CharityProfile, error) {
	mode := string(h.policy.Mode())
	return h.cache.GetCharities(mode, func() ([]models.CharityProfile, error) {
		return h.svc.LoadCharities(r.Context(), h.relaySet(), h.limit)
	})
}

// Health handles GET /health requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		RelayMode: string(h.policy.Mode()),
	})
}

// Charities handles GET /charities requests: the public ranked list,
// optionally filtered by free-text search, category and country.
func (h *Handler) Charities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	charities, err := h.loadCharities(r)
	if err != nil {
		h.writeServiceError(w, "charities", err)
		return
	}

	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	category := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category")))
	country := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("country")))

	filtered := make([]models.CharityProfile, 0, len(charities))
	for _, c := range charities {
		if !c.Listed() {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(c.Name+" "+c.About), q) {
			continue
		}
		if category != "" && strings.ToLower(c.Charity.Category) != category {
			continue
		}
		if country != "" && strings.ToLower(c.Charity.Country) != country {
			continue
		}
		filtered = append(filtered, c)
	}

	writeJSON(w, http.StatusOK, filtered)
}

// CharityRoutes dispatches /charities/{id} and its sub-resources.
func (h *Handler) CharityRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/charities/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Charity npub or pubkey is required in the URL path")
		return
	}

	switch sub {
	case "":
		h.charityDetail(w, r, id)
	case "donation":
		h.charityDonation(w, r, id)
	case "rating":
		h.charityRating(w, r, id)
	case "report":
		h.charityReport(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "Unknown charity resource")
	}
}

// findCharity resolves an id against the cached aggregation, so detail
// and publish paths do not re-run the relay queries per request.
func (h *Handler) findCharity(w http.ResponseWriter, r *http.Request, id string) *models.CharityProfile {
	charities, err := h.loadCharities(r)
	if err != nil {
		h.writeServiceError(w, "charity detail", err)
		return nil
	}
	charity := directory.Lookup(charities, id)
	if charity == nil {
		writeError(w, http.StatusNotFound, "Charity not found")
		return nil
	}
	return charity
}

func (h *Handler) charityDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if charity := h.findCharity(w, r, id); charity != nil {
		writeJSON(w, http.StatusOK, charity)
	}
}

// charityDonation resolves and validates the donation address for a
// charity. The actual invoice flow is the caller's business.
func (h *Handler) charityDonation(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	charity := h.findCharity(w, r, id)
	if charity == nil {
		return
	}

	address := charity.DonationAddress()
	endpoint, err := lightning.PayEndpoint(address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No valid lightning address found for this charity")
		return
	}

	writeJSON(w, http.StatusOK, DonationResponse{
		Address:     address,
		PayEndpoint: endpoint,
		Message:     charity.Charity.DonationMessage,
	})
}

func (h *Handler) charityRating(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	charity := h.findCharity(w, r, id)
	if charity == nil {
		return
	}

	eventID, err := h.svc.PublishRating(r.Context(), h.policy.WriteRelays(), charity.Pubkey, req.Rating, req.Note)
	if err != nil {
		h.writeServiceError(w, "rating publish", err)
		return
	}

	h.cache.Invalidate()
	writeJSON(w, http.StatusOK, PublishResponse{EventID: eventID})
}

func (h *Handler) charityReport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	charity := h.findCharity(w, r, id)
	if charity == nil {
		return
	}

	var eventID string
	var err error
	if req.Withdraw {
		eventID, err = h.svc.WithdrawReport(r.Context(), h.policy.WriteRelays(), charity.Pubkey)
	} else {
		eventID, err = h.svc.PublishReport(r.Context(), h.policy.WriteRelays(), charity.Pubkey, req.Reason, req.Note)
	}
	if err != nil {
		h.writeServiceError(w, "report publish", err)
		return
	}

	h.cache.Invalidate()
	writeJSON(w, http.StatusOK, PublishResponse{EventID: eventID})
}

// Insights handles GET /insights requests for the admin overview.
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	insights, err := h.cache.GetInsights(func() (*models.Insights, error) {
		return h.svc.Insights(r.Context(), h.relaySet(), h.limit*3)
	})
	if err != nil {
		h.writeServiceError(w, "insights", err)
		return
	}

	writeJSON(w, http.StatusOK, insights)
}

// Profile handles GET and POST /profile: the signing identity's own
// charity extension record. POST layers the submitted fields over the
// currently published ones so partial edits never erase other clients'
// fields.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		fields, exists, err := h.svc.LoadOwnExtension(r.Context(), h.policy.ActiveReadRelays())
		if err != nil {
			h.writeServiceError(w, "profile load", err)
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, "No charity profile published yet")
			return
		}
		writeJSON(w, http.StatusOK, fields)

	case http.MethodPost:
		var overlay models.CharityFields
		if err := json.NewDecoder(r.Body).Decode(&overlay); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}

		if addr := overlay.LightningAddress; addr != "" {
			if err := lightning.ValidateAddress(addr); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid lightning address format")
				return
			}
		}

		eventID, err := h.svc.UpdateExtension(r.Context(),
			h.policy.ActiveReadRelays(), h.policy.WriteRelays(), overlay)
		if err != nil {
			h.writeServiceError(w, "profile publish", err)
			return
		}

		h.cache.Invalidate()
		writeJSON(w, http.StatusOK, PublishResponse{EventID: eventID})

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// OnboardResponse reports the identity that completed onboarding
type OnboardResponse struct {
	Pubkey    string `json:"pubkey"`
	Onboarded bool   `json:"onboarded"`
}

// Onboard handles POST /onboard: publishes a default extension record
// for the signing identity when none exists yet and marks the identity
// as onboarded on this device.
func (h *Handler) Onboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	pubkey, err := h.svc.Onboard(r.Context(), h.policy.ActiveReadRelays(), h.policy.WriteRelays())
	if err != nil {
		h.writeServiceError(w, "onboarding", err)
		return
	}

	if err := h.sessions.RememberIdentity(pubkey); err != nil {
		log.Printf("[API] Failed to remember identity: %v", err)
	}
	if err := h.sessions.MarkOnboarded(pubkey); err != nil {
		log.Printf("[API] Failed to mark onboarding: %v", err)
	}

	h.cache.Invalidate()
	writeJSON(w, http.StatusOK, OnboardResponse{
		Pubkey:    pubkey,
		Onboarded: true,
	})
}

// Settings handles GET and PUT /settings: the sticky relay mode
// preference and the relay sets it resolves to.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, SettingsResponse{
			RelayMode:     string(h.policy.Mode()),
			ReadRelays:    h.policy.ActiveReadRelays(),
			WriteRelays:   h.policy.WriteRelays(),
			CurrentPubkey: h.sessions.CurrentIdentity(),
		})

	case http.MethodPut:
		var req SettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if err := h.sessions.SetRelayMode(req.RelayMode); err != nil {
			log.Printf("[API] Failed to store relay mode: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to store relay mode")
			return
		}
		h.cache.Invalidate()
		writeJSON(w, http.StatusOK, SettingsResponse{
			RelayMode:   string(h.policy.Mode()),
			ReadRelays:  h.policy.ActiveReadRelays(),
			WriteRelays: h.policy.WriteRelays(),
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, source.ErrPublishRejected):
		log.Printf("[API] %s: event rejected: %v", op, err)
		writeError(w, http.StatusBadGateway, "Every relay refused the event")
	case errors.Is(err, source.ErrSourceUnavailable):
		log.Printf("[API] %s: relay network unavailable: %v", op, err)
		writeError(w, http.StatusBadGateway, "No relay responded; try again later")
	case errors.Is(err, signer.ErrNoSigner):
		writeError(w, http.StatusServiceUnavailable, "No Nostr signer is configured on this instance")
	default:
		log.Printf("[API] %s failed: %v", op, err)
		writeError(w, http.StatusInternalServerError, "Request failed")
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Error encoding JSON: %v", err)
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
