package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/solargatsby/airdroptool/internal/errors"
	"github.com/solargatsby/airdroptool/internal/models"
	"github.com/solargatsby/airdroptool/internal/service"
	"github.com/solargatsby/airdroptool/internal/storage"
	"github.com/solargatsby/airdroptool/internal/types"
)

// NewAirdropBody is the request body for campaign admission.
type NewAirdropBody struct {
	CampaignID int64    `json:"campaignId"`
	Chain      string   `json:"chain"`
	Receivers  []string `json:"receivers"`
	Limit      int64    `json:"limit"`
	TokenURI   string   `json:"tokenURI"`
	StartTime  int64    `json:"startTime"` // unix seconds, optional
}

// RetryAirdropBody optionally narrows a retry to specific receivers.
type RetryAirdropBody struct {
	Receivers []string `json:"receivers"`
}

// ListResponse is the envelope for paged listings.
type ListResponse struct {
	Items interface{}      `json:"items"`
	Page  types.PageResult `json:"page"`
}

// handleNewAirdrop handles POST /api/airdrops.
func (s *Server) handleNewAirdrop(w http.ResponseWriter, r *http.Request) {
	var body NewAirdropBody
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body: "+err.Error(), nil)
		return
	}

	params := service.NewAirdropParams{
		CampaignID: body.CampaignID,
		Chain:      body.Chain,
		Receivers:  body.Receivers,
		Limit:      body.Limit,
		TokenURI:   body.TokenURI,
	}
	if body.StartTime > 0 {
		params.StartTime = time.Unix(body.StartTime, 0).UTC()
	}

	request, err := s.airdrops.NewAirdrop(r.Context(), params)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// Admission is asynchronous: receivers are queued, not yet persisted.
	respondJSON(w, http.StatusAccepted, request)
}

// handleListAirdrops handles GET /api/airdrops.
func (s *Server) handleListAirdrops(w http.ResponseWriter, r *http.Request) {
	filter := storage.RequestFilter{
		Chain:       r.URL.Query().Get("chain"),
		AirdropName: r.URL.Query().Get("airdropName"),
		Category:    r.URL.Query().Get("category"),
	}

	statuses, err := parseRequestStatuses(r.URL.Query().Get("status"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	filter.Statuses = statuses

	requests, pageResult, err := s.airdrops.ListRequests(r.Context(), filter, parsePageOptions(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ListResponse{Items: requests, Page: pageResult})
}

// handleGetAirdrop handles GET /api/airdrops/{campaignId}.
func (s *Server) handleGetAirdrop(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	request, err := s.airdrops.GetRequest(r.Context(), campaignID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

// handleGetAirdropByRequestID handles GET /api/airdrops?requestId=.
func (s *Server) handleGetAirdropByRequestID(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("requestId")
	requestID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || requestID <= 0 {
		respondServiceError(w, apperrors.NewValidationError("requestId", "must be a positive integer"))
		return
	}

	request, err := s.airdrops.GetRequestByID(r.Context(), requestID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

// handleGetResults handles GET /api/airdrops/{campaignId}/results.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	filter := storage.ResultFilter{}
	if receiver := r.URL.Query().Get("receiver"); receiver != "" {
		filter.Receivers = []string{receiver}
	}
	statuses, err := parseResultStatuses(r.URL.Query().Get("status"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	filter.Statuses = statuses

	results, pageResult, err := s.airdrops.GetResults(r.Context(), campaignID, filter, parsePageOptions(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ListResponse{Items: results, Page: pageResult})
}

// handleRetryAirdrop handles POST /api/airdrops/{campaignId}/retry.
func (s *Server) handleRetryAirdrop(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var body RetryAirdropBody
	if r.ContentLength > 0 {
		if err := parseJSONBody(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body: "+err.Error(), nil)
			return
		}
	}

	request, err := s.airdrops.RetryAirdrop(r.Context(), campaignID, body.Receivers)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, request)
}

// handleCancelAirdrop handles POST /api/airdrops/{campaignId}/cancel.
func (s *Server) handleCancelAirdrop(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	request, err := s.airdrops.CancelAirdrop(r.Context(), campaignID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

func parseCampaignID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["campaignId"]
	campaignID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || campaignID <= 0 {
		return 0, apperrors.NewValidationError("campaignId", "must be a positive integer")
	}
	return campaignID, nil
}

func parsePageOptions(r *http.Request) types.PageOptions {
	page := types.PageOptions{}
	if pageNo, err := strconv.Atoi(r.URL.Query().Get("pageNo")); err == nil {
		page.PageNo = pageNo
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil {
		page.Size = size
	}
	return page.Normalize()
}

func parseRequestStatuses(raw string) ([]models.RequestStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var statuses []models.RequestStatus
	for _, part := range strings.Split(raw, ",") {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || value < int(models.RequestInit) || value > int(models.RequestCanceled) {
			return nil, apperrors.NewValidationError("status", "unknown request status "+part)
		}
		statuses = append(statuses, models.RequestStatus(value))
	}
	return statuses, nil
}

func parseResultStatuses(raw string) ([]models.ResultStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var statuses []models.ResultStatus
	for _, part := range strings.Split(raw, ",") {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || value < int(models.ResultInit) || value > int(models.ResultFailed) {
			return nil, apperrors.NewValidationError("status", "unknown result status "+part)
		}
		statuses = append(statuses, models.ResultStatus(value))
	}
	return statuses, nil
}
