package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/malbeclabs/truebw/rewards/pkg/audit"
	"github.com/malbeclabs/truebw/rewards/pkg/ledger"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
	// maxPage keeps the (page-1)*limit offset well inside the int range.
	maxPage          = 1_000_000
)

type PageMeta struct {
	Page      int `json:"page"`
	Limit     int `json:"limit"`
	Total     int `json:"total"`
	PageCount int `json:"page_count"`
}

type ListVotersResponse struct {
	Data []ledger.Voter `json:"data"`
	Meta PageMeta       `json:"meta"`
}

type VoterCountResponse struct {
	Count int64 `json:"count"`
}

func (s *Server) listVotersHandler(w http.ResponseWriter, r *http.Request) {
	page, limit, err := parsePage(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	voters, total, err := s.cfg.Ledger.ListVoters(r.Context(), limit, (page-1)*limit)
	if err != nil {
		s.log.Error("server: failed to list voters", "error", err)
		http.Error(w, "Failed to list voters", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, ListVotersResponse{
		Data: voters,
		Meta: PageMeta{
			Page:      page,
			Limit:     limit,
			Total:     total,
			PageCount: (total + limit - 1) / limit,
		},
	})
}

func (s *Server) voterCountHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.cfg.Ledger.VoterCount(r.Context())
	if err != nil {
		s.log.Error("server: failed to get voter count", "error", err)
		http.Error(w, "Failed to get voter count", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, VoterCountResponse{Count: count})
}

func (s *Server) getVoterHandler(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	voter, err := s.cfg.Ledger.GetVoter(r.Context(), wallet)
	if err != nil {
		if errors.Is(err, ledger.ErrVoterNotFound) {
			http.Error(w, "Voter not found", http.StatusNotFound)
			return
		}
		s.log.Error("server: failed to get voter", "wallet", wallet, "error", err)
		http.Error(w, "Failed to get voter", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, voter)
}

func (s *Server) getBlockHandler(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid block height", http.StatusBadRequest)
		return
	}
	rec, err := s.cfg.Records.Record(r.Context(), height)
	if err != nil {
		if errors.Is(err, audit.ErrRecordNotFound) {
			http.Error(w, "Block reward record not found", http.StatusNotFound)
			return
		}
		s.log.Error("server: failed to get block reward record", "height", height, "error", err)
		http.Error(w, "Failed to get block reward record", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// parsePage reads the 1-based page and the page size from the query string.
func parsePage(r *http.Request) (page, limit int, err error) {
	page, limit = 1, defaultPageLimit
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 1 || page > maxPage {
			return 0, 0, errors.New("invalid page")
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(limit, maxPageLimit)
	}
	return page, limit, nil
}
