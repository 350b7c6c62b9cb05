package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"nftmarket/internal/actions"
	"nftmarket/internal/domain"
	"nftmarket/internal/format"
	"nftmarket/internal/ipfs"
	"nftmarket/internal/ledger"
	"nftmarket/internal/mint"
	"nftmarket/internal/paging"
)

// registerAPI mounts the JSON API the embedding UI talks to.
func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/market", s.handleMarket)
	mux.HandleFunc("GET /api/owned", s.handleOwned)
	mux.HandleFunc("GET /api/tokens/{id}", s.handleToken)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/users/{address}/stats", s.handleUserStats)
	mux.HandleFunc("POST /api/mint", s.handleMint)
	mux.HandleFunc("POST /api/tokens/{id}/list", s.handleList)
	mux.HandleFunc("POST /api/tokens/{id}/delist", s.handleDelist)
	mux.HandleFunc("POST /api/tokens/{id}/buy", s.handleBuy)
}

// pageResponse is one page of a token collection.
type pageResponse struct {
	Items      []domain.TokenID `json:"items"`
	Page       int              `json:"page"`
	TotalPages int              `json:"total_pages"`
	TotalItems int              `json:"total_items"`
	Stale      bool             `json:"stale,omitempty"`
}

// tokenResponse is the assembled token view.
type tokenResponse struct {
	ID           domain.TokenID      `json:"id"`
	Owner        string              `json:"owner"`
	Creator      string              `json:"creator"`
	CreatorShort string              `json:"creator_short"`
	RoyaltyPct   string              `json:"royalty_percent"`
	Price        string              `json:"price,omitempty"`
	PriceEther   string              `json:"price_ether,omitempty"`
	IsForSale    bool                `json:"is_for_sale"`
	TokenURI     string              `json:"token_uri"`
	ImageURL     string              `json:"image_url,omitempty"`
	Metadata     *domain.NFTMetadata `json:"metadata,omitempty"`
	Integrity    string              `json:"integrity_error,omitempty"`
}

// txResponse reports a submitted action.
type txResponse struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	ids, err := s.view.TokensForSale(r.Context())
	s.writePage(w, ids, err, r)
}

func (s *Server) handleOwned(w http.ResponseWriter, r *http.Request) {
	addr, err := s.session.Address()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	ids, err := s.view.OwnedTokens(r.Context(), addr)
	s.writePage(w, ids, err, r)
}

// writePage paginates ids and writes them. A refresh error with a
// usable stale snapshot degrades to serving the snapshot marked stale.
func (s *Server) writePage(w http.ResponseWriter, ids []domain.TokenID, err error, r *http.Request) {
	if err != nil && ids == nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	page := paging.Paginate(ids, pageNum, perPage)

	writeJSON(w, http.StatusOK, pageResponse{
		Items:      page.Items,
		Page:       page.Number,
		TotalPages: page.TotalPages,
		TotalItems: page.TotalItems,
		Stale:      err != nil,
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	id, err := tokenID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	detail, err := s.view.TokenDetail(r.Context(), id)
	if detail == nil {
		status := http.StatusNotFound
		if err == nil {
			err = errors.New("token not found")
		}
		writeError(w, status, err)
		return
	}

	resp := tokenResponse{
		ID:           detail.ID,
		Owner:        detail.Owner,
		Creator:      detail.Data.Creator,
		CreatorShort: format.ShortenAddress(detail.Data.Creator),
		RoyaltyPct:   format.BasisPointsToPercent(detail.Data.RoyaltyBasisPoints),
		IsForSale:    detail.Data.IsForSale,
		TokenURI:     detail.TokenURI,
		ImageURL:     detail.ImageURL,
		Metadata:     detail.Metadata,
	}
	if detail.Data.Price != nil && detail.Data.Price.Sign() > 0 {
		resp.Price = detail.Data.Price.String()
		resp.PriceEther = format.FormatWei(detail.Data.Price, 4)
	}
	if detail.IntegrityErr != nil {
		resp.Integrity = detail.IntegrityErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.view.ContractStats(r.Context())
	if stats == nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_nfts":         stats.TotalNFTs,
		"total_on_sale":      stats.TotalOnSale,
		"total_volume":       stats.Stats.TotalVolume.String(),
		"total_transactions": stats.Stats.TotalTransactions,
		"marketplace_fee":    format.BasisPointsToPercent(stats.Stats.MarketplaceFee),
		"max_royalty_fee":    format.BasisPointsToPercent(stats.Stats.MaxRoyaltyFee),
		"stale":              err != nil,
	})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	stats, err := s.view.UserStats(r.Context(), addr)
	if stats == nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens_owned":     stats.TokensOwned,
		"tokens_sold":      stats.TokensSold,
		"tokens_purchased": stats.TokensPurchased,
		"total_spent":      stats.TotalSpent.String(),
		"total_earned":     stats.TotalEarned.String(),
		"stale":            err != nil,
	})
}

// handleMint accepts a multipart form mirroring the original create
// form: file, name, description, price, royalty.
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(ipfs.MaxPayloadSize + 1<<20); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, ipfs.MaxPayloadSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	input := mint.Input{
		File:           content,
		FileName:       header.Filename,
		FileMIME:       header.Header.Get("Content-Type"),
		Name:           r.FormValue("name"),
		Description:    r.FormValue("description"),
		Price:          r.FormValue("price"),
		RoyaltyPercent: r.FormValue("royalty"),
	}

	result, err := s.minter.Mint(r.Context(), input)
	if err != nil {
		var merr *mint.Error
		if errors.As(err, &merr) {
			var fields mint.FieldErrors
			if errors.As(merr.Err, &fields) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
					"error":  "validation failed",
					"stage":  merr.Stage,
					"fields": fields,
				})
				return
			}
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":   ledger.UserMessage(merr.Err),
				"stage":   merr.Stage,
				"tx_hash": string(result.TxHash),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tx_hash":       string(result.TxHash),
		"token_uri":     result.TokenURI,
		"asset_hash":    result.AssetHash,
		"metadata_hash": result.MetadataHash,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	id, err := tokenID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcome, err := s.actor.List(r.Context(), id, body.Price)
	s.writeOutcome(w, outcome, err)
}

func (s *Server) handleDelist(w http.ResponseWriter, r *http.Request) {
	id, err := tokenID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcome, err := s.actor.Delist(r.Context(), id)
	s.writeOutcome(w, outcome, err)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	id, err := tokenID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcome, err := s.actor.Buy(r.Context(), id)
	s.writeOutcome(w, outcome, err)
}

// writeOutcome maps an action result onto the wire. Precondition
// failures are client errors with no transaction; reverts carry the
// receipt's reason; everything else is a gateway problem.
func (s *Server) writeOutcome(w http.ResponseWriter, outcome *actions.Outcome, err error) {
	if err != nil {
		switch {
		case errors.Is(err, actions.ErrNotOwner),
			errors.Is(err, actions.ErrOwnTokenPurchase),
			errors.Is(err, actions.ErrNotForSale),
			errors.Is(err, actions.ErrInvalidPrice),
			errors.Is(err, domain.ErrNoSession):
			writeError(w, http.StatusConflict, err)
		default:
			resp := txResponse{Status: "failed", Reason: ledger.UserMessage(err)}
			if outcome != nil {
				resp.TxHash = string(outcome.TxHash)
				if outcome.Receipt != nil && outcome.Receipt.Status == ledger.ReceiptReverted {
					resp.Status = "reverted"
				}
			}
			writeJSON(w, http.StatusBadGateway, resp)
		}
		return
	}

	writeJSON(w, http.StatusOK, txResponse{
		TxHash: string(outcome.TxHash),
		Status: "confirmed",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// tokenID parses the {id} path segment.
func tokenID(r *http.Request) (domain.TokenID, error) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("token id must be a positive integer")
	}
	return domain.TokenID(id), nil
}
