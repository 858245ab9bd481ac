// Package server exposes the auction service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/batchauction/auctionapi"
	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/service"
)

const maxBodyBytes = 1 << 20

// Service is the part of service.AuctionService the HTTP layer uses.
type Service interface {
	PlaceBid(ctx context.Context, sender core.Address, price core.Mutez, quantity uint64, payment core.Mutez) (*core.BidOutcome, error)
	Claim(ctx context.Context, sender core.Address) (*service.ClaimResult, error)
	RevealMetadata(ctx context.Context, sender core.Address, updates []core.TokenMetadata) error
	Status() auctionapi.AuctionStatusResponse
	BidsOf(owner core.Address) auctionapi.BidderBidsResponse
	PublicKey() (auctionapi.PublicKeyResponse, error)
}

type Options struct {
	Addr         string
	Workers      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// AdminToken is the bearer token admin-only routes require. Empty disables them.
	AdminToken string
}

type Server struct {
	svc    Service
	opts   Options
	log    *logrus.Entry
	slots  chan struct{}
	server *http.Server
}

func New(svc Service, opts Options, log *logrus.Entry) *Server {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Server{
		svc:   svc,
		opts:  opts,
		slots: make(chan struct{}, opts.Workers),
		log: log.WithFields(logrus.Fields{
			"package": "server",
			"addr":    opts.Addr,
		}),
	}
}

// Routes returns the HTTP handler with all middleware applied.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.workerSlotMiddleware)
	api.HandleFunc("/auction", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/bids", s.handlePlaceBid).Methods(http.MethodPost)
	api.HandleFunc("/bidders/{address}/bids", s.handleBidderBids).Methods(http.MethodGet)
	api.HandleFunc("/claims", s.handleClaim).Methods(http.MethodPost)
	api.Handle("/metadata/reveal", s.adminOnly(http.HandlerFunc(s.handleRevealMetadata))).Methods(http.MethodPost)
	api.HandleFunc("/receipts/public-key", s.handlePublicKey).Methods(http.MethodGet)

	return s.recoverMiddleware(s.loggingMiddleware(r))
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Routes(),
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}
	s.log.WithField("workers", s.opts.Workers).Info("auction API listening")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// -------------------- Handlers --------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.RespondOK(w, auctionapi.HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.RespondOK(w, s.svc.Status())
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req auctionapi.PlaceBidRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Bidder == "" {
		s.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "bidder is required")
		return
	}
	price, payment, err := req.Amounts()
	if err != nil {
		s.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	outcome, err := s.svc.PlaceBid(r.Context(), req.Bidder, price, req.Quantity, payment)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, auctionapi.NewPlaceBidResponse(outcome))
}

func (s *Server) handleBidderBids(w http.ResponseWriter, r *http.Request) {
	address := core.Address(mux.Vars(r)["address"])
	s.RespondOK(w, s.svc.BidsOf(address))
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req auctionapi.ClaimRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Bidder == "" {
		s.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "bidder is required")
		return
	}

	result, err := s.svc.Claim(r.Context(), req.Bidder)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.RespondOK(w, auctionapi.NewClaimResponse(result.Settlement, result.Receipt, result.ReceiptCOSE))
}

func (s *Server) handleRevealMetadata(w http.ResponseWriter, r *http.Request) {
	var req auctionapi.RevealMetadataRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.RevealMetadata(r.Context(), req.Sender, req.TokenMetadata()); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePublicKey(w http.ResponseWriter, _ *http.Request) {
	resp, err := s.svc.PublicKey()
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.RespondOK(w, resp)
}

// -------------------- Responses --------------------

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case "BIDDING_IS_NOT_ACTIVE", "BIDDING_IS_STILL_ACTIVE", "BID_PRICE_TOO_LOW":
		return http.StatusConflict
	case "BID_PRICE_BELOW_MINIMUM", "INVALID_PAYMENT_AMOUNT", "INVALID_QUANTITY", "AMOUNT_OVERFLOW":
		return http.StatusUnprocessableEntity
	case "NOTHING_TO_CLAIM":
		return http.StatusNotFound
	case "NOT_AUTHORIZED":
		return http.StatusForbidden
	case "INVALID_COLLABORATOR":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	code := core.ErrorCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("code", code).Error("request failed")
	}
	if errors.Is(err, service.ErrPersistence) {
		code = "PERSISTENCE_FAILED"
	}
	s.RespondError(w, status, code, err.Error())
}

func (s *Server) RespondError(w http.ResponseWriter, status int, code, message string) {
	s.respond(w, status, auctionapi.ErrorResponse{Code: code, Message: message})
}

func (s *Server) RespondOK(w http.ResponseWriter, response any) {
	s.respond(w, http.StatusOK, response)
}

func (s *Server) respond(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.WithField("response", response).WithError(err).Error("Couldn't write response")
	}
}
