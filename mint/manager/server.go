package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/mint"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
	mint       *mint.Mint
	logger     *log.Entry
}

// SetupServer builds the admin HTTP server. Metrics are served from gatherer.
func SetupServer(mint *mint.Mint, address string, gatherer prometheus.Gatherer, logger *log.Entry) (*Server, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	mintServer := &Server{
		mint:   mint,
		logger: logger,
	}
	err := mintServer.setupHttpServer(address, gatherer)
	if err != nil {
		return nil, err
	}
	return mintServer, nil
}

func (s *Server) Start() error {
	s.logger.WithField("address", s.httpServer.Addr).Info("serving admin http")
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) setupHttpServer(address string, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		return fmt.Errorf("metrics gatherer is required")
	}
	r := mux.NewRouter()

	r.HandleFunc("/issued", s.getIssuedEcash).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/issued/{keyset_id}", s.getIssuedByKeyset).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/redeemed", s.getRedeemedEcash).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/redeemed/{keyset_id}", s.getRedeemedByKeyset).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/totalbalance", s.getTotalEcash).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/keysets", s.getKeysets).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/rotatekeysets", s.rotateKeysets).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.Use(s.logRequests)
	r.Use(setupHeaders)

	server := &http.Server{
		Addr:              address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.httpServer = server
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(rw, req)
		s.logger.WithFields(log.Fields{
			"method":   req.Method,
			"path":     req.URL.Path,
			"duration": time.Since(start),
		}).Debug("admin request")
	})
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/metrics" {
			rw.Header().Set("Content-Type", "application/json")
		}
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Credentials", "true")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")

		if req.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(rw, req)
	})
}

func (s *Server) writeError(rw http.ResponseWriter, status int, err error) {
	s.logger.WithError(err).Error("admin request failed")
	rw.WriteHeader(status)
	rw.Write([]byte(err.Error()))
}

type IssuedEcashResponse struct {
	Keysets     []KeysetIssued `json:"keysets"`
	TotalIssued uint64         `json:"total_issued"`
}

type KeysetIssued struct {
	Id           string `json:"id"`
	AmountIssued uint64 `json:"amount_issued"`
}

func (s *Server) getIssuedEcash(rw http.ResponseWriter, req *http.Request) {
	issuedEcash, err := s.issuedEcash(req.Context())
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err)
		return
	}

	response, _ := json.Marshal(issuedEcash)
	rw.Write(response)
}

func (s *Server) getIssuedByKeyset(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	id := vars["keyset_id"]

	issuedEcashMap, err := s.mint.IssuedEcash(req.Context())
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, fmt.Errorf("unable to get issued ecash from db: %v", err))
		return
	}

	amountIssued, ok := issuedEcashMap[id]
	if !ok {
		rw.WriteHeader(http.StatusBadRequest)
		errRes, _ := json.Marshal(cashu.UnknownKeysetErr)
		rw.Write(errRes)
		return
	}

	issuedByKeyset := KeysetIssued{
		Id:           id,
		AmountIssued: amountIssued,
	}

	response, _ := json.Marshal(issuedByKeyset)
	rw.Write(response)
}

type RedeemedEcashResponse struct {
	Keysets       []KeysetRedeemed `json:"keysets"`
	TotalRedeemed uint64           `json:"total_redeemed"`
}

type KeysetRedeemed struct {
	Id             string `json:"id"`
	AmountRedeemed uint64 `json:"amount_redeemed"`
}

func (s *Server) getRedeemedEcash(rw http.ResponseWriter, req *http.Request) {
	redeemedEcash, err := s.redeemedEcash(req.Context())
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err)
		return
	}

	response, _ := json.Marshal(redeemedEcash)
	rw.Write(response)
}

func (s *Server) getRedeemedByKeyset(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	id := vars["keyset_id"]

	redeemedEcashMap, err := s.mint.RedeemedEcash(req.Context())
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, fmt.Errorf("unable to get redeemed ecash from db: %v", err))
		return
	}

	amountRedeemed, ok := redeemedEcashMap[id]
	if !ok {
		rw.WriteHeader(http.StatusBadRequest)
		errRes, _ := json.Marshal(cashu.UnknownKeysetErr)
		rw.Write(errRes)
		return
	}

	redeemedByKeyset := KeysetRedeemed{
		Id:             id,
		AmountRedeemed: amountRedeemed,
	}

	response, _ := json.Marshal(redeemedByKeyset)
	rw.Write(response)
}

type TotalBalanceResponse struct {
	TotalIssued        IssuedEcashResponse   `json:"total_issued"`
	TotalRedeemed      RedeemedEcashResponse `json:"total_redeemed"`
	TotalInCirculation uint64                `json:"total_circulation"`
}

// returns total amount of ecash in circulation
func (s *Server) getTotalEcash(rw http.ResponseWriter, req *http.Request) {
	issuedEcash, err := s.issuedEcash(req.Context())
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err)
		return
	}

	redeemedEcash, err := s.redeemedEcash(req.Context())
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err)
		return
	}

	totalBalance := TotalBalanceResponse{
		TotalIssued:        issuedEcash,
		TotalRedeemed:      redeemedEcash,
		TotalInCirculation: issuedEcash.TotalIssued - redeemedEcash.TotalRedeemed,
	}
	response, _ := json.Marshal(totalBalance)
	rw.Write(response)
}

// same response as the KeysetList rpc
func (s *Server) getKeysets(rw http.ResponseWriter, req *http.Request) {
	keysetsResponse := s.mint.ListKeysets()
	response, _ := json.Marshal(keysetsResponse)
	rw.Write(response)
}

type RotateKeysetsResponse struct {
	Keysets []RotatedKeyset `json:"keysets"`
}

type RotatedKeyset struct {
	Id    string `json:"id"`
	Unit  string `json:"unit"`
	Index uint32 `json:"index"`
}

func (s *Server) rotateKeysets(rw http.ResponseWriter, req *http.Request) {
	created, err := s.mint.RotateKeysets(req.Context())
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err)
		return
	}

	rotated := RotateKeysetsResponse{Keysets: make([]RotatedKeyset, len(created))}
	for i, keyset := range created {
		rotated.Keysets[i] = RotatedKeyset{Id: keyset.Id, Unit: keyset.Unit.String(), Index: keyset.Index}
	}
	s.logger.WithField("keysets", len(created)).Info("rotated keysets")

	response, _ := json.Marshal(rotated)
	rw.Write(response)
}

func (s *Server) health(rw http.ResponseWriter, req *http.Request) {
	rw.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) issuedEcash(ctx context.Context) (IssuedEcashResponse, error) {
	issuedEcashMap, err := s.mint.IssuedEcash(ctx)
	if err != nil {
		return IssuedEcashResponse{}, fmt.Errorf("unable to get issued ecash from db: %v", err)
	}

	issuedEcash := IssuedEcashResponse{Keysets: []KeysetIssued{}}
	var totalIssued uint64
	for keysetId, amount := range issuedEcashMap {
		issuedByKeyset := KeysetIssued{Id: keysetId, AmountIssued: amount}
		issuedEcash.Keysets = append(issuedEcash.Keysets, issuedByKeyset)
		totalIssued += amount
	}
	issuedEcash.TotalIssued = totalIssued
	return issuedEcash, nil
}

func (s *Server) redeemedEcash(ctx context.Context) (RedeemedEcashResponse, error) {
	redeemedEcashMap, err := s.mint.RedeemedEcash(ctx)
	if err != nil {
		return RedeemedEcashResponse{}, fmt.Errorf("unable to get redeemed ecash from db: %v", err)
	}

	redeemedEcash := RedeemedEcashResponse{Keysets: []KeysetRedeemed{}}
	var totalRedeemed uint64
	for keysetId, amount := range redeemedEcashMap {
		redeemedByKeyset := KeysetRedeemed{Id: keysetId, AmountRedeemed: amount}
		redeemedEcash.Keysets = append(redeemedEcash.Keysets, redeemedByKeyset)
		totalRedeemed += amount
	}
	redeemedEcash.TotalRedeemed = totalRedeemed
	return redeemedEcash, nil
}
