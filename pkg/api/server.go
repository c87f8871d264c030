package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/cors"
	"github.com/tokenprinter/powfaucet/pkg/account"
	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/db"
	"github.com/tokenprinter/powfaucet/pkg/faucet"
	"github.com/tokenprinter/powfaucet/pkg/leakybucket"
	"github.com/tokenprinter/powfaucet/pkg/monitoring"
	"github.com/tokenprinter/powfaucet/pkg/ratelimit"
)

const (
	maxTransferBodySize  = 4 * 1024
	TransferLogBatchSize = 100
	maxTransferLogBatch  = 100_000
	codeBadRequest       = "bad-request"
	codeInternalError    = "internal-error"
	codeMaintenance      = "maintenance-mode"
)

const transferLogFlushTimeout = 5 * time.Second

var (
	errInvalidArgument = errors.New("invalid argument")
	// effective 0.5 rps per client IP
	transferLimits = leakybucket.Limits{Capacity: 5, LeakInterval: 2 * time.Second}
)

type Server struct {
	Stage             string
	Faucet            *faucet.Service
	TimeSeries        common.TimeSeriesStore
	TransferLogChan   chan *common.TransferRecord
	TransferLogCancel context.CancelFunc
	Cors              *cors.Cors
	flushDone         chan struct{}
	Metrics           common.APIMetrics
	RateLimiter       ratelimit.HTTPRateLimiter
}

func (s *Server) Init(ctx context.Context, flushInterval time.Duration) error {
	if err := s.Faucet.Init(ctx); err != nil {
		return err
	}

	if settings, err := s.Faucet.Settings(ctx); err == nil {
		s.Metrics.ObserveMinDifficulty(settings.MinDifficulty)
	}

	var flushCtx context.Context
	flushCtx, s.TransferLogCancel = context.WithCancel(
		context.WithValue(context.Background(), common.TraceIDContextKey, "flush_transfer_log"))

	s.flushDone = make(chan struct{})
	go func() {
		defer close(s.flushDone)
		common.ProcessBatchArray(flushCtx, s.TransferLogChan, flushInterval, TransferLogBatchSize, maxTransferLogBatch, s.TimeSeries.WriteTransferLogBatch)
	}()

	return nil
}

func (s *Server) Setup(router *http.ServeMux, domain string, verbose bool, security alice.Constructor) {
	corsOpts := cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"accept", "content-type", "x-requested-with"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		ExposedHeaders: []string{common.HeaderTraceID},
		Debug:          verbose,
		MaxAge:         60 * 60, /*seconds*/
	}

	if corsOpts.Debug {
		corsOpts.Logger = &common.FmtLogger{Ctx: common.TraceContext(context.TODO(), "cors"), Level: common.LevelTrace}
	}

	s.Cors = cors.New(corsOpts)

	s.setupWithPrefix(domain, router, s.Cors.Handler, security)
}

func (s *Server) Shutdown() {
	slog.Debug("Shutting down API server routines")
	s.Faucet.Shutdown()
	close(s.TransferLogChan)

	if s.flushDone != nil {
		select {
		case <-s.flushDone:
		case <-time.After(transferLogFlushTimeout):
			slog.Warn("Timed out flushing transfer logs")
		}
	}

	if s.TransferLogCancel != nil {
		s.TransferLogCancel()
	}
}

func arg(name string) string {
	return "{" + name + "}"
}

func (s *Server) setupWithPrefix(domain string, router *http.ServeMux, corsHandler, security alice.Constructor) {
	prefix := domain + "/"
	slog.Debug("Setting up the API routes", "prefix", prefix)
	rg := &common.RouteGenerator{Prefix: prefix}
	publicChain := alice.New(common.Recovered, security, s.Metrics.HandlerIDFunc(rg.LastPath))
	readChain := publicChain.Append(s.RateLimiter.RateLimit, monitoring.Traced, common.TimeoutHandler(1*time.Second), corsHandler)
	preflightChain := publicChain.Append(s.RateLimiter.RateLimit, common.Cached, corsHandler)
	transferRateLimiter := s.RateLimiter.RateLimitExFunc(transferLimits)
	transferChain := publicChain.Append(transferRateLimiter, monitoring.Traced, common.TimeoutHandler(5*time.Second), corsHandler)
	noContent := common.HttpStatus(http.StatusNoContent)

	rg.Handle(rg.Get(common.SettingsEndpoint), readChain, http.HandlerFunc(s.settingsHandler))
	rg.Handle(rg.Options(common.SettingsEndpoint), preflightChain, noContent)
	rg.Handle(rg.Get(common.AccountEndpoint, arg(common.ParamID)), readChain, http.HandlerFunc(s.accountHandler))
	rg.Handle(rg.Get(common.TransferEndpoint, arg(common.ParamID)), readChain, http.HandlerFunc(s.receiptHandler))
	rg.Handle(rg.Post(common.TransferEndpoint), transferChain, http.MaxBytesHandler(http.HandlerFunc(s.transferHandler), maxTransferBodySize))
	rg.Handle(rg.Options(common.TransferEndpoint), preflightChain, noContent)
	rg.Register(router)

	// "root" access
	router.Handle(prefix+"{$}", alice.New(common.Recovered, security, s.Metrics.Handler).Then(common.HttpStatus(http.StatusForbidden)))
}

func sendError(ctx context.Context, w http.ResponseWriter, status int, code string) {
	common.SendJSONResponseCode(ctx, w, status, &errorResponse{Success: false, Code: code}, common.NoCacheHeaders)
}

func sendStoreError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrMaintenance) {
		sendError(ctx, w, http.StatusServiceUnavailable, codeMaintenance)
		return
	}

	slog.ErrorContext(ctx, "Failed to process request", common.ErrAttr(err))
	sendError(ctx, w, http.StatusInternalServerError, codeInternalError)
}

func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, err := s.Faucet.Settings(ctx)
	if err != nil {
		sendStoreError(ctx, w, err)
		return
	}

	count, err := s.Faucet.NumTransfers(ctx)
	if err != nil {
		sendStoreError(ctx, w, err)
		return
	}

	common.SendJSONResponse(ctx, w, &settingsResponse{
		MinDifficulty:  settings.MinDifficulty,
		TransferAmount: settings.TransferAmount,
		NumTransfers:   count,
	}, common.NoCacheHeaders)
}

func (s *Server) accountHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := common.StrPathArg(r, common.ParamID)
	if err != nil {
		sendError(ctx, w, http.StatusBadRequest, codeBadRequest)
		return
	}

	if err := account.Validate(id); err != nil {
		slog.Log(ctx, common.LevelTrace, "Invalid account id requested", common.ErrAttr(err))
		sendError(ctx, w, http.StatusBadRequest, faucet.InvalidAccountError.String())
		return
	}

	exists, err := s.Faucet.AccountExists(ctx, id)
	if err != nil {
		sendStoreError(ctx, w, err)
		return
	}

	common.SendJSONResponse(ctx, w, &accountResponse{AccountID: id, Exists: exists}, common.NoCacheHeaders)
}

func (s *Server) receiptHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := common.StrPathArg(r, common.ParamID)
	if err != nil {
		sendError(ctx, w, http.StatusBadRequest, codeBadRequest)
		return
	}

	receipt, err := s.Faucet.Receipt(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrRecordNotFound), errors.Is(err, faucet.ErrInvalidReceipt):
			http.NotFound(w, r)
		default:
			sendStoreError(ctx, w, err)
		}
		return
	}

	common.SendJSONResponse(ctx, w, receipt, common.CachedHeaders)
}

func parseTransferRequest(r *http.Request) (*TransferRequest, error) {
	req := &TransferRequest{}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(req); err != nil {
		return nil, err
	}

	if len(req.AccountID) == 0 {
		return nil, errInvalidArgument
	}

	return req, nil
}

func (s *Server) transferHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := parseTransferRequest(r)
	if err != nil {
		slog.Log(ctx, common.LevelTrace, "Failed to parse transfer request", common.ErrAttr(err))
		sendError(ctx, w, http.StatusBadRequest, codeBadRequest)
		return
	}

	client := monitoring.ClientFamily(r.UserAgent())

	receipt, verr, err := s.Faucet.RequestTransfer(ctx, req.AccountID, uint64(req.Salt), client)
	s.Metrics.ObserveTransfer(verr.String(), client)
	if err != nil {
		sendStoreError(ctx, w, err)
		return
	}

	if verr == faucet.MaintenanceModeError {
		sendError(ctx, w, http.StatusServiceUnavailable, codeMaintenance)
		return
	}

	if receipt != nil {
		s.Metrics.ObserveDifficulty(receipt.Difficulty)
	}

	common.SendJSONResponse(ctx, w, &TransferResponse{
		Success: verr.Success(),
		Code:    verr,
		Receipt: receipt,
	}, common.NoCacheHeaders)
}
