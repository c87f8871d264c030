package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/justinas/alice"
	"github.com/tokenprinter/powfaucet/pkg/account"
	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/faucet"
	"github.com/tokenprinter/powfaucet/pkg/monitoring"
)

// SetupAdmin registers owner-only routes. They are expected to be served
// only on the local address.
func (s *Server) SetupAdmin(router *http.ServeMux) {
	rg := &common.RouteGenerator{Prefix: "/"}
	chain := alice.New(common.Recovered, s.Metrics.HandlerIDFunc(rg.LastPath), monitoring.Traced, common.NoCache)

	rg.Handle(rg.Post(common.AdminEndpoint, common.ParamDifficulty), chain, http.HandlerFunc(s.setDifficultyHandler))
	rg.Handle(rg.Post(common.AdminEndpoint, common.ParamAmount), chain, http.HandlerFunc(s.setAmountHandler))
	rg.Handle(rg.Post(common.AdminEndpoint, common.AccountEndpoint), chain, http.HandlerFunc(s.registerAccountHandler))
	rg.Register(router)
}

func (s *Server) sendSettings(w http.ResponseWriter, r *http.Request, settings *faucet.Settings) {
	ctx := r.Context()

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

func (s *Server) setDifficultyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	value, err := strconv.ParseUint(r.FormValue(common.ParamDifficulty), 10, 32)
	if err != nil {
		slog.WarnContext(ctx, "Failed to parse difficulty", common.ErrAttr(err))
		sendError(ctx, w, http.StatusBadRequest, codeBadRequest)
		return
	}

	settings, err := s.Faucet.SetMinDifficulty(ctx, uint32(value))
	if err != nil {
		if faucet.IsInputError(err) {
			sendError(ctx, w, http.StatusBadRequest, codeBadRequest)
			return
		}
		sendStoreError(ctx, w, err)
		return
	}

	slog.InfoContext(ctx, "Updated min difficulty", "difficulty", settings.MinDifficulty)
	s.Metrics.ObserveMinDifficulty(settings.MinDifficulty)

	s.sendSettings(w, r, settings)
}

func (s *Server) setAmountHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	amount, err := faucet.ParseAmount(r.FormValue(common.ParamAmount))
	if err != nil {
		slog.WarnContext(ctx, "Failed to parse transfer amount", common.ErrAttr(err))
		sendError(ctx, w, http.StatusBadRequest, codeBadRequest)
		return
	}

	settings, err := s.Faucet.SetTransferAmount(ctx, amount)
	if err != nil {
		sendStoreError(ctx, w, err)
		return
	}

	slog.InfoContext(ctx, "Updated transfer amount", "amount", settings.TransferAmount.String())

	s.sendSettings(w, r, settings)
}

func (s *Server) registerAccountHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := account.Normalize(r.FormValue(common.ParamAccountID))
	if err := s.Faucet.RegisterAccount(ctx, id); err != nil {
		if faucet.IsInputError(err) {
			sendError(ctx, w, http.StatusBadRequest, faucet.InvalidAccountError.String())
			return
		}
		sendStoreError(ctx, w, err)
		return
	}

	slog.InfoContext(ctx, "Registered account", common.AccountIDAttr(id))

	common.SendJSONResponse(ctx, w, &accountResponse{AccountID: id, Exists: true}, common.NoCacheHeaders)
}
