package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/client"
	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/solver"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

var errEmptyRun = errors.New("run ID is empty")

type loadOptions struct {
	RunID         string
	Accounts      int
	Transfers     int
	RatePerSecond int
	Duration      int
}

// mixedTargeter cycles through reads and pre-solved transfers. Every transfer
// body is sent once, reads continue after they are exhausted.
type mixedTargeter struct {
	lock      sync.Mutex
	baseURL   string
	runID     string
	accounts  int
	transfers [][]byte
	counter   int
}

func (mt *mixedTargeter) target(tgt *vegeta.Target) error {
	mt.lock.Lock()
	defer mt.lock.Unlock()

	i := mt.counter
	mt.counter++

	tgt.Header = http.Header{common.HeaderUserAgent: []string{"powfaucet-loadtest"}}
	tgt.Body = nil

	switch {
	case i%3 == 2 && len(mt.transfers) > 0:
		tgt.Method = http.MethodPost
		tgt.URL = mt.baseURL + common.TransferEndpoint
		tgt.Body = mt.transfers[0]
		tgt.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
		mt.transfers = mt.transfers[1:]
	case i%3 == 1:
		tgt.Method = http.MethodGet
		tgt.URL = mt.baseURL + common.AccountEndpoint + "/" + accountID(mt.runID, i%mt.accounts)
	default:
		tgt.Method = http.MethodGet
		tgt.URL = mt.baseURL + common.SettingsEndpoint
	}

	return nil
}

func solveTransfers(ctx context.Context, opts *loadOptions, difficulty uint32) ([][]byte, error) {
	bodies := make([][]byte, 0, opts.Transfers)
	salt := uint64(time.Now().UnixMilli())

	for i := 0; i < opts.Transfers; i++ {
		id := accountID(opts.RunID, i%opts.Accounts)
		found, err := solver.Solve(ctx, solver.Challenge{Identifier: id, MinDifficulty: difficulty, InitialSalt: salt})
		if err != nil {
			return nil, err
		}
		salt = found + 1

		body, err := json.Marshal(map[string]string{
			common.ParamAccountID: id,
			common.ParamSalt:      strconv.FormatUint(found, 10),
		})
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, body)
	}

	return bodies, nil
}

func load(ctx context.Context, cfg common.ConfigStore, opts *loadOptions) error {
	if len(opts.RunID) == 0 {
		return errEmptyRun
	}

	apiURL := cfg.Get(common.APIBaseURLKey).Value()
	c, err := client.NewClient(apiURL)
	if err != nil {
		return err
	}

	settings, err := c.Settings(ctx)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Solving transfers", "count", opts.Transfers, "difficulty", settings.MinDifficulty)

	transfers, err := solveTransfers(ctx, opts, settings.MinDifficulty)
	if err != nil {
		return err
	}

	mt := &mixedTargeter{
		baseURL:   strings.TrimSuffix(c.BaseURL, "/") + "/",
		runID:     opts.RunID,
		accounts:  max(1, opts.Accounts),
		transfers: transfers,
	}

	rate := vegeta.Rate{Freq: opts.RatePerSecond, Per: time.Second}
	duration := time.Duration(opts.Duration) * time.Second
	attacker := vegeta.NewAttacker()

	var metrics vegeta.Metrics
	for res := range attacker.Attack(mt.target, rate, duration, "Faucet load") {
		metrics.Add(res)
	}
	metrics.Close()

	fmt.Printf("99th percentile: %s\n", metrics.Latencies.P99)
	fmt.Printf("Success: %.2f%%\n", metrics.Success*100)
	fmt.Printf("Status codes: %v\n", metrics.StatusCodes)

	return vegeta.NewTextReporter(&metrics).Report(os.Stdout)
}
