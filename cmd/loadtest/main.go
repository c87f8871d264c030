package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/config"
)

const (
	modeSeed = "seed"
	modeTest = "test"
)

var (
	envFileFlag       = flag.String("env", "", "Path to .env file, 'stdin' or empty")
	flagMode          = flag.String("mode", "", strings.Join([]string{modeSeed, modeTest}, " | "))
	flagRun           = flag.String("run", "", "Run ID printed by seed mode")
	flagAccountsCount = flag.Int("account-count", 100, "number of accounts to seed")
	flagTransfers     = flag.Int("transfers", 100, "number of pre-solved transfer requests")
	flagRatePerSecond = flag.Int("rps", 100, "Requests per second")
	flagDuration      = flag.Int("duration", 10, "Duration of the load test (seconds)")
	env               *common.EnvSource
)

func main() {
	flag.Parse()

	var err error

	env, err = common.NewEnvSource(*envFileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
	}

	common.SetupCLILogs(false /*verbose*/)

	cfg := config.NewEnvConfig(env.Get)
	ctx := common.TraceContext(context.Background(), "loadtest")

	switch *flagMode {
	case modeSeed:
		var runID string
		runID, err = seed(ctx, cfg, *flagAccountsCount)
		if err == nil {
			fmt.Println(runID)
		}
	case modeTest:
		err = load(ctx, cfg, &loadOptions{
			RunID:         *flagRun,
			Accounts:      *flagAccountsCount,
			Transfers:     *flagTransfers,
			RatePerSecond: *flagRatePerSecond,
			Duration:      *flagDuration,
		})
	default:
		err = fmt.Errorf("unknown mode: '%s'", *flagMode)
	}

	if err != nil {
		slog.ErrorContext(ctx, "Load test failed", common.ErrAttr(err))
		os.Exit(1)
	}
}
