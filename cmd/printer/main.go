package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tokenprinter/powfaucet/pkg/client"
	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/config"
	"github.com/tokenprinter/powfaucet/pkg/solver"
)

const (
	iterationsPerR = 10_000
	maxRs          = 60
)

var (
	GitCommit   string
	apiFlag     = flag.String("api", "", "Faucet API base URL (defaults to PC_API_BASE_URL)")
	accountFlag = flag.String("account", "", "Account to receive tokens")
	hashFlag    = flag.String("hash", solver.HashSHA256, "Digest algorithm: sha256 | blake2b")
	envFileFlag = flag.String("env", "", "Path to .env file, 'stdin' or empty")
	verboseFlag = flag.Bool("verbose", false, "Print debug logs to stderr")
	versionFlag = flag.Bool("version", false, "Print version and exit")
)

func brrr(n uint64) string {
	return "B" + strings.Repeat("R", int(min(n, maxRs)))
}

func progressPrinter(w io.Writer, minDifficulty func() uint32) func(solver.Progress) {
	return func(p solver.Progress) {
		fmt.Fprintf(w, "\rToken printer goes %s. %s out of %s (%d%%)",
			brrr(p.Iterations/iterationsPerR), brrr(uint64(p.BestDifficulty)), brrr(uint64(minDifficulty())), min(p.Percent, 100))
	}
}

// observedLedger remembers the last difficulty so that progress lines can
// show the target.
type observedLedger struct {
	client.Ledger
	minDifficulty uint32
}

func (l *observedLedger) Settings(ctx context.Context) (*client.Settings, error) {
	settings, err := l.Ledger.Settings(ctx)
	if err == nil {
		l.minDifficulty = settings.MinDifficulty
	}
	return settings, err
}

func run(ctx context.Context, stdout io.Writer) error {
	env, err := common.NewEnvSource(*envFileFlag)
	if err != nil {
		return err
	}

	cfg := config.NewEnvConfig(env.Get)

	apiURL := *apiFlag
	if len(apiURL) == 0 {
		apiURL = cfg.Get(common.APIBaseURLKey).Value()
	}

	c, err := client.NewClient(apiURL)
	if err != nil {
		return err
	}

	hash, err := solver.HashByName(*hashFlag)
	if err != nil {
		return err
	}

	ledger := &observedLedger{Ledger: c}
	printer := client.NewPrinter(ledger)
	printer.Hash = hash

	result, err := printer.Print(ctx, *accountFlag, progressPrinter(stdout, func() uint32 { return ledger.minDifficulty }))
	fmt.Fprintln(stdout)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Printing is done! Delivered to @%s\n", result.AccountID)
	if result.Receipt != nil {
		fmt.Fprintf(stdout, "Receipt: %s, amount: %s, difficulty: %d\n", result.Receipt.ID, result.Receipt.Amount, result.Receipt.Difficulty)
	}
	fmt.Fprintf(stdout, "Total transfers: %d\n", result.NumTransfers)

	return nil
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Print(GitCommit)
		return
	}

	common.SetupCLILogs(*verboseFlag)

	ctx, stop := signal.NotifyContext(common.TraceContext(context.Background(), "printer"), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout); err != nil {
		switch {
		case errors.Is(err, solver.ErrCancelled):
			fmt.Fprintln(os.Stderr, "Printing cancelled")
		case errors.Is(err, client.ErrAccountNotFound):
			fmt.Fprintf(os.Stderr, "Account @%s doesn't exist\n", *accountFlag)
		default:
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		os.Exit(1)
	}
}
