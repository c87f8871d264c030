package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/justinas/alice"
	"github.com/tokenprinter/powfaucet/pkg/api"
	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/config"
	"github.com/tokenprinter/powfaucet/pkg/db"
	"github.com/tokenprinter/powfaucet/pkg/email"
	"github.com/tokenprinter/powfaucet/pkg/faucet"
	"github.com/tokenprinter/powfaucet/pkg/leakybucket"
	"github.com/tokenprinter/powfaucet/pkg/maintenance"
	"github.com/tokenprinter/powfaucet/pkg/monitoring"
	"github.com/tokenprinter/powfaucet/pkg/ratelimit"
	"golang.org/x/net/netutil"
)

const (
	modeMigrate          = "migrate"
	modeRollback         = "rollback"
	modeServer           = "server"
	_readinessDrainDelay = 1 * time.Second
	_shutdownHardPeriod  = 3 * time.Second
	_shutdownPeriod      = 10 * time.Second
	_dbConnectTimeout    = 30 * time.Second
)

var (
	// reads are cheap, the transfer endpoint has its own stricter bucket
	generalLimits = leakybucket.Limits{Capacity: 20, LeakInterval: 1 * time.Second}
	// unknown routes
	publicLimits = leakybucket.Limits{Capacity: 8, LeakInterval: 2 * time.Second}
)

var (
	GitCommit       string
	flagMode        = flag.String("mode", "", strings.Join([]string{modeMigrate, modeRollback, modeServer}, " | "))
	envFileFlag     = flag.String("env", "", "Path to .env file, 'stdin' or empty")
	versionFlag     = flag.Bool("version", false, "Print version and exit")
	migrateHashFlag = flag.String("migrate-hash", "", "Target migration version (git commit)")
	certFileFlag    = flag.String("certfile", "", "certificate PEM file (e.g. cert.pem)")
	keyFileFlag     = flag.String("keyfile", "", "key PEM file (e.g. key.pem)")
	env             *common.EnvSource
)

func listenAddress(cfg common.ConfigStore) string {
	host := cfg.Get(common.HostKey).Value()
	if host == "" {
		host = "localhost"
	}

	port := cfg.Get(common.PortKey).Value()
	if port == "" {
		port = "8080"
	}

	return net.JoinHostPort(host, port)
}

func createListener(ctx context.Context, cfg common.ConfigStore) (net.Listener, error) {
	address := listenAddress(cfg)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to listen", "address", address, common.ErrAttr(err))
		return nil, err
	}

	if maxConnections := config.AsInt(cfg.Get(common.MaxConnectionsKey), 0); maxConnections > 0 {
		slog.DebugContext(ctx, "Limiting simultaneous connections", "max", maxConnections)
		listener = netutil.LimitListener(listener, maxConnections)
	}

	if useTLS := (*certFileFlag != "") && (*keyFileFlag != ""); useTLS {
		cert, err := tls.LoadX509KeyPair(*certFileFlag, *keyFileFlag)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load certificates", "cert", *certFileFlag, "key", *keyFileFlag, common.ErrAttr(err))
			return nil, err
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		listener = tls.NewListener(listener, tlsConfig)
	}

	return listener, nil
}

func newIPAddrBuckets(cfg common.ConfigStore) *ratelimit.IPAddrBuckets {
	// distinct clients before forcing cleanup
	const maxBuckets = 1_000_000

	return ratelimit.NewIPAddrBuckets(maxBuckets, ipLimits(cfg))
}

func ipLimits(cfg common.ConfigStore) leakybucket.Limits {
	return leakybucket.ParseLimits(cfg.Get(common.RateLimitRateKey).Value(), cfg.Get(common.RateLimitBurstKey).Value(), generalLimits)
}

func updateIPBuckets(cfg common.ConfigStore, rateLimiter ratelimit.HTTPRateLimiter) {
	rateLimiter.UpdateLimits(ipLimits(cfg))
}

type timeSeries interface {
	common.TimeSeriesStore
	UpdateConfig(maintenanceMode bool)
}

type memoryTimeSeries struct {
	*db.MemoryTimeSeries
}

func (memoryTimeSeries) UpdateConfig(bool) {}

// backend holds everything the faucet talks to behind the HTTP layer.
type backend struct {
	closers    []func()
	business   *db.BusinessStore
	timeSeries timeSeries
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func connectBackend(ctx context.Context, cfg common.ConfigStore) (*backend, error) {
	pool, clickhouse, err := db.Connect(ctx, cfg, _dbConnectTimeout, false /*admin*/)
	if err != nil {
		return nil, err
	}

	b := &backend{closers: []func(){pool.Close}}

	if b.business, err = db.NewBusiness(pool); err != nil {
		b.Close()
		return nil, err
	}

	if clickhouse != nil {
		b.closers = append(b.closers, func() { _ = clickhouse.Close() })
		b.timeSeries = db.NewTimeSeries(clickhouse)
	} else {
		slog.WarnContext(ctx, "ClickHouse is not configured, transfer logs are kept in memory")
		b.timeSeries = memoryTimeSeries{db.NewMemoryTimeSeries()}
	}

	return b, nil
}

func scheduleJobs(jobs *maintenance.Jobs, cfg common.ConfigStore, b *backend, faucetService *faucet.Service, healthCheck *maintenance.HealthCheckJob, metrics *monitoring.Service) {
	reportMailer := email.NewReportMailer(email.NewMailSender(cfg), cfg)

	jobs.Add(healthCheck)
	jobs.AddOneOff(&maintenance.WarmupSettingsJob{
		Faucet:  faucetService,
		Metrics: metrics,
		Pause:   2 * time.Second,
	})
	jobs.AddExclusive(&maintenance.UniquePeriodicJob{
		Job: &maintenance.TransferLogRetentionJob{
			TimeSeries: b.timeSeries,
			Days:       cfg.Get(common.TransferLogRetentionKey),
		},
		Store:        b.business,
		LockDuration: 24 * time.Hour,
	})
	jobs.AddLocked(24*time.Hour, &maintenance.DailyReportJob{
		Store:      b.business,
		TimeSeries: b.timeSeries,
		Mailer:     reportMailer,
	})
}

// serveLocal exposes metrics, admin and maintenance endpoints on a private
// address. Returns nil when no local address is configured.
func serveLocal(ctx context.Context, address string, handlers ...func(*http.ServeMux)) *http.Server {
	if len(address) == 0 {
		slog.DebugContext(ctx, "Local API is disabled")
		return nil
	}

	mux := http.NewServeMux()
	for _, setup := range handlers {
		setup(mux)
	}

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "Serving local API", "address", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "Local API failed", common.ErrAttr(err))
		}
	}()

	return srv
}

// watchSignals reloads configuration on SIGHUP and calls quit once on
// SIGINT or SIGTERM.
func watchSignals(ctx context.Context, reload func(context.Context), quit func(context.Context)) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for sig := range signals {
		slog.DebugContext(ctx, "Received signal", "signal", sig)
		if sig != syscall.SIGHUP {
			quit(ctx)
			return
		}

		if err := env.Update(); err != nil {
			slog.ErrorContext(ctx, "Failed to reload environment", common.ErrAttr(err))
		}
		reload(ctx)
	}
}

func run(ctx context.Context, cfg common.ConfigStore, stderr io.Writer, listener net.Listener) error {
	stage := cfg.Get(common.StageKey).Value()
	verbose := config.AsBool(cfg.Get(common.VerboseKey))
	logLevel := common.SetupLogs(stage, verbose)

	b, err := connectBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	metrics := monitoring.NewService()

	transferLogChan := make(chan *common.TransferRecord, 10*api.TransferLogBatchSize)
	faucetService, err := faucet.NewService(cfg, b.business, transferLogChan)
	if err != nil {
		return err
	}

	ipRateLimiter := ratelimit.NewIPAddrRateLimiter("api", cfg.Get(common.RateLimitHeaderKey).Value(), newIPAddrBuckets(cfg))

	apiServer := &api.Server{
		Stage:             stage,
		Faucet:            faucetService,
		TimeSeries:        b.timeSeries,
		TransferLogChan:   transferLogChan,
		TransferLogCancel: func() {},
		Metrics:           metrics,
		RateLimiter:       ipRateLimiter,
	}
	if err := apiServer.Init(ctx, 10*time.Second /*flush interval*/); err != nil {
		return err
	}

	healthCheck := maintenance.NewHealthCheckJob(b.business, b.timeSeries, cfg, metrics)
	healthCheck.StrictReadiness = true

	reload := func(ctx context.Context) {
		cfg.Update(ctx)
		updateIPBuckets(cfg, ipRateLimiter)
		maintenanceMode := config.AsBool(cfg.Get(common.MaintenanceModeKey))
		b.business.UpdateConfig(maintenanceMode)
		b.timeSeries.UpdateConfig(maintenanceMode)
		faucetService.UpdateConfig(cfg)
		common.SetLogLevel(logLevel, config.AsBool(cfg.Get(common.VerboseKey)))
	}
	reload(ctx)

	router := http.NewServeMux()
	apiServer.Setup(router, config.AsURL(ctx, cfg.Get(common.APIBaseURLKey)).Domain(), verbose, common.Secured)
	// metrics go after recovery so that rate limited requests are not counted
	catchAllChain := alice.New(common.Recovered, metrics.IgnoredHandler, ipRateLimiter.RateLimitExFunc(publicLimits))
	router.Handle("/", catchAllChain.ThenFunc(common.CatchAll))

	ongoingCtx, stopOngoing := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    64 * 1024,
		BaseContext:       func(net.Listener) context.Context { return ongoingCtx },
	}

	quit := make(chan struct{})
	go watchSignals(common.TraceContext(context.Background(), "signal_handler"), reload, func(ctx context.Context) {
		slog.DebugContext(ctx, "Server quit triggered")
		healthCheck.Shutdown(ctx)
		// readiness has to propagate to the load balancer
		time.Sleep(min(_readinessDrainDelay, healthCheck.Interval()))
		close(quit)
	})

	go func() {
		slog.InfoContext(ctx, "Listening", "address", listener.Addr().String(), "version", GitCommit, "stage", stage)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "Error serving", common.ErrAttr(err))
		}
	}()

	jobs := maintenance.NewJobs(b.business)
	scheduleJobs(jobs, cfg, b, faucetService, healthCheck, metrics)
	jobs.Run()

	localServer := serveLocal(ctx, cfg.Get(common.LocalAddressKey).Value(),
		metrics.Setup,
		jobs.Setup,
		apiServer.SetupAdmin,
		func(mux *http.ServeMux) {
			mux.Handle(http.MethodGet+" /"+common.LiveEndpoint, common.Recovered(http.HandlerFunc(healthCheck.LiveHandler)))
			mux.Handle(http.MethodGet+" /"+common.ReadyEndpoint, common.Recovered(http.HandlerFunc(healthCheck.ReadyHandler)))
		})

	<-quit
	slog.DebugContext(ctx, "Shutting down gracefully")
	jobs.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdownPeriod)
	defer cancel()
	httpServer.SetKeepAlivesEnabled(false)
	serr := httpServer.Shutdown(shutdownCtx)
	stopOngoing()
	// handlers are done, nothing writes to the transfer log anymore
	apiServer.Shutdown()
	ipRateLimiter.Shutdown()
	if serr != nil {
		slog.ErrorContext(ctx, "Failed to shutdown gracefully", common.ErrAttr(serr))
		fmt.Fprintf(stderr, "error shutting down http server gracefully: %s\n", serr)
		time.Sleep(_shutdownHardPeriod)
	}
	if localServer != nil {
		_ = localServer.Close()
	}
	slog.DebugContext(ctx, "Shutdown finished")

	return nil
}

func migrate(ctx context.Context, cfg common.ConfigStore, up bool) error {
	if len(*migrateHashFlag) == 0 {
		return errors.New("empty migrate hash")
	}

	if *migrateHashFlag != "ignore" && *migrateHashFlag != GitCommit {
		return fmt.Errorf("target version (%v) does not match built version (%v)", *migrateHashFlag, GitCommit)
	}

	stage := cfg.Get(common.StageKey).Value()
	verbose := config.AsBool(cfg.Get(common.VerboseKey))

	common.SetupLogs(stage, verbose)
	slog.InfoContext(ctx, "Migrating", "up", up, "version", GitCommit, "stage", stage)

	pool, clickhouse, dberr := db.Connect(ctx, cfg, _dbConnectTimeout, true /*admin*/)
	if dberr != nil {
		return dberr
	}

	defer pool.Close()
	if clickhouse != nil {
		defer clickhouse.Close()
	}

	if err := db.MigratePostgres(ctx, pool, cfg, up); err != nil {
		return err
	}

	return db.MigrateClickHouse(ctx, clickhouse, cfg, up)
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Print(GitCommit)
		return
	}

	var err error
	env, err = common.NewEnvSource(*envFileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
	}

	cfg := config.NewEnvConfig(env.Get)

	switch *flagMode {
	case modeServer:
		ctx := common.TraceContext(context.Background(), "main")
		if listener, lerr := createListener(ctx, cfg); lerr == nil {
			err = run(ctx, cfg, os.Stderr, listener)
		} else {
			err = lerr
		}
	case modeMigrate:
		ctx := common.TraceContext(context.Background(), "migration")
		err = migrate(ctx, cfg, true /*up*/)
	case modeRollback:
		ctx := common.TraceContext(context.Background(), "migration")
		err = migrate(ctx, cfg, false /*up*/)
	default:
		err = fmt.Errorf("unknown mode: '%s'", *flagMode)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
