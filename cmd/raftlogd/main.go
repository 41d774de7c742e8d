// Command raftlogd runs one node of a raftlog cluster serving the kvstore application.
//
//	raftlogd tcp://localhost:8001 --id 1 \
//	  --peers 2=tcp://localhost:8002,3=tcp://localhost:8003 \
//	  --data-dir /var/lib/raftlog/1 --metrics-addr :9101
//
// The node URI comes first. With --data-dir the log lives in a bolt file that is created on
// first boot and reopened afterwards; without it the node keeps its log in memory.
package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	raft "github.com/ulysseses/raftlog"
	"github.com/ulysseses/raftlog/internal/cli"
	"github.com/ulysseses/raftlog/kvstore"
	"github.com/ulysseses/raftlog/storage"
)

type options struct {
	id               uint64
	peers            []string
	dataDir          string
	metricsAddr      string
	tickPeriod       time.Duration
	heartbeatTicks   int
	minElectionTicks int
	maxElectionTicks int
	logLevel         zapcore.Level
	debug            bool
	cpuProfile       string
	memProfile       string
}

func newCommand() (*cobra.Command, error) {
	var o options
	return cli.NewCommand(viper.New(), &cli.Program{
		Name: "raftlogd",
		Use:  "raftlogd <uri>",
		Args: cobra.ExactArgs(1),
		Run: func(args []string) error {
			return run(args[0], &o)
		},
		Opts: []cli.Opt{
			cli.NewOpt(&o.id, "id", uint64(0), "ID of this node (required)"),
			cli.NewOpt(&o.peers, "peers", []string{},
				"other members as id=uri pairs, e.g. 2=tcp://localhost:8002,3=tcp://localhost:8003"),
			cli.NewOpt(&o.dataDir, "data-dir", "", "directory of the bolt log; empty keeps the log in memory"),
			cli.NewOpt(&o.metricsAddr, "metrics-addr", "", "address to serve /metrics on; empty disables it"),
			cli.NewOpt(&o.tickPeriod, "tick-period", 100*time.Millisecond, "tick period"),
			cli.NewOpt(&o.heartbeatTicks, "heartbeat-ticks", 1,
				"number of tick periods before a heartbeat should fire"),
			cli.NewOpt(&o.minElectionTicks, "min-election-ticks", 10,
				"minimum number of tick periods before an election timeout should fire"),
			cli.NewOpt(&o.maxElectionTicks, "max-election-ticks", 20,
				"maximum number of tick periods before an election timeout should fire"),
			cli.NewOpt(&o.logLevel, "log-level", zapcore.InfoLevel, "log level: debug, info, warn, error"),
			cli.NewOpt(&o.debug, "debug", false, "log protocol and transport messages"),
			cli.NewOpt(&o.cpuProfile, "cpu-profile", "", "write cpu profile to a file"),
			cli.NewOpt(&o.memProfile, "mem-profile", "", "write memory profile to a file on exit"),
		},
	})
}

func main() {
	cmd, err := newCommand()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(uri string, o *options) error {
	if o.id == 0 {
		return errors.New("--id is required")
	}
	addresses, err := parsePeers(o.peers)
	if err != nil {
		return err
	}
	if other, ok := addresses[o.id]; ok && other != uri {
		return fmt.Errorf("--peers gives node %d the URI %s, not %s", o.id, other, uri)
	}
	addresses[o.id] = uri

	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(o.logLevel)
	if o.debug {
		logCfg.Level.SetLevel(zapcore.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		return err
	}
	logger = logger.With(zap.Uint64("id", o.id))
	defer logger.Sync()

	if o.cpuProfile != "" {
		logger.Info("writing cpu profile", zap.String("cpuProfile", o.cpuProfile))
		f, err := os.Create(o.cpuProfile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if o.memProfile != "" {
		logger.Info("writing mem profile", zap.String("memProfile", o.memProfile))
		f, err := os.Create(o.memProfile)
		if err != nil {
			return fmt.Errorf("could not create memory profile: %w", err)
		}
		defer f.Close()
		defer func() {
			runtime.GC() // get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				logger.Error("could not write memory profile", zap.Error(err))
			}
		}()
	}

	s, err := openStorage(o.dataDir, logger)
	if err != nil {
		return err
	}

	tr, err := raft.NewTransportConfig(
		o.id, addresses,
		raft.WithTransportLogger(logger),
		raft.WithTransportDebug(o.debug),
	).Build()
	if err != nil {
		s.Close()
		return err
	}
	psm, err := raft.NewProtocolConfig(
		o.id,
		raft.WithStorage(s),
		raft.WithTickPeriod(o.tickPeriod),
		raft.WithHeartbeatTicks(uint(o.heartbeatTicks)),
		raft.WithElectionTicks(uint(o.minElectionTicks), uint(o.maxElectionTicks)),
		raft.WithProtocolLogger(logger),
		raft.WithProtocolDebug(o.debug),
	).Build(tr)
	if err != nil {
		s.Close()
		return err
	}
	node, err := raft.NewNodeConfig(
		o.id,
		raft.WithNodeLogger(logger),
		raft.WithNodeDebug(o.debug),
	).Build(psm, tr, kvstore.New())
	if err != nil {
		s.Close()
		return err
	}

	if o.metricsAddr != "" {
		lis, err := serveMetrics(o.metricsAddr, node, logger)
		if err != nil {
			s.Close()
			return err
		}
		defer lis.Close()
	}

	node.Start()
	logger.Info("started raftlog node",
		zap.String("uri", uri),
		zap.Any("members", addresses),
		zap.String("dataDir", o.dataDir))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, os.Interrupt)
	sig := <-sigs
	logger.Info("shutting down", zap.Stringer("signal", sig))
	return node.Stop()
}

// openStorage opens the bolt log in dataDir, creating it on first boot. An empty dataDir
// gives a memory log.
func openStorage(dataDir string, logger *zap.Logger) (storage.Storage, error) {
	if dataDir == "" {
		logger.Warn("no --data-dir, the log will not survive a restart")
		return storage.NewMemory(), nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, "raft.db")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Info("creating log", zap.String("path", path))
		if err := storage.CreateBolt(path); err != nil {
			return nil, err
		}
	}
	return storage.OpenBolt(path, logger)
}

// serveMetrics serves the node's collectors, plus the Go runtime's, on addr.
func serveMetrics(addr string, node *raft.Node, logger *zap.Logger) (net.Listener, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(node.Collectors()...)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != "/metrics" {
				ctx.NotFound()
				return
			}
			metricsHandler(ctx)
		},
	}
	go func() {
		if err := srv.Serve(lis); err != nil {
			logger.Debug("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", lis.Addr().String()))
	return lis, nil
}
