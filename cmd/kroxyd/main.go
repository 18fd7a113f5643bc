// Command kroxyd is the proxy daemon: it loads configuration, wires the
// interceptor chain, and runs the listener until a signal or a fatal
// listener error tells it to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kroxy/kroxy/internal/config"
	"github.com/kroxy/kroxy/internal/intercept"
	"github.com/kroxy/kroxy/internal/logging"
	"github.com/kroxy/kroxy/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "path to YAML configuration file")
	listenHost := flag.String("listen-host", "", "override listenHost")
	listenPort := flag.Int("listen-port", 0, "override listenPort (0 keeps config value)")
	brokerHost := flag.String("broker-host", "", "override brokerHost")
	brokerPort := flag.Int("broker-port", 0, "override brokerPort (0 keeps config value)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.LoadPath(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kroxyd: load config %s: %v\n", *cfgPath, err)
			return 1
		}
		cfg = loaded
	}
	if *listenHost != "" {
		cfg.ListenHost = *listenHost
	}
	if *listenPort != 0 {
		cfg.ListenPort = *listenPort
	}
	if *brokerHost != "" {
		cfg.BrokerHost = *brokerHost
	}
	if *brokerPort != 0 {
		cfg.BrokerPort = *brokerPort
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kroxyd: build logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	registry, err := buildRegistry(cfg)
	if err != nil {
		log.Error("build interceptor registry", zap.Error(err))
		return 1
	}

	fwd := &pipeline.Forwarder{
		ListenHost:   cfg.ListenHost,
		ListenPort:   cfg.ListenPort,
		BrokerHost:   cfg.BrokerHost,
		BrokerPort:   cfg.BrokerPort,
		Registry:     registry,
		MaxFrameSize: cfg.MaxFrameSize,
		Watermarks:   pipeline.DefaultWatermarks,
		Log:          log,
		Emit:         loggingEmitter(log, cfg.LogFrames),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("kroxyd starting",
		zap.String("listen", fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)),
		zap.String("broker", fmt.Sprintf("%s:%d", cfg.BrokerHost, cfg.BrokerPort)),
		zap.Strings("interceptors", cfg.Interceptors),
	)

	if err := fwd.Run(ctx); err != nil {
		log.Error("listener exited", zap.Error(err))
		return 1
	}
	log.Info("kroxyd stopped")
	return 0
}

// defaultSupportedAPIVersions is kroxy's own advertised version window per
// API key, intersected against the broker's in the ApiVersions response
// (spec §4.6). It intentionally only lists the keys this proxy's built-in
// interceptors and passthrough path are known to handle correctly; any key
// missing here is dropped from what the client sees.
func defaultSupportedAPIVersions() map[int16]intercept.SupportedRange {
	return map[int16]intercept.SupportedRange{
		0:  {Min: 0, Max: 9},  // Produce
		1:  {Min: 0, Max: 13}, // Fetch
		2:  {Min: 0, Max: 8},  // ListOffsets
		3:  {Min: 0, Max: 12}, // Metadata
		8:  {Min: 0, Max: 8},  // OffsetCommit
		9:  {Min: 0, Max: 8},  // OffsetFetch
		10: {Min: 0, Max: 4},  // FindCoordinator
		11: {Min: 0, Max: 9},  // JoinGroup
		12: {Min: 0, Max: 4},  // Heartbeat
		13: {Min: 0, Max: 5},  // LeaveGroup
		14: {Min: 0, Max: 5},  // SyncGroup
		18: {Min: 0, Max: 3},  // ApiVersions
		19: {Min: 0, Max: 7},  // CreateTopics
		20: {Min: 0, Max: 6},  // DeleteTopics
		60: {Min: 0, Max: 2},  // DescribeCluster
	}
}

// buildRegistry turns cfg.Interceptors' names into constructed
// interceptors, in the configured order. Unknown names are a configuration
// error: failing loudly at startup beats silently running with fewer
// interceptors than the operator asked for.
func buildRegistry(cfg config.Config) (*intercept.Registry, error) {
	var built []intercept.Interceptor
	for _, name := range cfg.Interceptors {
		switch name {
		case "apiVersions":
			built = append(built, intercept.NewAPIVersionsInterceptor(defaultSupportedAPIVersions()))
		case "addressRewrite":
			mapper := intercept.PortOffsetMapper{
				DownstreamHost: cfg.ListenHost,
				PortOffset:     int32(cfg.AddressRewritePortOffset),
			}
			built = append(built, intercept.NewBrokerAddressRewrite(mapper))
		default:
			return nil, fmt.Errorf("kroxyd: unknown interceptor %q", name)
		}
	}
	return intercept.NewRegistry(built...), nil
}

// loggingEmitter adapts pipeline.Event publication onto the structured
// logger; logFrames gates the per-connection opened/closed lines. Nothing
// else in the daemon reads config.LogFrames, and no per-frame lines are
// logged.
func loggingEmitter(log *zap.Logger, logFrames bool) func(pipeline.Event) {
	return func(ev pipeline.Event) {
		if !logFrames {
			return
		}
		switch ev.Type {
		case pipeline.EventConnectionOpened:
			log.Info("connection opened",
				zap.String("pair_id", ev.Connection.PairID),
				zap.String("client", ev.Connection.Client),
				zap.String("broker", ev.Connection.Broker),
			)
		case pipeline.EventConnectionClosed:
			log.Info("connection closed",
				zap.String("pair_id", ev.Connection.PairID),
				zap.String("client", ev.Connection.Client),
				zap.String("broker", ev.Connection.Broker),
				zap.Int64("bytes_in", ev.Connection.BytesIn),
				zap.Int64("bytes_out", ev.Connection.BytesOut),
				zap.Float64("duration_ms", ev.Connection.DurationMs),
			)
		}
	}
}
