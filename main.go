package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferranbt/ethstats-agent/ethstats"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const dialTimeout = 10 * time.Second

type flag struct {
	name   string
	env    string
	usage  string
	defVal interface{}
}

var defaults = ethstats.DefaultConfig()

var flags = []flag{
	{"rpc-host", "RPC_HOST", "host of the node json-rpc endpoint", defaults.RPCHost},
	{"rpc-port", "RPC_PORT", "port of the node json-rpc endpoint", defaults.RPCPort},
	{"rpc-scheme", "RPC_SCHEME", "scheme of the node json-rpc endpoint (http, https, ws, wss)", defaults.RPCScheme},
	{"ws-server", "WS_SERVER", "address of the stats collector", defaults.CollectorURL},
	{"instance-name", "EC2_INSTANCE_ID", "name of the node on the monitoring page", defaults.InstanceName},
	{"eth-version", "ETH_VERSION", "client version reported to the collector", defaults.VersionString},
	{"update-interval", "UPDATE_INTERVAL", "period of the stats updates", defaults.UpdateInterval},
	{"query-timeout", "QUERY_TIMEOUT", "timeout of every node query", defaults.QueryTimeout},
	{"metrics-addr", "METRICS_ADDR", "address of the status and metrics server, disabled if empty", ""},
	{"archive-db", "ARCHIVE_DB", "postgres endpoint of the snapshot archive, disabled if empty", ""},
	{"archive-retention-days", "ARCHIVE_RETENTION_DAYS", "days of archived snapshots to keep, 0 keeps everything", 0},
	{"log-level", "LOG_LEVEL", "log level (trace, debug, info, warn, error)", "info"},
}

var rootCmd = &cobra.Command{
	Use:          "ethstats-agent",
	Short:        "Reports the stats of an ethereum node to an ethstats collector",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	for _, f := range flags {
		switch val := f.defVal.(type) {
		case string:
			rootCmd.Flags().String(f.name, val, f.usage)
		case int:
			rootCmd.Flags().Int(f.name, val, f.usage)
		case time.Duration:
			rootCmd.Flags().Duration(f.name, val, f.usage)
		default:
			panic(fmt.Sprintf("unexpected flag type %T", val))
		}
		if err := viper.BindPFlag(f.name, rootCmd.Flags().Lookup(f.name)); err != nil {
			panic(err)
		}
		if err := viper.BindEnv(f.name, f.env); err != nil {
			panic(err)
		}
	}
}

func readConfig() *ethstats.Config {
	config := ethstats.DefaultConfig()
	config.RPCHost = viper.GetString("rpc-host")
	config.RPCPort = viper.GetInt("rpc-port")
	config.RPCScheme = viper.GetString("rpc-scheme")
	config.CollectorURL = viper.GetString("ws-server")
	config.InstanceName = viper.GetString("instance-name")
	config.VersionString = viper.GetString("eth-version")
	config.UpdateInterval = viper.GetDuration("update-interval")
	config.QueryTimeout = viper.GetDuration("query-timeout")
	config.MetricsAddr = viper.GetString("metrics-addr")
	config.ArchiveEndpoint = viper.GetString("archive-db")
	config.ArchiveRetentionDays = viper.GetInt("archive-retention-days")
	return config
}

func run(cmd *cobra.Command, args []string) error {
	config := readConfig()

	logLevel := viper.GetString("log-level")
	if lvl, err := log.ParseLevel(logLevel); err == nil {
		log.SetLevel(lvl)
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "ethstats-agent",
		Level: hclog.LevelFromString(logLevel),
	})

	ctx, cancelFn := context.WithTimeout(context.Background(), dialTimeout)
	defer cancelFn()

	node, err := ethstats.NewRPCNode(ctx, logger.Named("rpc"), config.RPCEndpoint(), config.QueryTimeout)
	if err != nil {
		return err
	}
	defer node.Close()

	transport, err := ethstats.NewTransport(logger, config)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	agent, err := ethstats.NewAgent(logger.Named("agent"), config, nil, node, transport,
		ethstats.WithWatcher(node),
		ethstats.WithRegisterer(reg),
	)
	if err != nil {
		transport.Close()
		return err
	}
	agent.Start()
	log.WithFields(log.Fields{
		"id":        agent.Info().ID,
		"rpc":       config.RPCEndpoint(),
		"collector": config.CollectorURL,
	}).Info("ethstats agent running")

	var srv *ethstats.Server
	if config.MetricsAddr != "" {
		if srv, err = ethstats.NewServer(logger.Named("server"), config.MetricsAddr, agent, reg); err != nil {
			agent.Close()
			return err
		}
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	sig := <-signalCh
	log.WithField("signal", sig.String()).Info("shutting down")

	if srv != nil {
		if err := srv.Close(); err != nil {
			log.WithError(err).Warn("failed to stop the status server")
		}
	}
	return agent.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("ethstats agent failed")
	}
}
