package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/parley-labs/parley/agent"
	"github.com/parley-labs/parley/config"
	"github.com/parley-labs/parley/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	def := config.Default()
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", def.RedisConfig.Namespace, "namespace used in storage")
	cmd.Flags().Int("http-port", def.HttpPort, "http port for rest endpoints")
	cmd.Flags().String("log-level", def.LogLevel, "log level: debug, info, warn, error")
	cmd.Flags().Duration("session-ttl", def.SessionTTL, "idle session expiry")
	cmd.Flags().Duration("queue-ttl", def.MessageQueueTTL, "outbound message queue expiry")
	cmd.Flags().Duration("cache-ttl", def.CacheTTL, "session read cache expiry")
	cmd.Flags().Duration("sweep-interval", def.SweepInterval, "cache sweep interval")
	cmd.Flags().Int("max-transitions", def.MaxTransitions, "max transitions per step")
	cmd.Flags().Int("min-sample-size", def.MinSampleSize, "minimum samples before a test winner is declared")
	cmd.Flags().Int("lock-stripes", def.LockStripes, "conversation lock stripes")
	cmd.Flags().String("analytics-file", "", "file for step audit records, disabled when empty")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.SessionTTL = viper.GetDuration("session-ttl")
	c.cfg.MessageQueueTTL = viper.GetDuration("queue-ttl")
	c.cfg.CacheTTL = viper.GetDuration("cache-ttl")
	c.cfg.SweepInterval = viper.GetDuration("sweep-interval")
	c.cfg.MaxTransitions = viper.GetInt("max-transitions")
	c.cfg.MinSampleSize = viper.GetInt("min-sample-size")
	c.cfg.LockStripes = viper.GetInt("lock-stripes")
	c.cfg.AnalyticsFile = viper.GetString("analytics-file")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	logger.Init(c.cfg.LogLevel)
	defer logger.Sync()
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "parley",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
