package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohitkumar/stepflow/config"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/server/agent"
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
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "memory", "storage implementation: memory, redis or postgres")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().Int("redis-pool-size", 0, "redis connection pool size, 0 uses the client default")
	cmd.Flags().String("namespace", "stepflow", "namespace used in storage")
	cmd.Flags().String("postgres-dsn", "", "postgres connection string")
	cmd.Flags().Int("postgres-max-conns", 10, "max postgres connections")
	cmd.Flags().String("definitions-dir", "", "directory of workflow definitions loaded at startup")
	cmd.Flags().Duration("definition-cache-ttl", time.Minute, "how long definitions are cached, 0 disables the cache")
	cmd.Flags().Duration("approval-ttl", 0, "default approval expiry when a step sets none, 0 never expires")
	cmd.Flags().Duration("approval-sweep-interval", 0, "how often expired approvals are resolved, 0 disables the sweep")
	cmd.Flags().Duration("transform-timeout", 2*time.Second, "max run time of a transform script")
	cmd.Flags().String("tool-url", "", "base url of the tool service")
	cmd.Flags().String("tool-api-key", "", "api key sent to the tool service")
	cmd.Flags().Duration("tool-timeout", 30*time.Second, "tool call timeout")
	cmd.Flags().String("llm-url", "", "base url of a chat completions api")
	cmd.Flags().String("llm-api-key", "", "api key for the chat completions api")
	cmd.Flags().String("llm-model", "", "model used when a step names none")
	cmd.Flags().Duration("llm-timeout", 60*time.Second, "completion timeout")
	cmd.Flags().Int("event-queue-capacity", 1024, "capacity of the event queue")
	cmd.Flags().String("audit-log-file", "", "file every event is appended to")
	cmd.Flags().String("redis-event-stream", "", "redis stream events are published to")
	cmd.Flags().Int64("redis-event-stream-max-len", 100000, "approximate max length of the event stream")
	cmd.Flags().String("log-level", "info", "log level")
	cmd.Flags().String("log-format", "json", "log format: json or console")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetEnvPrefix("STEPFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return err
			}
		}
	}

	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	if addrs := viper.GetString("redis-addr"); addrs != "" {
		c.cfg.RedisConfig.Addrs = strings.Split(addrs, ",")
	}
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.PostgresConfig.DSN = viper.GetString("postgres-dsn")
	c.cfg.PostgresConfig.MaxConns = viper.GetInt("postgres-max-conns")
	c.cfg.DefinitionsDir = viper.GetString("definitions-dir")
	c.cfg.DefinitionCacheTTL = viper.GetDuration("definition-cache-ttl")
	c.cfg.TransformTimeout = viper.GetDuration("transform-timeout")
	c.cfg.ApprovalConfig.DefaultTTL = viper.GetDuration("approval-ttl")
	c.cfg.ApprovalConfig.SweepInterval = viper.GetDuration("approval-sweep-interval")
	c.cfg.ToolConfig = config.InvokerConfig{
		BaseURL: viper.GetString("tool-url"),
		APIKey:  viper.GetString("tool-api-key"),
		Timeout: viper.GetDuration("tool-timeout"),
	}
	c.cfg.LLMConfig = config.InvokerConfig{
		BaseURL: viper.GetString("llm-url"),
		APIKey:  viper.GetString("llm-api-key"),
		Model:   viper.GetString("llm-model"),
		Timeout: viper.GetDuration("llm-timeout"),
	}
	c.cfg.AnalyticsConfig.QueueCapacity = viper.GetInt("event-queue-capacity")
	c.cfg.AnalyticsConfig.AuditLogFile = viper.GetString("audit-log-file")
	c.cfg.AnalyticsConfig.RedisStream = viper.GetString("redis-event-stream")
	c.cfg.AnalyticsConfig.RedisStreamMaxLen = viper.GetInt64("redis-event-stream-max-len")
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.LogFormat = viper.GetString("log-format")

	if err = logger.Init(c.cfg.LogLevel, c.cfg.LogFormat); err != nil {
		return err
	}
	return c.cfg.Validate()
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	var err error
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		return err
	}
	err = agent.Start()
	if err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	err = agent.Shutdown()
	_ = logger.Sync()
	return err
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "stepflow",
		Short:   "deterministic, resumable workflow orchestrator",
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
