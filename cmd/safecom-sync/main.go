package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pushkarjay/safecom/internal/config"
	"github.com/pushkarjay/safecom/internal/observ"
	"github.com/pushkarjay/safecom/internal/syncclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

// options are the persistent flags every subcommand shares.
type options struct {
	server   string
	token    string
	cacheDir string
	timeout  time.Duration
	verbose  bool
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "safecom-sync",
		Short:        "SafeCom client: synced tasks and messages with an offline cache",
		Version:      Version,
		SilenceUsage: true,
	}

	home, _ := os.UserHomeDir()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", config.GetEnv("SAFECOM_SERVER", "http://localhost:8081"), "API base URL")
	flags.StringVar(&opts.token, "token", config.GetEnv("SAFECOM_TOKEN", ""), "JWT from /v1/auth/login")
	flags.StringVar(&opts.cacheDir, "cache-dir", filepath.Join(home, ".safecom"), "Directory for the local cache")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Per-request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log cache fallbacks")

	rootCmd.AddCommand(tasksCmd(opts))
	rootCmd.AddCommand(conversationsCmd(opts))
	rootCmd.AddCommand(messagesCmd(opts))
	rootCmd.AddCommand(workCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is an opened client plus what must be closed after the command.
type session struct {
	client *syncclient.Client
	cache  *syncclient.Cache
	logger *zap.Logger
}

func (o *options) open() (*session, error) {
	if o.token == "" {
		return nil, fmt.Errorf("no token: pass --token or set SAFECOM_TOKEN")
	}
	level := "error"
	if o.verbose {
		level = "debug"
	}
	logger, err := observ.NewLogger("development", level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	cache, err := syncclient.OpenCache(filepath.Join(o.cacheDir, "cache.db"))
	if err != nil {
		return nil, err
	}
	remote := syncclient.NewHTTPRemote(o.server, o.token, o.timeout)
	return &session{
		client: syncclient.NewClient(remote, cache, logger),
		cache:  cache,
		logger: logger,
	}, nil
}

func (s *session) Close() {
	s.cache.Close()
	s.logger.Sync()
}
