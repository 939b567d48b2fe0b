package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"debate-agent/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "debate-agent",
		Short: "Multi-turn debate API backed by a language model",
		Long: `debate-agent keeps per-conversation topic, stance and history in a
key-value store and answers each turn with a guarded prompt sent to an
OpenAI-compatible or Anthropic generation backend.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile == "" {
				return nil
			}
			v.SetConfigFile(cfgFile)
			return v.ReadInConfig()
		},
		// Lambda is the default so the bare binary works as a bootstrap.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLambda(cmd.Context(), v)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML or JSON config file")
	root.PersistentFlags().String("log-level", "", "Log level (debug,info,warn,error)")
	bindFlag(v, root.PersistentFlags(), "log_level", "log-level")

	root.AddCommand(newLambdaCommand(v), newServeCommand(v))
	return root
}

func newLambdaCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve API Gateway proxy events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLambda(cmd.Context(), v)
		},
	}
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	cmd.Flags().String("listen", "", "Address to listen on (default :3000)")
	bindFlag(v, cmd.Flags(), "listen_addr", "listen")
	return cmd
}

// bindFlag lets a flag override the config key only when it was set.
func bindFlag(v *viper.Viper, fs *pflag.FlagSet, key, name string) {
	if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
		panic(err)
	}
}

func runLambda(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, os.Stderr, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	lambda.Start(a.handler.Handle)
	return nil
}

func runServe(ctx context.Context, v *viper.Viper) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, os.Stderr, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
