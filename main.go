// murmur is a realtime microphone transcriber for the OpenAI realtime
// API, usable as a piped CLI or an interactive terminal view.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"murmur/internal/bootstrap"
	"murmur/internal/tui"
	"murmur/internal/usecase"
)

var verbose bool

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	rootCmd := &cobra.Command{
		Use:   "murmur",
		Short: "Stream microphone audio to the OpenAI realtime transcription API",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(log.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Transcribe the microphone to stdout until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			host := newCLIHost(logger)
			services, err := bootstrap.Build(host, logger)
			if err != nil {
				return err
			}
			defer services.Orchestrator.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := services.Orchestrator.StartListening(ctx, host.listener()); err != nil {
				return err
			}
			<-ctx.Done()
			services.Orchestrator.StopListening(usecase.StopListenOptions{ClearListener: true})
			return nil
		},
	}

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive transcription view",
		RunE: func(cmd *cobra.Command, args []string) error {
			sink := tui.NewSink()
			services, err := bootstrap.Build(sink, logger)
			if err != nil {
				return err
			}
			defer services.Orchestrator.Close()
			return tui.Run(services.Orchestrator, sink)
		},
	}

	rootCmd.AddCommand(listenCmd, tuiCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}
