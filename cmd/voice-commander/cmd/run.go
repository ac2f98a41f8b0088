package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yegors/voice-commander/internal/audio"
	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/internal/settings"
)

var (
	runFile   string
	runNoSend bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one command from a WAV file",
	Long: `Runs a single command transaction on a recorded WAV file (16-bit PCM,
mono) and prints every pipeline event. Ctrl+C cancels the command.

Examples:
  voice-commander run --file hebe-wuerfel.wav
  voice-commander run --file test.wav --no-send`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "WAV file to transcribe")
	runCmd.Flags().BoolVar(&runNoSend, "no-send", false, "translate only, do not deliver the command")
	_ = runCmd.MarkFlagRequired("file")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		printError("failed to load config", err)
		return err
	}
	defer func() { _ = log.Sync() }()

	f, err := os.Open(runFile)
	if err != nil {
		return err
	}
	buf, err := audio.SubmitWAV(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", runFile, err)
	}

	store, err := settings.Open(cfg.Settings.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}
	var snapshots pipeline.SnapshotSource = store
	if runNoSend {
		snapshots = pipeline.StaticSnapshot{EndpointURL: store.Snapshot().EndpointURL}
	}

	controller, err := newController(context.Background(), cfg, snapshots, log)
	if err != nil {
		return err
	}
	defer func() { _ = controller.Close(context.Background()) }()

	sub := controller.Subscribe()
	defer sub.Close()

	id, err := controller.Start(buf)
	if err != nil {
		return err
	}

	interrupt, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return followTransaction(interrupt, cmd.OutOrStdout(), controller, sub, id)
}

// followTransaction prints events for id until its terminal event. A done
// ctx cancels the transaction; printing continues until it has finished.
func followTransaction(ctx context.Context, out io.Writer, controller *pipeline.Controller, sub *pipeline.Subscription, id pipeline.TransactionID) error {
	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(out, "cancelling...")
			if err := controller.Cancel(id); err != nil && !errors.Is(err, pipeline.ErrNotFound) {
				return err
			}
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return errors.New("event stream closed before the command finished")
			}
			if ev.TransactionID != id {
				continue
			}
			printEvent(out, ev)
			if !ev.Kind.IsTerminal() {
				continue
			}
			switch ev.Kind {
			case pipeline.EventFailed:
				return errors.New("command failed")
			case pipeline.EventCancelled:
				return errors.New("command cancelled")
			}
			return nil
		}
	}
}

func printEvent(out io.Writer, ev pipeline.Event) {
	ts := ev.Timestamp.Format("15:04:05.000")
	switch ev.Kind {
	case pipeline.EventStarted:
		fmt.Fprintf(out, "%s  #%d started\n", ts, ev.TransactionID)
	case pipeline.EventRecognized:
		fmt.Fprintf(out, "%s  de: %s\n", ts, ev.Payload)
	case pipeline.EventTranslated:
		fmt.Fprintf(out, "%s  en: %s\n", ts, ev.Payload)
	case pipeline.EventDeliveryAttempted:
		fmt.Fprintf(out, "%s  sending to %s\n", ts, ev.Payload)
	case pipeline.EventSucceeded:
		if ev.Delivered {
			fmt.Fprintf(out, "%s  delivered (HTTP %s)\n", ts, ev.Payload)
		} else {
			fmt.Fprintf(out, "%s  done, sending disabled\n", ts)
		}
	case pipeline.EventFailed:
		f := ev.Failure
		if f == nil {
			f = &pipeline.Failure{}
		}
		if f.Status != "" {
			fmt.Fprintf(out, "%s  failed: %s (status %s) %s\n", ts, f.Kind, f.Status, f.Detail)
		} else {
			fmt.Fprintf(out, "%s  failed: %s %s\n", ts, f.Kind, f.Detail)
		}
	case pipeline.EventCancelled:
		fmt.Fprintf(out, "%s  cancelled during %s\n", ts, ev.Payload)
	}
}
