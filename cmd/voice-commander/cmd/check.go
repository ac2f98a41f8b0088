package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yegors/voice-commander/internal/config"
	"github.com/yegors/voice-commander/internal/settings"
	"github.com/yegors/voice-commander/internal/storage/sqlite"
	"github.com/yegors/voice-commander/pkg/logger"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the installation",
	Long: `Checks that the configuration loads, an OpenAI API key is available,
the delivery settings are valid and the history database can be opened.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

type checkResult struct {
	name   string
	detail string
	err    error
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "voice-commander installation check")
	fmt.Fprintln(out, "==================================")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  [-] %-18s %v\n", "config", err)
		return err
	}

	results := []checkResult{{name: "config", detail: describeConfigFile(cfgFile)}}
	results = append(results, checkAPIKey(cfg))
	results = append(results, checkSettings(cfg))
	results = append(results, checkStorage(cfg))

	failed := 0
	for _, r := range results {
		icon, detail := "[+]", r.detail
		if r.err != nil {
			icon, detail = "[-]", r.err.Error()
			failed++
		}
		fmt.Fprintf(out, "  %s %-18s %s\n", icon, r.name, detail)
	}

	fmt.Fprintln(out)
	if failed > 0 {
		fmt.Fprintf(out, "%d check(s) failed\n", failed)
		return fmt.Errorf("%d check(s) failed", failed)
	}
	fmt.Fprintln(out, "All checks passed")
	return nil
}

func describeConfigFile(path string) string {
	if _, err := os.Stat(path); err != nil {
		return "using defaults (" + path + " not found)"
	}
	return path
}

func checkAPIKey(cfg *config.Config) checkResult {
	r := checkResult{name: "openai api key"}
	if cfg.OpenAI.APIKey == "" {
		r.err = errors.New("not set (config [openai] api_key or OPENAI_API_KEY)")
		return r
	}
	r.detail = fmt.Sprintf("set, speech model %s, translation %s", cfg.Speech.Model, cfg.Translation.Provider)
	return r
}

func checkSettings(cfg *config.Config) checkResult {
	r := checkResult{name: "delivery settings"}
	store, err := settings.Open(cfg.Settings.Path, logger.NewNop())
	if err != nil {
		r.err = err
		return r
	}
	snap := store.Snapshot()
	if snap.DeliveryEnabled {
		r.detail = "sending to " + snap.EndpointURL
	} else {
		r.detail = "sending disabled"
	}
	return r
}

func checkStorage(cfg *config.Config) checkResult {
	r := checkResult{name: "history database"}
	if !cfg.Storage.Enabled {
		r.detail = "disabled"
		return r
	}
	db, err := sqlite.Open(cfg.Storage.SQLitePath)
	if err != nil {
		r.err = err
		return r
	}
	defer db.Close()
	if _, err := sqlite.NewCommandStorage(db, logger.NewNop()); err != nil {
		r.err = err
		return r
	}
	r.detail = cfg.Storage.SQLitePath
	return r
}
