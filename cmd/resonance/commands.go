package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kgninja/resonance/internal/config"
	"github.com/kgninja/resonance/internal/harvest"
	"github.com/kgninja/resonance/internal/memory"
	"github.com/kgninja/resonance/internal/storage"
)

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "resonance %s\n", version)
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show documents, server and last run status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var health struct {
			Status  string `json:"status"`
			LastRun *struct {
				Outcome   string `json:"outcome"`
				StartedAt string `json:"started_at"`
			} `json:"last_run"`
		}
		resp, err := newAPIClient(cfg.Server.Port).get(cmd.Context(), "/health")
		if err == nil {
			err = decodeJSON(resp, &health)
		}
		switch {
		case err != nil:
			printStatus("Server", "stopped")
		case health.LastRun != nil:
			printStatus("Server", "running on port %d, last scheduled run %s (%s)", cfg.Server.Port, health.LastRun.StartedAt, health.LastRun.Outcome)
		default:
			printStatus("Server", "running on port %d", cfg.Server.Port)
		}

		if st, err := harvest.ReadState(cfg.StatePath()); err != nil {
			printStatus("Harvest state", "unreadable: %v", err)
		} else {
			printStatus("Harvest state", "%d keywords, %d hashtags, last harvest %s",
				len(st.Keywords), len(st.Hashtags), formatWhen(st.LastHarvest.Time))
		}

		if doc, err := memory.Read(cfg.MemoryPath()); err != nil {
			printStatus("Memory", "unreadable: %v", err)
		} else if _, statErr := os.Stat(cfg.MemoryPath()); errors.Is(statErr, os.ErrNotExist) {
			printStatus("Memory", "not created yet (run `resonance memory record`)")
		} else {
			printStatus("Memory", "%d concepts, confidence %.1f%%", len(doc.Concepts), doc.Meta.MemoryConfidence*100)
		}

		printStatus("Sources", "%s", strings.Join(cfg.Source.Endpoints, ", "))
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// --- state ---

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect the harvest state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the harvest state document as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := harvest.ReadState(cfg.StatePath())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

func init() {
	stateCmd.AddCommand(stateShowCmd)
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or update the concept memory",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show [concept-id]",
	Short: "Print the memory document, or one concept, as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		doc, err := memory.Read(cfg.MemoryPath())
		if err != nil {
			return err
		}
		if len(args) == 1 {
			c, ok := doc.Concept(args[0])
			if !ok {
				return fmt.Errorf("concept %q not found", args[0])
			}
			return printJSON(cmd.OutOrStdout(), c)
		}
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

var memoryContextCmd = &cobra.Command{
	Use:   "context",
	Short: "Render the memory as a prompt context block",
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderMemory(cmd.OutOrStdout(), memory.Document.PromptContext)
	},
}

var memorySummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Render the memory as a markdown summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderMemory(cmd.OutOrStdout(), memory.Document.SummaryMarkdown)
	},
}

func renderMemory(w io.Writer, render func(memory.Document) string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	doc, err := memory.Read(cfg.MemoryPath())
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, render(doc))
	return err
}

var memoryRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record an interaction (creates the memory document if missing)",
	RunE: func(cmd *cobra.Command, args []string) error {
		event, _ := cmd.Flags().GetString("event")
		context, _ := cmd.Flags().GetString("context")
		insight, _ := cmd.Flags().GetString("insight")
		if event == "" {
			return fmt.Errorf("--event is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openMemory(cfg)
		if err != nil {
			return err
		}
		store.RecordInteraction(event, context, insight)
		if err := store.Save(); err != nil {
			return err
		}
		doc := store.Document()
		printSuccess("Recorded %s (memory confidence %.1f%%)", event, doc.Meta.MemoryConfidence*100)
		return nil
	},
}

var memoryPulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Record a visibility measurement",
	Long: `Record a visibility measurement: the search-result count for the entity
name and the keywords that were measured. Updates the digital presence
concept and appends a visibility_pulse interaction.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		keywords, _ := cmd.Flags().GetStringSlice("keywords")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openMemory(cfg)
		if err != nil {
			return err
		}
		stage, err := store.RecordPulse(count, keywords)
		if err != nil {
			return err
		}
		if err := store.Save(); err != nil {
			return err
		}
		printSuccess("Pulse recorded: %s", stage)
		return nil
	},
}

func openMemory(cfg config.Config) (*memory.Store, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	store, err := memory.Load(memoryConfig(cfg))
	if err != nil {
		return nil, err
	}
	if store.Recovered() {
		printWarning("memory document was malformed; it was moved aside and a fresh one started")
	}
	return store, nil
}

func init() {
	memoryRecordCmd.Flags().String("event", "", "event type, e.g. manual_note")
	memoryRecordCmd.Flags().String("context", "", "what happened")
	memoryRecordCmd.Flags().String("insight", "", "what was learned")
	memoryPulseCmd.Flags().Int("count", 0, "search-result count for the entity name")
	memoryPulseCmd.Flags().StringSlice("keywords", nil, "keywords that were measured")

	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryContextCmd)
	memoryCmd.AddCommand(memorySummaryCmd)
	memoryCmd.AddCommand(memoryRecordCmd)
	memoryCmd.AddCommand(memoryPulseCmd)
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run ledger",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent harvest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.RecentRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			printStatus("Runs", "none recorded")
			return nil
		}
		writeRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsAttemptsCmd = &cobra.Command{
	Use:   "attempts <run-id>",
	Short: "List the fetch attempts of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		attempts, err := store.AttemptsForRun(cmd.Context(), args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("run %q not found", args[0])
		}
		if err != nil {
			return err
		}
		writeAttempts(cmd.OutOrStdout(), attempts)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsAttemptsCmd)
}

func writeRuns(w io.Writer, runs []storage.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tOUTCOME\tORIGIN\tPOSTS\tNEW\tID")
	for _, r := range runs {
		origin := r.Origin
		if origin == "" {
			origin = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Outcome, origin, r.PostsProcessed, r.NewKeywords, r.ID)
	}
	tw.Flush()
}

func writeAttempts(w io.Writer, attempts []storage.FetchAttempt) {
	if len(attempts) == 0 {
		fmt.Fprintln(w, "no fetch attempts (served from a fresh cache)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADAPTER\tTRY\tOUTCOME\tITEMS\tDURATION\tERROR")
	for _, a := range attempts {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%s\n",
			a.Adapter, a.Attempt, a.Outcome, a.Items, a.Duration.Round(time.Millisecond), a.Error)
	}
	tw.Flush()
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
