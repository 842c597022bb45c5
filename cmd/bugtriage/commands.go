package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kalambet/bugtriage/internal/api"
	"github.com/kalambet/bugtriage/internal/config"
	"github.com/kalambet/bugtriage/internal/retrieval"
	"github.com/kalambet/bugtriage/internal/storage"
	"github.com/kalambet/bugtriage/internal/suggestion"
)

// --- suggest ---

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Ask the running service for a triage suggestion",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		resolution, _ := cmd.Flags().GetString("resolution")
		userType, _ := cmd.Flags().GetString("user-type")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		s, err := requestSuggestion(cmd.Context(), client, api.SuggestRequest{
			Title:       title,
			Description: description,
			Resolution:  resolution,
			UserType:    userType,
		})
		if err != nil {
			return err
		}
		printSuggestion(os.Stdout, s)
		return nil
	},
}

func init() {
	suggestCmd.Flags().String("title", "", "bug title")
	suggestCmd.Flags().String("description", "", "bug description")
	suggestCmd.Flags().String("resolution", "", "known resolution, if any")
	suggestCmd.Flags().String("user-type", "developer", "audience for the suggestion (developer or business)")
	suggestCmd.MarkFlagRequired("title")
	suggestCmd.MarkFlagRequired("description")
}

func requestSuggestion(ctx context.Context, c *apiClient, req api.SuggestRequest) (suggestion.Suggestion, error) {
	resp, err := c.post(ctx, "/ai/suggest", req)
	if err != nil {
		return suggestion.Suggestion{}, err
	}
	var s suggestion.Suggestion
	if err := decodeJSON(resp, &s); err != nil {
		return suggestion.Suggestion{}, err
	}
	return s, nil
}

func printSuggestion(w io.Writer, s suggestion.Suggestion) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Priority:"), colorize(priorityColor(s.Priority), string(s.Priority)))
	fmt.Fprintf(w, "%s\n%s\n", colorize(colorBold, "Suggestion:"), s.Text)
}

// --- similar ---

var similarCmd = &cobra.Command{
	Use:   "similar <query>",
	Short: "Find past bugs similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		neighbors, err := findSimilar(cmd.Context(), client, query, limit)
		if err != nil {
			return err
		}
		printNeighbors(os.Stdout, neighbors)
		return nil
	},
}

func init() {
	similarCmd.Flags().Int("limit", 3, "maximum number of results")
}

func findSimilar(ctx context.Context, c *apiClient, query string, limit int) ([]retrieval.Neighbor, error) {
	path := fmt.Sprintf("/ai/similar?q=%s&k=%d", url.QueryEscape(query), limit)
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var neighbors []retrieval.Neighbor
	if err := decodeJSON(resp, &neighbors); err != nil {
		return nil, err
	}
	return neighbors, nil
}

func printNeighbors(w io.Writer, neighbors []retrieval.Neighbor) {
	if len(neighbors) == 0 {
		fmt.Fprintln(w, "No similar bugs found.")
		return
	}
	for i, n := range neighbors {
		label := fmt.Sprintf("Match %d", i+1)
		if n.HasResolution {
			label += " (resolved)"
		}
		fmt.Fprintf(w, "\n%s [score: %.3f]\n", colorize(colorBold, label), n.Score)
		body := truncateRunes(n.Body, 500)
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(body, "\n", "\n  "))
	}
}

// --- import ---

const importBatchSize = 50

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load historical bugs into the similarity store",
	Long: "Reads bugs from a JSON array, a {\"bugs\": [...]} object, or JSON Lines\n" +
		"(use - for stdin) and embeds them directly into the local database.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		bugs, err := readSeedBugs(r)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log, os.Stderr)

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		similarity := newSimilarityStore(cfg, store, logger)
		if err := similarity.Initialize(cmd.Context()); err != nil {
			return err
		}

		if err := importBugs(cmd.Context(), similarity, bugs, importBatchSize); err != nil {
			return err
		}
		total, err := similarity.Count(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Imported %d bugs (%d in store)", len(bugs), total)
		return nil
	},
}

type batchUpserter interface {
	UpsertBatch(ctx context.Context, recs []retrieval.BugRecord) error
}

// readSeedBugs accepts a JSON array, an object with a "bugs" array, or one
// bug per line. Every bug is validated before any is returned.
func readSeedBugs(r io.Reader) ([]api.SeedBug, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("no bugs to import")
	}

	var bugs []api.SeedBug
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &bugs); err != nil {
			return nil, fmt.Errorf("parsing bug array: %w", err)
		}
	default:
		var wrapped api.SeedRequest
		if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Bugs != nil {
			bugs = wrapped.Bugs
			break
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			var b api.SeedBug
			if err := json.Unmarshal(text, &b); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			bugs = append(bugs, b)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}

	if len(bugs) == 0 {
		return nil, errors.New("no bugs to import")
	}
	for i := range bugs {
		if err := api.ValidateSeedBug(&bugs[i]); err != nil {
			return nil, fmt.Errorf("bug %d: %w", i+1, err)
		}
	}
	return bugs, nil
}

func importBugs(ctx context.Context, dst batchUpserter, bugs []api.SeedBug, batchSize int) error {
	for start := 0; start < len(bugs); start += batchSize {
		end := min(start+batchSize, len(bugs))
		recs := make([]retrieval.BugRecord, 0, end-start)
		for _, b := range bugs[start:end] {
			recs = append(recs, retrieval.NewBugRecord(b.Title, b.Description, b.Resolution))
		}
		printStep("Embedding bugs %d-%d of %d", start+1, end, len(bugs))
		if err := dst.UpsertBatch(ctx, recs); err != nil {
			return fmt.Errorf("importing bugs %d-%d: %w", start+1, end, err)
		}
	}
	return nil
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse past triage suggestions",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent triage suggestions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/ai/triages?limit=%d", limit))
		if err != nil {
			return err
		}
		var entries []storage.TriageEntry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		printTriages(os.Stdout, entries)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single triage suggestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/ai/triages/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var entry any
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of entries to list")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
}

func printTriages(w io.Writer, entries []storage.TriageEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No triage history found.")
		return
	}
	for _, e := range entries {
		title := truncateRunes(e.Title, 80)
		id := e.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%s  %s  %-6s  %s\n",
			colorize(colorCyan, id),
			e.CreatedAt.Format("2006-01-02 15:04"),
			colorize(priorityColor(suggestion.Priority(e.Priority)), e.Priority),
			title,
		)
	}
}

// truncateRunes shortens s to at most n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
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

		fmt.Printf("# %s\n", config.ConfigPath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
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
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
