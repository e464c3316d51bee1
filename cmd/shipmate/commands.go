package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marindock/shipmate/internal/catalog"
	"github.com/marindock/shipmate/internal/config"
)

// Wire types for /chat, mirroring the server's snake_case JSON.

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatState struct {
	IsActive       bool   `json:"is_active"`
	CurrentProblem string `json:"current_problem"`
	CurrentStep    int    `json:"current_step"`
}

type chatRequest struct {
	Prompt         string     `json:"prompt"`
	History        []chatTurn `json:"history"`
	State          chatState  `json:"troubleshooting_state"`
	ForceWebSearch bool       `json:"force_web_search"`
}

type chatResponse struct {
	Answer         string     `json:"answer"`
	History        []chatTurn `json:"history"`
	State          chatState  `json:"troubleshooting_state"`
	OfferWebSearch bool       `json:"offer_web_search"`
	Source         string     `json:"final_answer_source"`
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the assistant a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		force, _ := cmd.Flags().GetBool("search")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := chatRequest{Prompt: question, ForceWebSearch: force}
		resp, err := client.post(cmd.Context(), "/chat", req)
		if err != nil {
			return err
		}

		var out chatResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		fmt.Println(out.Answer)
		if out.OfferWebSearch {
			printWarning("The answer may be limited. Re-run with --search to check the web.")
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("search", false, "force a web search for this question")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive troubleshooting session",
	Long: `Interactive troubleshooting session.

History and guided-session state live in the client: every turn round-trips
them through the server, so killing the session loses nothing server-side.
Type 'exit' to quit. '/search' re-asks the last question on the web;
'/search <question>' web-searches a new one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		fmt.Println("shipmate interactive session. Type 'exit' to quit, '/search <question>' to force a web search.")

		var (
			history    []chatTurn
			state      chatState
			lastPrompt string
		)

		scanner := bufio.NewScanner(os.Stdin)
		for {
			if state.IsActive {
				fmt.Printf("%s ", colorize(colorCyan, fmt.Sprintf("[%s, step %d]>", state.CurrentProblem, state.CurrentStep)))
			} else {
				fmt.Print("> ")
			}
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				return nil
			}

			prompt := line
			force := false
			if strings.HasPrefix(line, "/search") {
				q := strings.TrimSpace(strings.TrimPrefix(line, "/search"))
				if q == "" {
					q = lastPrompt
				}
				if q == "" {
					printWarning("usage: /search <question>")
					continue
				}
				prompt = q
				force = true
			}

			req := chatRequest{Prompt: prompt, History: history, State: state, ForceWebSearch: force}
			resp, err := client.post(cmd.Context(), "/chat", req)
			if err != nil {
				return err
			}

			var out chatResponse
			if err := decodeJSON(resp, &out); err != nil {
				printError("%v", err)
				continue
			}

			lastPrompt = prompt
			history = out.History
			state = out.State

			fmt.Printf("\n%s\n\n", out.Answer)
			if out.OfferWebSearch {
				fmt.Fprintln(os.Stderr, colorize(colorYellow, "Type /search to look for an answer on the web."))
			}
		}
	},
}

// --- kb ---

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the knowledge base",
}

var kbLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the troubleshooting guide into the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		// Embedding the full catalog can take minutes on first load.
		client.httpClient = &http.Client{Timeout: 10 * time.Minute}

		printStep("Loading knowledge base...")
		resp, err := client.post(cmd.Context(), "/load_kb", nil)
		if err != nil {
			return err
		}

		var result struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result.Message)
		return nil
	},
}

var kbDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes all indexed knowledge and uploaded manuals. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.del(cmd.Context(), "/delete_kb")
		if err != nil {
			return err
		}

		var result struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result.Message)
		return nil
	},
}

var kbAddManualCmd = &cobra.Command{
	Use:   "add-manual <file.pdf>",
	Short: "Upload a PDF manual for indexing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		title, _ := cmd.Flags().GetString("title")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading manual: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"filename": filepath.Base(path),
			"data":     base64.StdEncoding.EncodeToString(data),
		}
		if title != "" {
			req["title"] = title
		}

		resp, err := client.post(cmd.Context(), "/manuals", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued manual %s for indexing", result["id"])
		return nil
	},
}

func init() {
	kbAddManualCmd.Flags().String("title", "", "title for the manual")
	kbDeleteCmd.Flags().Bool("confirm", false, "confirm knowledge base deletion")
	kbCmd.AddCommand(kbLoadCmd)
	kbCmd.AddCommand(kbDeleteCmd)
	kbCmd.AddCommand(kbAddManualCmd)
}

// --- problems ---

var problemsCmd = &cobra.Command{
	Use:   "problems",
	Short: "List known problems from the troubleshooting guide",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		cat, skipped, err := catalog.Load(cfg.CatalogPath())
		if err != nil {
			return fmt.Errorf("loading troubleshooting guide: %w", err)
		}
		if skipped > 0 {
			printWarning("%d malformed rows skipped", skipped)
		}
		if cat.Len() == 0 {
			fmt.Println("No problems found.")
			return nil
		}

		for _, rec := range cat.Records() {
			fmt.Printf("%s (%d steps)\n", colorize(colorBold, rec.Problem), rec.StepCount())
			if rec.PossibleCause != "" {
				fmt.Printf("  possible cause: %s\n", rec.PossibleCause)
			}
		}
		return nil
	},
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/interactions?limit=%d", limit))
		if err != nil {
			return err
		}

		var interactions []struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Prompt    string `json:"prompt"`
			Source    string `json:"final_answer_source"`
		}
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}

		for _, ix := range interactions {
			prompt := ix.Prompt
			if len(prompt) > 80 {
				prompt = prompt[:80] + "..."
			}
			fmt.Printf("%s  %s  [%s]  %s\n",
				colorize(colorCyan, ix.ID[:8]),
				ix.CreatedAt,
				ix.Source,
				prompt,
			)
		}
		return nil
	},
}

func init() {
	interactionsCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
