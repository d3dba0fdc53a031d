// storectl is a CLI for exercising a storesyncd server by hand.
// Each command performs a single operation, making it composable for scripts.
//
// Examples:
//
//	export STORESYNC_TOKEN=cart-token-123
//	storectl login
//	storectl add 60 --name Chair --price 10.00 --qty 2
//	storectl inc 60
//	storectl show
//	storectl -c compare add 61
//	storectl watch
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storesync/internal/model"
)

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	serverURL  string
	token      string
	collection string
	quiet      bool
	verbose    bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

var rootCmd = &cobra.Command{
	Use:   "storectl",
	Short: "Drive a storesyncd server from the command line",
	Long: `storectl - talks to storesyncd's REST API.

The bearer token identifies the session; set it with --token or STORESYNC_TOKEN.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("NO_COLOR") != "" {
			disableColors()
		}
		if token == "" {
			return fmt.Errorf("a bearer token is required (--token or STORESYNC_TOKEN)")
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("STORESYNC_SERVER", "http://localhost:8080"), "storesyncd base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("STORESYNC_TOKEN"), "session bearer token")
	rootCmd.PersistentFlags().StringVarP(&collection, "collection", "c", "cart", "collection kind (cart, compare, listing)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "print only results")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print full responses")

	addCmd.Flags().Int("qty", 1, "quantity to add")
	addCmd.Flags().String("name", "", "item name")
	addCmd.Flags().String("price", "", "unit price in major units (12.50)")
	addCmd.Flags().String("product", "", "product id when it differs from the row id")
	addCmd.Flags().Int("stock", 0, "available stock (0 = unknown)")

	rootCmd.AddCommand(loginCmd, logoutCmd, showCmd, addCmd, removeCmd, incCmd, decCmd,
		reloadCmd, localeCmd, notificationsCmd, watchCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open the session and load every collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := doRequest(http.MethodPost, "/session", nil)
		if err != nil {
			return err
		}
		printSuccess("session %v", resp["id"])
		if cols, ok := resp["collections"].(map[string]any); ok {
			for kind, c := range cols {
				printCollectionSummary(kind, c)
			}
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Close the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := doRequest(http.MethodDelete, "/session", nil); err != nil {
			return err
		}
		printSuccess("logged out")
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := doRequest(http.MethodGet, collectionPath(""), nil)
		if err != nil {
			return err
		}
		printCollection(resp)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <item-id>",
	Short: "Add an item, or raise its quantity if already present",
	Example: `  storectl add 60
  storectl add 60 --name Chair --price 10.00 --qty 2 --stock 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, _ := cmd.Flags().GetInt("qty")
		body := map[string]any{"item_id": args[0], "quantity": qty}

		item := map[string]any{"id": args[0]}
		if name, _ := cmd.Flags().GetString("name"); name != "" {
			item["name"] = name
		}
		if price, _ := cmd.Flags().GetString("price"); price != "" {
			item["price"] = price
		}
		if product, _ := cmd.Flags().GetString("product"); product != "" {
			item["product_id"] = product
		}
		if stock, _ := cmd.Flags().GetInt("stock"); stock > 0 {
			item["stock"] = stock
		}
		if len(item) > 1 {
			body["item"] = item
		}
		return runIntent(http.MethodPost, collectionPath("/items"), body)
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <item-id>",
	Aliases: []string{"rm"},
	Short:   "Remove an item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIntent(http.MethodDelete, collectionPath("/items/"+url.PathEscape(args[0])), nil)
	},
}

var incCmd = &cobra.Command{
	Use:   "inc <item-id>",
	Short: "Increase an item's quantity by one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIntent(http.MethodPost, collectionPath("/items/"+url.PathEscape(args[0])+"/increase"), nil)
	},
}

var decCmd = &cobra.Command{
	Use:   "dec <item-id>",
	Short: "Decrease an item's quantity by one (removes it at zero)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIntent(http.MethodPost, collectionPath("/items/"+url.PathEscape(args[0])+"/decrease"), nil)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the collection from the backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := doRequest(http.MethodPost, collectionPath("/reload"), nil)
		if err != nil {
			return err
		}
		printCollection(resp)
		return nil
	},
}

var localeCmd = &cobra.Command{
	Use:   "locale <tag>",
	Short: "Switch the session language and reload every collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := doRequest(http.MethodPut, "/session/locale", map[string]string{"locale": args[0]})
		if err != nil {
			return err
		}
		printSuccess("locale %v", resp["locale"])
		return nil
	},
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List recent notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := doRequest(http.MethodGet, "/notifications", nil)
		if err != nil {
			return err
		}
		notes, _ := resp["notifications"].([]any)
		for _, n := range notes {
			if m, ok := n.(map[string]any); ok {
				printNotification(m)
			}
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream snapshots and notifications until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/events", nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "text/event-stream")

		// The stream has no deadline.
		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}

		var name string
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				var data map[string]any
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data); err != nil {
					continue
				}
				switch name {
				case "snapshot":
					printCollectionSummary(fmt.Sprint(data["kind"]), data)
				case "notification":
					printNotification(data)
				case "closed":
					printInfo("session closed")
					return nil
				}
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		return sc.Err()
	},
}

func collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(collection) + suffix
}

// runIntent sends one mutation and prints how it settled.
func runIntent(method, path string, body any) error {
	resp, err := doRequest(method, path, body)
	if resp == nil {
		return err
	}

	phase, _ := resp["phase"].(string)
	switch {
	case resp["noop"] == true:
		printInfo("nothing to do")
	case resp["limit_reached"] == true:
		printWarning("stock limit reached")
	case phase == "confirmed":
		printSuccess("confirmed")
	case phase == "optimistically_applied":
		printWarning("still pending on the backend")
	default:
		printError("%s", phase)
	}
	if e, ok := resp["error"].(map[string]any); ok {
		printError("%v: %v", e["code"], e["message"])
	}
	if c, ok := resp["collection"].(map[string]any); ok {
		printCollection(c)
	}
	return err
}

// doRequest sends a JSON request with the bearer token. Intent responses
// carry the collection even on failure, so a decoded body is returned
// alongside the HTTP error.
func doRequest(method, path string, body any) (map[string]any, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	if verbose {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if verbose {
		printResponse(resp.StatusCode, respBody, duration)
	}

	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		if _, isOutcome := result["phase"]; isOutcome {
			return result, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return result, nil
}

func printCollection(c map[string]any) {
	if quiet {
		data, _ := json.Marshal(c["items"])
		fmt.Println(string(data))
		return
	}
	items, _ := c["items"].([]any)
	for _, it := range items {
		row, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name := row["name"]
		if name == nil || name == "" {
			name = row["id"]
		}
		fmt.Printf("  %s%-24v%s x%-3v %s\n", colorBold, name, colorReset, row["quantity"], formatCents(row["unit_price"]))
	}
	printCollectionSummary(fmt.Sprint(c["kind"]), c)
}

func printCollectionSummary(kind string, c any) {
	m, ok := c.(map[string]any)
	if !ok {
		return
	}
	totals, _ := m["totals"].(map[string]any)
	fmt.Printf("%s%s%s: %v items, total %v %s(v%v)%s\n",
		colorCyan, kind, colorReset, totals["item_count"], m["total_display"], colorGray, m["version"], colorReset)
}

func printNotification(n map[string]any) {
	text := fmt.Sprint(n["message"])
	switch n["level"] {
	case "error":
		printError("%s", text)
	case "warning":
		printWarning("%s", text)
	default:
		fmt.Printf("%s  ℹ %s%s\n", colorGray, text, colorReset)
	}
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(pretty.String())
}

func printSuccess(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...any) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...any) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

// formatCents renders minor units from a decoded JSON number.
func formatCents(v any) string {
	switch val := v.(type) {
	case float64:
		return model.FormatCents(int64(val))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
