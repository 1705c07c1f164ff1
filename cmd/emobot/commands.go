package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/emobot/internal/api"
	"github.com/kalambet/emobot/internal/config"
	"github.com/kalambet/emobot/internal/enrichment"
	"github.com/kalambet/emobot/internal/matching"
	"github.com/kalambet/emobot/internal/matchmaker"
	"github.com/kalambet/emobot/internal/profile"
)

func profilePath(identity string, parts ...string) string {
	return "/profiles/" + url.PathEscape(identity) + strings.Join(parts, "")
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "View and edit member profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <identity>",
	Short: "Show a member's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var p profile.Profile
		if err := client.get(cmd.Context(), profilePath(args[0]), &p); err != nil {
			return err
		}

		if asJSON {
			return printJSON(p)
		}
		printProfile(stdout, p)
		return nil
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add <identity> <category> <item...>",
	Short: "Add an item to a profile category (games, artists, interests)",
	Long: `Add an item to a profile category. The profile is created when absent and
members sharing enough interests are notified.

Examples:
  emobot profile add 123456789 games "Hollow Knight"
  emobot profile add 123456789 artists Bjork --name Ana`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if _, err := profile.ParseCategory(args[1]); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		req := api.ItemRequest{
			Category:    args[1],
			Item:        strings.Join(args[2:], " "),
			DisplayName: name,
		}
		var res matchmaker.AddResult
		if err := client.post(cmd.Context(), profilePath(args[0], "/items"), req, &res); err != nil {
			return err
		}

		if res.AlreadyPresent {
			printWarning("%q is already in %s", req.Item, req.Category)
			return nil
		}
		printSuccess("Added %q to %s", req.Item, req.Category)
		if res.Notifications > 0 {
			printStep("%d match notification(s) sent", res.Notifications)
		}
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <identity> <category> <item...>",
	Short: "Remove an item from a profile category",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := profile.ParseCategory(args[1]); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		item := strings.Join(args[2:], " ")
		q := url.Values{"category": {args[1]}, "item": {item}}
		if err := client.delete(cmd.Context(), profilePath(args[0], "/items?", q.Encode()), nil); err != nil {
			return err
		}
		printSuccess("Removed %q from %s", item, args[1])
		return nil
	},
}

var profileScanningCmd = &cobra.Command{
	Use:       "scanning <identity> on|off",
	Short:     "Enable or disable message scanning for a member",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseToggle(args[1])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		req := api.ScanningRequest{Enabled: &enabled, DisplayName: name}
		if err := client.put(cmd.Context(), profilePath(args[0], "/scanning"), req, nil); err != nil {
			return err
		}
		if enabled {
			printSuccess("Message scanning enabled")
		} else {
			printSuccess("Message scanning disabled")
		}
		return nil
	},
}

func parseToggle(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "enable", "enabled", "yes":
		return true, nil
	case "off", "false", "disable", "disabled", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid value %q: want on or off", s)
}

func init() {
	profileShowCmd.Flags().Bool("json", false, "print the profile as JSON")
	profileAddCmd.Flags().String("name", "", "display name to record for the member")
	profileScanningCmd.Flags().String("name", "", "display name to record for the member")
	profileCmd.AddCommand(profileShowCmd, profileAddCmd, profileRemoveCmd, profileScanningCmd)
}

// --- matches ---

var matchesCmd = &cobra.Command{
	Use:   "matches <identity>",
	Short: "List the members best matching a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var subject profile.Profile
		if err := client.get(cmd.Context(), profilePath(args[0]), &subject); err != nil {
			return err
		}
		var matches []matching.Match
		if err := client.get(cmd.Context(), profilePath(args[0], "/matches"), &matches); err != nil {
			return err
		}
		printMatches(stdout, subject, matches)
		return nil
	},
}

// --- enrich ---

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Control the enrichment cycle",
}

var enrichRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an enrichment cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if !wait {
			if err := client.post(cmd.Context(), "/enrichment/run", nil, nil); err != nil {
				return err
			}
			printSuccess("Enrichment cycle triggered")
			return nil
		}

		printStep("Running enrichment cycle...")
		var rep enrichment.Report
		if err := client.post(cmd.Context(), "/enrichment/run?wait=true", nil, &rep); err != nil {
			return err
		}
		printReport(stdout, rep)
		return nil
	},
}

var enrichStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the scheduler state and the last cycle report",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var st api.EnrichmentStatus
		if err := client.get(cmd.Context(), "/enrichment/status", &st); err != nil {
			return err
		}

		fmt.Fprintf(stdout, "state: %s\n", st.State)
		if st.LastReport == nil {
			fmt.Fprintln(stdout, "no cycle has completed yet")
			return nil
		}
		printReport(stdout, *st.LastReport)
		return nil
	},
}

func init() {
	enrichRunCmd.Flags().Bool("wait", false, "wait for the cycle and print its report")
	enrichCmd.AddCommand(enrichRunCmd, enrichStatusCmd)
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
		cfg, err := config.Read(configFile)
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		if err := cfg.Validate(); err != nil {
			printWarning("%v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a non-secret configuration value in the config file.\n\nKeys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		path := config.FilePath(configFile)

		if err := config.SetKey(path, key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s in %s", key, value, path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
