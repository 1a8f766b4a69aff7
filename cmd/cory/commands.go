package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/cory/internal/api"
	"github.com/kalambet/cory/internal/config"
	"github.com/kalambet/cory/internal/creature"
	"github.com/kalambet/cory/internal/explore"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- creatures ---

var creaturesCmd = &cobra.Command{
	Use:     "creatures",
	Aliases: []string{"c"},
	Short:   "Browse and manage the collection",
}

var creaturesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every creature",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listCreatures(cmd.Context(), client, cmd.OutOrStdout())
	},
}

func listCreatures(ctx context.Context, client *apiClient, w io.Writer) error {
	resp, err := client.get(ctx, "/creatures")
	if err != nil {
		return err
	}
	var all []creature.Record
	if err := decodeJSON(resp, &all); err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(w, "No creatures yet.")
		return nil
	}
	for _, c := range all {
		printCreature(w, c)
	}
	return nil
}

var creaturesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a creature as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/creatures/"+args[0])
		if err != nil {
			return err
		}
		var rec creature.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var creaturesRepresentCmd = &cobra.Command{
	Use:   "represent <id>",
	Short: "Make a creature your companion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/creatures/"+args[0]+"/representative", nil)
		if err != nil {
			return err
		}
		var rec creature.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		printSuccess("%s is now your companion", rec.Name)
		return nil
	},
}

var creaturesRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a creature",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(strings.Join(args[1:], " "))
		if name == "" {
			return fmt.Errorf("name is required")
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/creatures/"+args[0], map[string]string{"name": name})
		if err != nil {
			return err
		}
		var rec creature.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		printSuccess("Renamed to %s", rec.Name)
		return nil
	},
}

func init() {
	creaturesCmd.AddCommand(creaturesListCmd)
	creaturesCmd.AddCommand(creaturesShowCmd)
	creaturesCmd.AddCommand(creaturesRepresentCmd)
	creaturesCmd.AddCommand(creaturesRenameCmd)
}

// --- explore ---

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Send a creature out exploring",
}

var exploreStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an exploration, optionally from a photo",
	Long: `Start an exploration. With --photo the new creature is designed from the
photo; without one a surprise creature comes back.

Examples:
  cory explore start --photo ./beach.jpg
  cory explore start`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		photo, _ := cmd.Flags().GetString("photo")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return startExploration(cmd.Context(), client, photo)
	},
}

func startExploration(ctx context.Context, client *apiClient, photoPath string) error {
	var resp *http.Response
	if photoPath != "" {
		data, err := os.ReadFile(photoPath)
		if err != nil {
			return fmt.Errorf("reading photo: %w", err)
		}
		mime := http.DetectContentType(data)
		if !strings.HasPrefix(mime, "image/") {
			return fmt.Errorf("%s is not an image (%s)", photoPath, mime)
		}
		resp, err = client.upload(ctx, "/explorations", "photo", filepath.Base(photoPath), mime, data)
		if err != nil {
			return err
		}
	} else {
		var err error
		resp, err = client.post(ctx, "/explorations", nil)
		if err != nil {
			return err
		}
	}

	var v api.ExplorationView
	if err := decodeJSON(resp, &v); err != nil {
		return err
	}
	printSuccess("Exploration started, back in %s", formatRemaining(v.DurationSeconds))
	return nil
}

var exploreStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current exploration",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/explorations/current")
		if err != nil {
			return err
		}
		var v api.ExplorationView
		if err := decodeJSON(resp, &v); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if v.State != explore.Exploring {
			fmt.Fprintln(w, "Not exploring.")
			return nil
		}
		fmt.Fprintf(w, "Exploring, back in %s\n", formatRemaining(v.RemainingSeconds))
		if v.Photo != nil {
			fmt.Fprintf(w, "  photo: %s\n", v.Photo.Name)
		}
		if v.ProducedID != "" {
			fmt.Fprintf(w, "  found: %s\n", v.ProducedID)
		}
		return nil
	},
}

var exploreCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Call the explorer back early",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/explorations/current")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Exploration cancelled")
		return nil
	},
}

func init() {
	exploreStartCmd.Flags().String("photo", "", "photo to design the creature from")
	exploreCmd.AddCommand(exploreStartCmd)
	exploreCmd.AddCommand(exploreStatusCmd)
	exploreCmd.AddCommand(exploreCancelCmd)
}

// --- talk ---

var talkCmd = &cobra.Command{
	Use:   "talk <message>",
	Short: "Say something to your companion",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return talk(cmd.Context(), client, cmd.OutOrStdout(), strings.Join(args, " "))
	},
}

func talk(ctx context.Context, client *apiClient, w io.Writer, message string) error {
	resp, err := client.post(ctx, "/chat", api.ChatRequest{Message: message})
	if err != nil {
		return err
	}
	var reply api.ChatReply
	if err := decodeJSON(resp, &reply); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, reply.Name+":"), reply.Reply)
	return nil
}

// --- notices ---

var noticesCmd = &cobra.Command{
	Use:   "notices",
	Short: "Show recent notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetInt64("since")
		markRead, _ := cmd.Flags().GetBool("mark-read")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/notifications?since=%d", since))
		if err != nil {
			return err
		}
		var list api.NotificationList
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(list.Notices) == 0 {
			fmt.Fprintln(w, "No notifications.")
		}
		for _, n := range list.Notices {
			fmt.Fprintf(w, "%s  %s  %s\n", colorize(colorCyan, fmt.Sprintf("#%d", n.ID)), n.At.Local().Format("15:04:05"), n.Message)
		}

		if markRead && list.HasUnread {
			resp, err := client.post(cmd.Context(), "/notifications/read", nil)
			if err != nil {
				return err
			}
			return decodeJSON(resp, nil)
		}
		return nil
	},
}

func init() {
	noticesCmd.Flags().Int64("since", 0, "only show notices after this id")
	noticesCmd.Flags().Bool("mark-read", false, "mark notices as read")
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Export or reset account data",
}

var dataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the account, creatures and conversation as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/export")
		if err != nil {
			return err
		}
		var export json.RawMessage
		if err := decodeJSON(resp, &export); err != nil {
			return err
		}

		if output == "" {
			return printJSON(cmd.OutOrStdout(), export)
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		if err := printJSON(f, export); err != nil {
			return err
		}
		printSuccess("Data exported to %s", output)
		return nil
	},
}

var dataResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every creature and start over",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL creatures and the conversation. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/account/reset", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Account reset")
		return nil
	},
}

func init() {
	dataExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	dataResetCmd.Flags().Bool("confirm", false, "confirm data reset")
	dataCmd.AddCommand(dataExportCmd)
	dataCmd.AddCommand(dataResetCmd)
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

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# %s\n", config.ConfigFilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
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
