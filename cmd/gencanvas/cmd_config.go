package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/gencanvas/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
	configListCmd.Flags().Bool("show-secrets", false, "print secret values unmasked")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change settings",
}

var configListCmd = &cobra.Command{
	Use:   "list [section]",
	Short: "List effective settings, optionally one section (storage, gemini, preferences)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showSecrets, _ := cmd.Flags().GetBool("show-secrets")
		values, err := config.ListValues(loadConfig(), !showSecrets)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE")
		shown := 0
		for _, k := range config.Keys() {
			if len(args) == 1 && !strings.HasPrefix(k, args[0]+".") {
				continue
			}
			fmt.Fprintf(w, "%s\t%v\n", k, values[k])
			shown++
		}
		if shown == 0 {
			return fmt.Errorf("no settings under %q", args[0])
		}
		return w.Flush()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		if config.IsSecretKey(args[0]) {
			val = config.Mask(val)
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting in the config file",
	Long: "Change one setting in the config file. The value is parsed as the key's type.\n" +
		"A running server applies preference changes without a restart.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		prev, err := config.GetValue(cfgPath, key)
		if err != nil {
			return err
		}
		if err := config.SetValue(cfgPath, key, args[1]); err != nil {
			return err
		}
		next, err := config.GetValue(cfgPath, key)
		if err != nil {
			return err
		}
		if config.IsSecretKey(key) {
			prev, next = config.Mask(prev), config.Mask(next)
		}
		fmt.Fprintf(os.Stdout, "%s: %v -> %v\n", key, prev, next)
		return nil
	},
}
