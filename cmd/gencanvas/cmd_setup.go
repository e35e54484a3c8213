package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/gencanvas/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("gencanvas setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Gemini.APIKey = prompt(scanner, "Gemini API key", cfg.Gemini.APIKey)
		cfg.Gemini.Model = prompt(scanner, "Image model", cfg.Gemini.Model)
		cfg.Gemini.AnalysisModel = prompt(scanner, "Analysis model", cfg.Gemini.AnalysisModel)
		cfg.Storage.Canvas = prompt(scanner, "Canvas storage (json, sqlite)", cfg.Storage.Canvas)
		cfg.Storage.Blobs = prompt(scanner, "Image storage (local, redis, inline)", cfg.Storage.Blobs)
		if cfg.Storage.Blobs == "redis" {
			cfg.Storage.RedisAddr = prompt(scanner, "Redis address", cfg.Storage.RedisAddr)
		}
		cfg.Preferences.ContinueMode = prompt(scanner, "Continue mode (single, multi)", cfg.Preferences.ContinueMode)
		cfg.Normalize()

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
