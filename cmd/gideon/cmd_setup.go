package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Emperor-Ovaltine/gideon/internal/config"
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

		fmt.Println(headerText("Gideon Setup Wizard"))
		fmt.Println(dimText("Press Enter to accept the default value shown in brackets."))
		fmt.Println()

		cfg.LLM.BaseURL = ask(scanner, "LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = askSecret(scanner, "LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = ask(scanner, "Default model", cfg.LLM.Model)
		cfg.Memory.MaxMessages = askInt(scanner, "Messages kept per conversation (5-100)", cfg.Memory.MaxMessages)
		cfg.Memory.WindowHours = askInt(scanner, "Memory window in hours (1-96)", cfg.Memory.WindowHours)
		cfg.Telegram.Token = askSecret(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.Image.URL = ask(scanner, "Image worker URL (optional)", cfg.Image.URL)
		if cfg.Image.URL != "" {
			cfg.Image.APIKey = askSecret(scanner, "Image worker API key", cfg.Image.APIKey)
			cfg.Adventure.ImageFrequency = askInt(scanner, "Adventure scene image every N turns (0 = off)", cfg.Adventure.ImageFrequency)
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println(okText("✓"), "Configuration saved to", cfgPath)
		return nil
	},
}

// ask displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func ask(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", keyText(label), defaultVal)
	} else {
		fmt.Printf("%s: ", keyText(label))
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}

// askSecret is ask with the default masked.
func askSecret(scanner *bufio.Scanner, label, defaultVal string) string {
	shown := ""
	if defaultVal != "" {
		shown = "***"
	}
	if v := ask(scanner, label, shown); v != shown {
		return v
	}
	return defaultVal
}

func askInt(scanner *bufio.Scanner, label string, defaultVal int) int {
	raw := ask(scanner, label, strconv.Itoa(defaultVal))
	n, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Println(warnText("  not a number, keeping"), defaultVal)
		return defaultVal
	}
	return n
}
