package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
)

func init() {
	rootCmd.AddCommand(rollCmd)
}

var rollCmd = &cobra.Command{
	Use:     "roll <dice> [reason]",
	Short:   "Roll dice, e.g. 2d6+1",
	Example: "  gideon roll 1d20+2 initiative",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := adventure.Roll(args[0], adventure.DefaultRoller)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s: %s", keyText(r.Spec.String()), r.Breakdown())
		if len(args) > 1 {
			line += dimText(" (" + strings.Join(args[1:], " ") + ")")
		}
		fmt.Println(line)
		return nil
	},
}
