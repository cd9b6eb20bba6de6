package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/config"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

func init() {
	rootCmd.AddCommand(stateCmd, adventureCmd)
	stateCmd.AddCommand(stateShowCmd, stateHistoryCmd, statePruneCmd, stateBackupsCmd)
	stateHistoryCmd.Flags().String("thread", "", "thread id within the channel")
	statePruneCmd.Flags().Bool("dry-run", false, "report what would be pruned without writing")
	adventureCmd.AddCommand(adventureShowCmd)
}

// openState loads the state file without starting a server. Unlike serve it
// never quarantines a corrupt file.
func openState(cfg *config.Config) (*stores, error) {
	st := newStores(cfg, afero.NewOsFs())
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Persistence.IOTimeoutSeconds)*time.Second)
	defer cancel()
	doc, err := st.file.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.snap.Restore(doc); err != nil {
		return nil, err
	}
	return st, nil
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect the saved conversation state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List saved conversation contexts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st, err := openState(cfg)
		if err != nil {
			return err
		}

		g := st.settings.Global()
		fmt.Printf("%s %s\n", headerText("State file:"), st.file.Path())
		fmt.Printf("%s %s, %d messages, %dh window\n\n", headerText("Global:"), g.Model, g.MaxMessages, g.WindowHours)

		list := st.contexts.List()
		if len(list) == 0 {
			fmt.Println("No conversations saved.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONTEXT\tNAME\tMESSAGES\tLAST ACTIVITY")
		for _, s := range list {
			last := "-"
			if !s.Newest.IsZero() {
				last = s.Newest.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Key, s.Name, s.MessageCount, last)
		}
		return w.Flush()
	},
}

var stateHistoryCmd = &cobra.Command{
	Use:   "history <channel>",
	Short: "Print the saved history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		thread, _ := cmd.Flags().GetString("thread")
		cfg := loadConfig()
		st, err := openState(cfg)
		if err != nil {
			return err
		}

		key := types.ChannelKey(args[0])
		if thread != "" {
			key = types.ThreadKey(args[0], thread)
		}
		if !st.contexts.Exists(key) {
			return fmt.Errorf("no conversation for %s", key)
		}
		for _, m := range st.contexts.History(key) {
			who := string(m.Role)
			if m.Author != "" {
				who = m.Author
			}
			fmt.Printf("%s %s: %s\n", dimText(m.Timestamp.Local().Format("01-02 15:04")), keyText(who), m.Content)
		}
		return nil
	},
}

var statePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy to the saved state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		cfg := loadConfig()
		if !dryRun {
			if pid, err := readPID(cfg); err == nil {
				return fmt.Errorf("server is running (PID %d); its next save would overwrite the pruned file", pid)
			}
		}
		st, err := openState(cfg)
		if err != nil {
			return err
		}

		idle := time.Duration(cfg.Memory.ThreadIdleDays) * 24 * time.Hour
		report := st.contexts.PruneAll(st.settings.Limits, idle)
		fmt.Printf("%d contexts, %d messages dropped, %d idle threads removed\n",
			report.Contexts, report.Dropped, report.ThreadsRemoved)
		if dryRun {
			fmt.Println(warnText("dry run: nothing written"))
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Persistence.IOTimeoutSeconds)*time.Second)
		defer cancel()
		if err := st.file.Save(ctx, st.snap.Snapshot()); err != nil {
			return err
		}
		fmt.Println(okText("✓"), "State saved.")
		return nil
	},
}

var stateBackupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List state file backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st := newStores(loadConfig(), afero.NewOsFs())
		names, err := st.file.Backups()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No backups.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var adventureCmd = &cobra.Command{
	Use:   "adventure",
	Short: "Inspect saved adventures",
}

var adventureShowCmd = &cobra.Command{
	Use:   "show <channel>",
	Short: "Print a channel's adventure and scene log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st, err := openState(cfg)
		if err != nil {
			return err
		}
		s, ok := st.adventures.Get(args[0])
		if !ok {
			return fmt.Errorf("no adventure in channel %s", args[0])
		}

		state := string(s.State)
		if s.State == adventure.StateActive {
			state = okText(state)
		}
		fmt.Printf("%s %s (%s)\n", headerText("Adventure:"), s.Premise(), state)
		fmt.Printf("Setting %s, %d turns, running %s\n", s.Setting, s.TurnCount, adventure.FormatDuration(s.Duration(time.Now())))
		if s.ImageFrequency > 0 {
			fmt.Printf("Scene image every %d turns\n", s.ImageFrequency)
		}
		fmt.Println()
		for _, e := range s.SceneLog {
			actor := e.Actor
			if actor == "" {
				actor = strings.ToUpper(string(e.Kind))
			}
			fmt.Printf("%s %s\n", keyText(actor+":"), e.Narrative)
		}
		return nil
	},
}
