package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/output"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/session"
	"github.com/framescope/framescope/internal/ui"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Manage saved search sessions",
		Long: `A session keeps an object grid, its logic and object limit, modality
weights and the last text and tag query. Pass --session to search to use
and update one.`,
		Example: `  framescope session open lab
  framescope session grid add lab c3 person
  framescope session logic lab and
  framescope search --session lab "at night"`,
	}

	cmd.AddCommand(newSessionOpenCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionGridCmd())
	cmd.AddCommand(newSessionLogicCmd())
	cmd.AddCommand(newSessionMaxCmd())
	cmd.AddCommand(newSessionDeleteCmd())
	cmd.AddCommand(newSessionPruneCmd())

	return cmd
}

func openSessions() (*session.Manager, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	mgr, err := session.NewManager(cfg.SessionConfig())
	if err != nil {
		return nil, "", err
	}
	return mgr, cfg.Selection.User, nil
}

// updateSession loads the named session, applies fn and saves it.
func updateSession(cmd *cobra.Command, name string, fn func(*session.Session) error) error {
	mgr, _, err := openSessions()
	if err != nil {
		return err
	}
	sess, err := mgr.Get(name)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	if err := mgr.Save(sess); err != nil {
		return err
	}
	renderSession(cmd, sess)
	return nil
}

func newSessionOpenCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "open <name>",
		Short: "Create a session, or show it if it exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, defaultUser, err := openSessions()
			if err != nil {
				return err
			}
			if user == "" {
				user = defaultUser
			}
			sess, err := mgr.Open(args[0], user)
			if err != nil {
				return err
			}
			renderSession(cmd, sess)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "Session owner (default from config)")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openSessions()
			if err != nil {
				return err
			}
			sess, err := mgr.Get(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.New(cmd.OutOrStdout()).JSON(sess)
			}
			renderSession(cmd, sess)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, most recently used first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, err := openSessions()
			if err != nil {
				return err
			}
			infos, err := mgr.List()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(infos)
			}
			if len(infos) == 0 {
				out.Status("", "No sessions")
				return nil
			}
			for _, info := range infos {
				out.Statusf("", "%-20s %-12s %2d objects  %-10s %s",
					info.Name, info.User, info.Objects,
					ui.FormatAge(info.LastUsed), ui.FormatBytes(info.Size))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newSessionGridCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Edit a session's object grid",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <cell> <category>",
		Short: "Place a category on a cell (e.g. c3 person)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cell, err := frame.ParseCell(args[1])
			if err != nil {
				return err
			}
			cat, ok := frame.ParseCategory(args[2])
			if !ok {
				return fmt.Errorf("unknown category %q", args[2])
			}
			return updateSession(cmd, args[0], func(s *session.Session) error {
				return s.Grid.Add(cell, cat)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <name> <cell>",
		Short: "Empty a cell",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cell, err := frame.ParseCell(args[1])
			if err != nil {
				return err
			}
			return updateSession(cmd, args[0], func(s *session.Session) error {
				s.Grid.Remove(cell)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <name>",
		Short: "Empty every cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateSession(cmd, args[0], func(s *session.Session) error {
				s.Grid.Clear()
				return nil
			})
		},
	})

	return cmd
}

func newSessionLogicCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "logic <name> <and|or>",
		Short:     "Set how grid cells combine",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"and", "or"},
		RunE: func(cmd *cobra.Command, args []string) error {
			logic, err := query.ParseLogic(args[1])
			if err != nil {
				return err
			}
			return updateSession(cmd, args[0], func(s *session.Session) error {
				return s.Grid.SetLogic(logic)
			})
		},
	}
}

func newSessionMaxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "max <name> <n>",
		Short: "Limit the objects a frame may hold (0 = no limit)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid object limit %q", args[1])
			}
			return updateSession(cmd, args[0], func(s *session.Session) error {
				return s.Grid.SetMaxObjects(n)
			})
		},
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openSessions()
			if err != nil {
				return err
			}
			if err := mgr.Delete(args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("deleted session %s", args[0])
			return nil
		},
	}
}

func newSessionPruneCmd() *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions unused for a while",
		RunE: func(cmd *cobra.Command, _ []string) error {
			age, err := parseAge(olderThan)
			if err != nil {
				return err
			}
			mgr, _, err := openSessions()
			if err != nil {
				return err
			}
			n, err := mgr.Prune(age)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("pruned %d sessions", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "30d", "Age threshold, e.g. 12h or 7d")
	return cmd
}

// parseAge parses a duration that may use a "d" (days) suffix.
func parseAge(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}

func renderSession(cmd *cobra.Command, sess *session.Session) {
	out := output.New(cmd.OutOrStdout())
	out.Section("Session " + sess.Name)
	out.KV("user", sess.User)
	out.KV("weights", fmt.Sprintf("text %.2f, object %.2f, tag %.2f",
		sess.Weights.Text, sess.Weights.Object, sess.Weights.Tag))
	if sess.LastText != "" {
		out.KV("last text", sess.LastText)
	}
	if sess.LastTag != "" {
		out.KV("last tag", sess.LastTag)
	}

	logic := sess.Grid.Logic
	if logic == "" {
		logic = query.LogicOR
	}
	grid := fmt.Sprintf("%d cells, %s", sess.Grid.Len(), logic)
	if sess.Grid.MaxObjects > 0 {
		grid += fmt.Sprintf(", at most %d objects", sess.Grid.MaxObjects)
	}
	out.KV("grid", grid)

	cells := make([]string, 0, sess.Grid.Len())
	for cell, cat := range sess.Grid.Cells {
		cells = append(cells, cell.String()+"="+string(cat))
	}
	sort.Strings(cells)
	for _, c := range cells {
		out.Status("", "  "+c)
	}
}
