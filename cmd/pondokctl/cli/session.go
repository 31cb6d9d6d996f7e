package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pondok-erp/pondok-erp/internal/client"
	"github.com/pondok-erp/pondok-erp/internal/menu"
	"github.com/pondok-erp/pondok-erp/internal/session"
)

// endedNotice is printed when the heartbeat sees the session revoked.
const endedNotice = "Session ended elsewhere: this token was revoked or signed in on another device. Please log in again."

func newLoginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(username) == "" {
				return errors.New("--username is required")
			}
			if password == "" {
				line, err := readLine(a.stdin)
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = line
			}
			file, err := a.stateFile()
			if err != nil {
				return err
			}
			server := a.serverFor(client.State{})
			c := client.New(server, client.Options{Timeout: a.timeout})
			res, err := c.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := file.Save(client.State{Server: server, Token: res.Token, User: res.User}); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(a.stdout, "Logged in as %s (%s)\n", res.User.Username, res.User.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&password, "password", "p", envOr("PONDOK_PASSWORD", ""), "account password (read from stdin when empty)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved session and forget it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, file, err := a.session()
			if errors.Is(err, client.ErrNoState) {
				fmt.Fprintln(a.stdout, "Not logged in")
				return nil
			}
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				fmt.Fprintf(a.stderr, "server logout failed: %v\n", err)
			}
			if err := file.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Logged out")
			return nil
		},
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "sessions",
		Short:   "List session records",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, st, _, err := a.session()
			if err != nil {
				return err
			}
			list, err := c.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.stdout, list)
			}
			return writeSessions(a.stdout, list, st.Token)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newRevokeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke TOKEN",
		Short: "Force another session to end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, _, err := a.session()
			if err != nil {
				return err
			}
			if err := c.Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Revoked")
			return nil
		},
	}
}

func newCanCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "can PATH",
		Short: "Show what the signed-in user may do on a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, _, err := a.session()
			if err != nil {
				return err
			}
			caps, err := c.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.stdout, caps)
			}
			fmt.Fprintf(a.stdout, "%s\tedit=%s\tdelete=%s\n", args[0], yesNo(caps.CanEdit), yesNo(caps.CanDelete))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newMenuCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Print the navigation visible to the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, _, err := a.session()
			if err != nil {
				return err
			}
			nodes, err := c.Menu(cmd.Context())
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				fmt.Fprintln(a.stdout, "No menu entries")
				return nil
			}
			tree, err := menu.NewTree(nodes)
			if err != nil {
				return err
			}
			for _, e := range tree.Flatten() {
				fmt.Fprintf(a.stdout, "%s%s", strings.Repeat("  ", e.Depth), e.Label)
				if e.Leaf {
					fmt.Fprintf(a.stdout, "  %s", e.Path)
				}
				fmt.Fprintln(a.stdout)
			}
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep checking the saved session and log out when it ends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, st, file, err := a.session()
			if err != nil {
				return err
			}
			onEnd := func(error) {
				// laporkan token ke server walau sesi sudah berakhir di sana
				if err := c.Logout(cmd.Context()); err != nil {
					fmt.Fprintf(a.stderr, "logout: %v\n", err)
				}
				if err := file.Clear(); err != nil {
					fmt.Fprintf(a.stderr, "clear session: %v\n", err)
				}
				fmt.Fprintln(a.stdout, endedNotice)
			}
			hb := session.NewHeartbeat(c, st.Token, interval, onEnd, a.logger())
			err = hb.Run(cmd.Context())
			if errors.Is(err, session.ErrSessionEnded) || cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", session.DefaultHeartbeatInterval, "check interval")
	return cmd
}

func writeSessions(w io.Writer, list []session.Session, current string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tUSERNAME\tROLE\tSTATUS\tCREATED")
	for _, s := range list {
		mark := ""
		if s.Token == current {
			mark = "*"
		}
		created := ""
		if !s.CreatedAt.IsZero() {
			created = s.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", mark, s.ID, s.Username, s.Role, s.Status, created)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
