// Package cli implements the pondokctl commands.
package cli

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pondok-erp/pondok-erp/internal/client"
)

const (
	envServer = "PONDOK_SERVER"
	envState  = "PONDOK_STATE"
	envRedis  = "REDIS_ADDR"

	defaultServer = "http://localhost:8080"
)

type app struct {
	server    string
	statePath string
	redisAddr string
	timeout   time.Duration

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds pondokctl wired to the process streams.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{stdin: in, stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "pondokctl",
		Short:         "Command line client for the pondok admin server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.server, "server", envOr(envServer, ""), "server base URL (default from saved session or "+defaultServer+")")
	flags.StringVar(&a.statePath, "state", envOr(envState, ""), "session state file (default under the user config dir)")
	flags.StringVar(&a.redisAddr, "redis", envOr(envRedis, "127.0.0.1:6379"), "Redis address for job commands")
	flags.DurationVar(&a.timeout, "timeout", 15*time.Second, "HTTP timeout")

	cmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newSessionsCmd(a),
		newRevokeCmd(a),
		newCanCmd(a),
		newMenuCmd(a),
		newWatchCmd(a),
		newJobsCmd(a),
	)
	return cmd
}

func (a *app) stateFile() (*client.StateFile, error) {
	return client.NewStateFile(a.statePath)
}

// serverFor picks the flag value, then the saved server, then the default.
func (a *app) serverFor(st client.State) string {
	switch {
	case a.server != "":
		return a.server
	case st.Server != "":
		return st.Server
	default:
		return defaultServer
	}
}

// session loads saved state and returns a client holding its token.
func (a *app) session() (*client.Client, client.State, *client.StateFile, error) {
	file, err := a.stateFile()
	if err != nil {
		return nil, client.State{}, nil, err
	}
	st, err := file.Load()
	if err != nil {
		return nil, client.State{}, file, err
	}
	c := client.New(a.serverFor(st), client.Options{Timeout: a.timeout, Token: st.Token})
	return c, st, file, nil
}

func (a *app) logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
