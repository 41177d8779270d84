// Command orchestrator answers questions by planning and running tool calls
// against MCP tool servers.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/cmd", "orchestrator")

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFiles   []string
	model      string
	static     bool
	live       bool
	offline    bool
	trace      bool
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Answer questions with tools served over MCP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(flags.logLevel)
			if err != nil {
				return err
			}
			xlog.SetFormatter(xlog.NewStringFormatter(cmd.ErrOrStderr()))
			xlog.SetGlobalLogLevel(level)
			if flags.static && flags.live {
				return errors.New("--static and --live are mutually exclusive")
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "configuration file (.yaml or .toml)")
	pf.StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the configuration")
	pf.StringVarP(&flags.model, "model", "m", "", "model name, overrides configuration and OPENAI_MODEL")
	pf.BoolVar(&flags.static, "static", false, "use the static tool catalog for remote servers")
	pf.BoolVar(&flags.live, "live", false, "list tools from every server")
	pf.BoolVar(&flags.offline, "offline", false, "run without a language model")
	pf.BoolVar(&flags.trace, "trace", false, "print pipeline events to stderr")
	pf.StringVar(&flags.logLevel, "log-level", "warning", "log level: critical, error, warning, notice, info, debug, trace")

	root.AddCommand(
		newAskCommand(flags),
		newRouteCommand(flags),
		newPlanCommand(flags),
		newToolsCommand(flags),
	)
	return root
}

var logLevels = map[string]xlog.LogLevel{
	"critical": xlog.CRITICAL,
	"error":    xlog.ERROR,
	"warning":  xlog.WARNING,
	"warn":     xlog.WARNING,
	"notice":   xlog.NOTICE,
	"info":     xlog.INFO,
	"debug":    xlog.DEBUG,
	"trace":    xlog.TRACE,
}

func parseLevel(s string) (xlog.LogLevel, error) {
	level, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, errors.Newf("unknown log level %q", s)
	}
	return level, nil
}
