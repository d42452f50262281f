package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sheetmail/internal/app"
	"sheetmail/internal/config"
)

type rootFlags struct {
	config   string
	envFiles []string
	logLevel string
}

func (f *rootFlags) newApp(opts ...app.Option) (*app.App, error) {
	if err := config.LoadDotEnv(f.envFiles...); err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		opts = append(opts, app.WithLogLevel(f.logLevel))
	}
	return app.New(f.config, opts...)
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "sheetmail",
		Short:         "Paced per-group mail dispatch from a spreadsheet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "./config.yaml", "path to config (yaml or json)")
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config (missing files are skipped)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		newServeCommand(flags),
		newSendCommand(flags),
		newGroupsCommand(flags),
		newTemplatesCommand(flags),
		newHistoryCommand(flags),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
