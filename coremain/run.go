package coremain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	C "github.com/pmkol/rdapx/constant"
	"github.com/pmkol/rdapx/mlog"
	"github.com/pmkol/rdapx/pkg/batch"
	"github.com/pmkol/rdapx/pkg/rdap"
)

// globalFlags are shared by every command that builds an Rdapx.
type globalFlags struct {
	c   string
	dir string
	cpu int
}

type serverFlags struct {
	globalFlags
	asService bool
}

type outputFlags struct {
	format string
}

var rootCmd = &cobra.Command{
	Use:     "rdapx",
	Short:   "RDAP client and query gateway.",
	Version: C.Version,
}

func init() {
	gf := new(globalFlags)
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&gf.c, "config", "c", "", "config file")
	pf.StringVarP(&gf.dir, "dir", "d", "", "working dir")
	pf.IntVar(&gf.cpu, "cpu", 0, "set runtime.GOMAXPROCS")

	sf := &serverFlags{}
	serveCmd := &cobra.Command{
		Use:   "serve [-c config_file] [-d working_dir]",
		Short: "Start the http query api.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sf.globalFlags = *gf
			if sf.asService {
				svc, err := service.New(&serverService{f: sf}, svcCfg)
				if err != nil {
					return fmt.Errorf("failed to init service, %w", err)
				}
				return svc.Run()
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return StartServer(ctx, sf)
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	serveCmd.Flags().BoolVar(&sf.asService, "as-service", false, "start as a service")
	serveCmd.Flags().MarkHidden("as-service")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(newQueryCmd(gf), newBatchCmd(gf), newBootstrapCmd(gf))

	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage rdapx as a system service.",
	}
	serviceCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		sf.globalFlags = *gf
		return initService(sf)
	}
	serviceCmd.AddCommand(
		newSvcInstallCmd(sf),
		newSvcUninstallCmd(),
		newSvcStartCmd(),
		newSvcStopCmd(),
		newSvcRestartCmd(),
		newSvcStatusCmd(),
	)
	rootCmd.AddCommand(serviceCmd)
}

func AddSubCmd(c *cobra.Command) {
	rootCmd.AddCommand(c)
}

func Run() error {
	return rootCmd.Execute()
}

func newQueryCmd(gf *globalFlags) *cobra.Command {
	of := new(outputFlags)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query a single object.",
	}
	cmd.PersistentFlags().StringVarP(&of.format, "output", "o", "json", "output format, json or yaml")

	sub := func(t rdap.QueryType, use, short string) *cobra.Command {
		return &cobra.Command{
			Use:          use,
			Short:        short,
			Args:         cobra.ExactArgs(1),
			SilenceUsage: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRdapx(gf, func(m *Rdapx) error {
					r, err := m.GetClient().Query(cmd.Context(), t, args[0])
					if err != nil {
						return err
					}
					return writeOutput(cmd.OutOrStdout(), of.format, r)
				})
			},
		}
	}
	cmd.AddCommand(
		sub(rdap.TypeDomain, "domain <name>", "Query a domain name."),
		sub(rdap.TypeIP, "ip <address>", "Query an ip network."),
		sub(rdap.TypeASN, "asn <number>", "Query an autonomous system number."),
	)
	return cmd
}

func newBatchCmd(gf *globalFlags) *cobra.Command {
	of := new(outputFlags)
	var (
		file            string
		concurrency     int
		continueOnError bool
	)
	cmd := &cobra.Command{
		Use:          "batch -f requests.yaml",
		Short:        "Run a list of queries from a yaml or json file.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open request file, %w", err)
			}
			reqs, err := batch.LoadRequests(f)
			f.Close()
			if err != nil {
				return err
			}

			return withRdapx(gf, func(m *Rdapx) error {
				opts := batch.Options{
					Concurrency:     m.cfg.Batch.Concurrency,
					ContinueOnError: m.cfg.Batch.ContinueOnError,
				}
				if cmd.Flags().Changed("concurrency") {
					opts.Concurrency = concurrency
				}
				if cmd.Flags().Changed("continue-on-error") {
					opts.ContinueOnError = continueOnError
				}
				results, perr := m.GetBatch().Process(cmd.Context(), reqs, opts)
				if err := writeOutput(cmd.OutOrStdout(), of.format, newResultViews(results)); err != nil {
					return err
				}
				return perr
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&file, "file", "f", "", "request file")
	fs.IntVar(&concurrency, "concurrency", 0, "max queries in flight")
	fs.BoolVar(&continueOnError, "continue-on-error", false, "keep going after a failed query")
	fs.StringVarP(&of.format, "output", "o", "json", "output format, json or yaml")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newBootstrapCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Inspect the IANA bootstrap registries.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:          "warm",
		Short:        "Download every bootstrap table and print a summary.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRdapx(gf, func(m *Rdapx) error {
				d := m.GetDiscovery()
				if err := d.Warm(cmd.Context()); err != nil {
					return err
				}
				return writeTableSummary(cmd.Context(), cmd.OutOrStdout(), d)
			})
		},
	})
	return cmd
}

// prepare applies the global flags and loads the config.
func prepare(gf *globalFlags) (*Config, *zap.Logger, error) {
	if gf.cpu > 0 {
		runtime.GOMAXPROCS(gf.cpu)
	}

	if len(gf.dir) > 0 {
		err := os.Chdir(gf.dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to change the current working directory, %w", err)
		}
		mlog.L().Info("working directory changed", zap.String("path", gf.dir))
	}

	cfg, fileUsed, err := loadConfig(gf.c)
	if err != nil {
		return nil, nil, fmt.Errorf("fail to load config, %w", err)
	}

	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	mlog.SetLogger(lg)
	if len(fileUsed) > 0 {
		lg.Debug("config loaded", zap.String("file", fileUsed))
	}
	return cfg, lg, nil
}

func withRdapx(gf *globalFlags, f func(m *Rdapx) error) error {
	cfg, lg, err := prepare(gf)
	if err != nil {
		return err
	}
	defer lg.Sync()

	m, err := NewRdapx(cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			lg.Warn("failed to close components", zap.Error(err))
		}
	}()
	return f(m)
}

func StartServer(ctx context.Context, sf *serverFlags) error {
	return withRdapx(&sf.globalFlags, func(m *Rdapx) error {
		m.logger.Info("starting api server", zap.String("addr", m.cfg.API.HTTP))
		if err := m.Serve(ctx); err != nil {
			return fmt.Errorf("rdapx exited, %w", err)
		}
		m.logger.Info("api server stopped")
		return nil
	})
}

// loadConfig load a config from a file. If filePath is empty, it will
// automatically search and load a file which name start with "config".
// A missing config in that case is not an error, defaults are used.
func loadConfig(filePath string) (*Config, string, error) {
	v := viper.New()

	if len(filePath) > 0 {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("RDAPX")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if len(filePath) > 0 || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	}

	decoderOpt := func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
		cfg.TagName = "yaml"
		cfg.WeaklyTypedInput = true
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, v.ConfigFileUsed(), nil
}
