package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vitebski/mysql-model-detector/internal/analyzer"
	"github.com/vitebski/mysql-model-detector/internal/connector"
	"github.com/vitebski/mysql-model-detector/internal/detector"
	"github.com/vitebski/mysql-model-detector/internal/errs"
	"github.com/vitebski/mysql-model-detector/internal/inference"
	"github.com/vitebski/mysql-model-detector/internal/server"
	"github.com/vitebski/mysql-model-detector/internal/store"
	"github.com/vitebski/mysql-model-detector/internal/utils"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

type options struct {
	host        string
	user        string
	password    string
	database    string
	port        string
	name        string
	envFile     string
	logLevel    string
	apiURL      string
	apiToken    string
	concurrency int
}

// app holds what every subcommand needs once flags and environment are resolved
type app struct {
	opts     *options
	logger   *logrus.Logger
	registry *connector.Registry
}

func (a *app) connectionConfig() models.ConnectionConfig {
	return connector.NewConnectionConfig(a.opts.name, a.opts.host, a.opts.user, a.opts.password, a.opts.database, a.opts.port)
}

func (a *app) scanner() *analyzer.Scanner {
	scanner := analyzer.NewScanner(a.registry, a.logger)
	scanner.ColumnConcurrency = a.opts.concurrency
	return scanner
}

func (a *app) storeClient() *store.Client {
	if a.opts.apiURL == "" {
		return nil
	}
	return store.NewClient(store.Config{
		BaseURL:    a.opts.apiURL,
		Token:      a.opts.apiToken,
		Timeout:    time.Duration(utils.GetEnvInt("MODEL_API_TIMEOUT_MS", 10000)) * time.Millisecond,
		Retries:    utils.GetEnvInt("MODEL_API_RETRIES", store.DefaultRetries),
		RetryDelay: time.Duration(utils.GetEnvInt("MODEL_API_RETRY_DELAY_MS", 1000)) * time.Millisecond,
	}, a.logger)
}

func (a *app) validConnection() (models.ConnectionConfig, error) {
	cfg := a.connectionConfig()
	if !utils.ValidateConnectionParams(cfg, a.logger) {
		return cfg, errors.New("invalid connection parameters")
	}
	return cfg, nil
}

// requirements lists the environment cmd needs that no flag on the command line already supplies
func requirements(cmd *cobra.Command) []utils.Requirement {
	var required []utils.Requirement
	switch cmd.Name() {
	case "test", "scan", "detect", "query":
		required = append(required, utils.Requirement{Env: "MYSQL_DATABASE", Flag: "database"})
	}
	if cmd.Name() == "detect" {
		if dryRun, _ := cmd.Flags().GetBool("dry-run"); !dryRun {
			required = append(required, utils.Requirement{Env: "MODEL_API_URL", Flag: "api-url"})
		}
	}

	var unmet []utils.Requirement
	for _, r := range required {
		if !cmd.Flags().Changed(r.Flag) {
			unmet = append(unmet, r)
		}
	}
	return unmet
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	os.Exit(run(&app{opts: &options{}}, os.Args[1:]))
}

// run executes the command line and returns the process exit code.
// Connections opened by the command are closed on every path.
func run(a *app, args []string) int {
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	if a.registry != nil {
		a.registry.CloseAll()
	}
	if err != nil {
		if a.logger != nil {
			a.logger.Error(err)
		} else {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	opts := a.opts

	rootCmd := &cobra.Command{
		Use:   "mysql-model-detector",
		Short: "Detect the logical data model of a MySQL database",
		Long: `MySQL Model Detector

A Go tool that introspects a MySQL schema and derives its logical model:
tables, columns, keys and the relationships between tables, inferred from
declared constraints and column naming conventions.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flags parsed fine, so later failures are not usage errors
			cmd.SilenceUsage = true

			a.logger = utils.NewLogger(cmd.ErrOrStderr(), opts.logLevel)

			missing, err := utils.LoadEnv(opts.envFile, requirements(cmd), a.logger)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				names := make([]string, len(missing))
				for i, r := range missing {
					names[i] = r.String()
				}
				return fmt.Errorf("missing required settings: %s; set them in %s, the environment or on the command line",
					strings.Join(names, ", "), opts.envFile)
			}

			if opts.apiURL == "" {
				opts.apiURL = os.Getenv("MODEL_API_URL")
			}
			if opts.apiToken == "" {
				opts.apiToken = os.Getenv("MODEL_API_TOKEN")
			}
			if !cmd.Flags().Changed("concurrency") {
				opts.concurrency = utils.GetEnvInt("MODEL_SCAN_CONCURRENCY", 1)
			}

			if a.registry == nil {
				a.registry = connector.NewRegistry(a.logger)
			}
			return nil
		},
	}

	// Define flags
	rootCmd.PersistentFlags().StringVarP(&opts.host, "host", "H", "", "MySQL host (default: localhost)")
	rootCmd.PersistentFlags().StringVarP(&opts.user, "user", "u", "", "MySQL user (default: root)")
	rootCmd.PersistentFlags().StringVarP(&opts.password, "password", "p", "", "MySQL password")
	rootCmd.PersistentFlags().StringVarP(&opts.database, "database", "d", "", "MySQL database name")
	rootCmd.PersistentFlags().StringVarP(&opts.port, "port", "P", "", "MySQL port (default: 3306)")
	rootCmd.PersistentFlags().StringVarP(&opts.name, "name", "n", "", "Connection name (default: database name)")
	rootCmd.PersistentFlags().StringVarP(&opts.envFile, "env-file", "e", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "Metadata store base URL")
	rootCmd.PersistentFlags().StringVar(&opts.apiToken, "api-token", "", "Metadata store bearer token")
	rootCmd.PersistentFlags().IntVarP(&opts.concurrency, "concurrency", "c", 1, "Column queries run in parallel during a scan")

	rootCmd.AddCommand(
		newTestCmd(a),
		newScanCmd(a),
		newDetectCmd(a),
		newQueryCmd(a),
		newServeCmd(a),
	)
	return rootCmd
}

func newTestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check that the database is reachable with the given credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.validConnection()
			if err != nil {
				return err
			}
			a.logger.Infof("Testing connection %s", connector.Describe(cfg))

			result := a.registry.TestConnection(cmd.Context(), cfg)
			utils.PrintConnectionResult(cmd.OutOrStdout(), result)
			if !result.Success {
				return errors.New(result.Message)
			}
			return nil
		},
	}
}

func newScanCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read tables, columns and unique indexes from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.validConnection()
			if err != nil {
				return err
			}

			result, err := a.scanner().Scan(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to scan schema: %w", err)
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			utils.PrintScanResult(cmd.OutOrStdout(), *result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the scan result as JSON")
	return cmd
}

func newDetectCmd(a *app) *cobra.Command {
	var (
		strategyName string
		dryRun       bool
		asJSON       bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Scan the schema, infer relationships and store the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.validConnection()
			if err != nil {
				return err
			}

			client := a.storeClient()
			if dryRun {
				client = nil
			} else if client == nil {
				return errors.New("a metadata store URL is required unless --dry-run is set")
			}

			var strategy inference.Strategy
			switch strategyName {
			case "heuristic":
				strategy = inference.NewHeuristic(a.logger)
			case "remote":
				if client == nil {
					return errors.New("the remote strategy needs a metadata store")
				}
				strategy = inference.NewRemote(client, a.logger)
			default:
				return fmt.Errorf("unknown strategy: %s", strategyName)
			}

			var metadataStore detector.MetadataStore
			if client != nil {
				metadataStore = client
			}
			orchestrator := detector.NewOrchestrator(a.scanner(), strategy, metadataStore, a.logger)
			orchestrator.DetectTimeout = timeout

			metadata, err := orchestrator.Detect(cmd.Context(), cfg)
			if err != nil {
				return errors.New(errs.MessageOf(err))
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), metadata)
			}
			utils.PrintSchemaAnalysis(cmd.OutOrStdout(), *metadata)
			return nil
		},
	}
	cmd.Flags().StringVarP(&strategyName, "strategy", "s", "heuristic", "Relationship inference strategy (heuristic, remote)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Detect without persisting the model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the model as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort detection after this duration (0 disables)")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query <statement>",
		Short: "Run a statement on the database and print the rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.validConnection()
			if err != nil {
				return err
			}

			result := a.registry.Open(cmd.Context(), cfg)
			if !result.Success {
				utils.PrintConnectionResult(cmd.OutOrStdout(), result)
				return errors.New(result.Message)
			}

			rows, err := a.registry.Execute(cmd.Context(), cfg.Name, args[0])
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}
			utils.PrintRows(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var (
		listen       string
		strategyName string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the connection and model API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := a.storeClient()

			var metadataStore detector.MetadataStore
			strategy := inference.Strategy(inference.NewHeuristic(a.logger))
			if client != nil {
				metadataStore = client
				if strategyName == "remote" {
					strategy = inference.NewRemote(client, a.logger)
				}
			} else if strategyName == "remote" {
				return errors.New("the remote strategy needs a metadata store")
			}

			scanner := a.scanner()
			srv := server.NewServer(server.Config{
				Addr:         listen,
				Registry:     a.registry,
				Scanner:      scanner,
				Orchestrator: detector.NewOrchestrator(scanner, strategy, metadataStore, a.logger),
				Logger:       a.logger,
			})

			if err := srv.Serve(ctx); err != nil {
				return fmt.Errorf("server stopped: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "Address to listen on")
	cmd.Flags().StringVarP(&strategyName, "strategy", "s", "heuristic", "Relationship inference strategy (heuristic, remote)")
	return cmd
}
