package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/LeeJc02/ShopMate/pkg/config"
	"github.com/LeeJc02/ShopMate/pkg/logging"
	"github.com/LeeJc02/ShopMate/pkg/router"
	"github.com/LeeJc02/ShopMate/pkg/tools"
)

var version = "dev"

var (
	configFile   string
	routingFile  string
	knowledgeDir string
	aliases      *config.ModelAliases
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "shopmate",
		Short: "Customer service gateway with intent routing and circuit breaking",
		Long: `ShopMate classifies customer messages into routes (product questions,
	orders, after-sales, small talk), dispatches them to a handler, and wraps
	every route with a circuit breaker, a response cache and A/B experiments.

	Passthrough callers execute tool calls themselves and resume the turn with
	the results.`,
		SilenceUsage: true,
		Version:      version,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to service config file (default ~/.shopmate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&routingFile, "routing", "", "path to routing config file")
	rootCmd.PersistentFlags().StringVar(&knowledgeDir, "knowledge-dir", "", "directory of markdown knowledge documents")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFrom(configFile, routingFile)
	} else {
		cfg, err = config.Load()
		if err == nil && routingFile != "" {
			cfg.RoutingConfig, err = config.LoadRoutingConfig(routingFile)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if knowledgeDir != "" {
		cfg.Service.Knowledge.Dir = knowledgeDir
	}
	aliases, _ = config.LoadAliasesWithFallback(cfg.ConfigDir)
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(cfg.Service.Log.Level, cfg.Service.Log.Format)
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show current routing rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROUTE\tHANDLER\tADAPTER\tMODEL\tVARIANTS\tTRIGGERS")
			for _, r := range router.Routes(cfg.RoutingConfig, aliases) {
				name := r.Route
				if r.Default {
					name += " (default)"
				}
				model := r.Model
				if r.ResolvedModel != "" && r.ResolvedModel != r.Model {
					model = fmt.Sprintf("%s -> %s", r.Model, r.ResolvedModel)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", name, r.Handler, r.Adapter, model,
					dash(formatList(r.Variants)), formatList(r.Triggers))
			}
			return w.Flush()
		},
	}
}

func modelsCmd() *cobra.Command {
	var validateFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List adapters, their models, and whether credentials are set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if aliases == nil {
				aliases = config.DefaultAliases()
			}

			if validateFlag {
				errs := aliases.ValidateRoutingConfig(cfg.RoutingConfig)
				if len(errs) == 0 {
					fmt.Println("All models in routing.yaml are valid.")
					return nil
				}
				fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(errs))
				for _, err := range errs {
					fmt.Fprintf(os.Stderr, "  - %s\n", err)
				}
				return fmt.Errorf("validation failed")
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")
			for _, provider := range aliases.ListProviders() {
				status := "no key"
				if cfg.HasAdapter(provider) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", provider, formatList(aliases.ProviderModels(provider)), status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&validateFlag, "validate", false, "check all models in routing.yaml resolve to known models")
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools passthrough callers may be asked to run",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tPARAMETERS\tDESCRIPTION")
			for _, t := range tools.NewCatalog().List() {
				params := make([]string, 0, len(t.Params))
				for _, p := range t.Params {
					name := p.Name
					if p.Required {
						name += "*"
					}
					params = append(params, name)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, formatList(params), t.Description)
			}
			return w.Flush()
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate service and routing configuration without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Printf("Configuration is valid: %d routes, default route %q.\n",
				len(cfg.RoutingConfig.Routes), cfg.RoutingConfig.DefaultRoute)
			return nil
		},
	}
}

func formatList(items []string) string {
	return strings.Join(items, ", ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
