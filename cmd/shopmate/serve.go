package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeeJc02/ShopMate/pkg/knowledge"
	"github.com/LeeJc02/ShopMate/pkg/records"
	"github.com/LeeJc02/ShopMate/pkg/schema"
	"github.com/LeeJc02/ShopMate/pkg/server"
	"github.com/LeeJc02/ShopMate/pkg/telemetry"
	"github.com/LeeJc02/ShopMate/pkg/tools"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Service.Server.Listen = listen
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Init(ctx, cfg.Service.Telemetry.OTLPEndpoint, "shopmate", version, cfg.Service.Telemetry.Insecure)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownTracing(sctx); err != nil {
					logger.Warn("tracing shutdown failed", "error", err)
				}
			}()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			gin.SetMode(gin.ReleaseMode)
			sc := cfg.Service.Server
			srv := &http.Server{
				Addr: sc.Listen,
				Handler: server.NewRouter(server.Config{
					AdminAPIKey: sc.AdminAPIKey,
					RateLimit:   sc.RateLimit,
					RateBurst:   sc.RateBurst,
				}, server.Deps{
					Gateway:   a.gateway,
					Catalog:   a.catalog,
					Retriever: a.retriever,
					Routing:   cfg.RoutingConfig,
					Gatherer:  a.registry,
					Logger:    logger,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.engine.RunJanitor(gctx, cfg.Service.Engine.SweepInterval)
				return nil
			})
			g.Go(func() error {
				logger.Info("shopmate listening", "addr", sc.Listen, "version", version,
					"storage", cfg.Service.Storage.Driver, "knowledge", cfg.Service.Knowledge.Backend)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				logger.Info("shutting down")
				return srv.Shutdown(sctx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		passthrough bool
		execute     bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one customer message through the gateway in-process",
		Long: `Classifies and answers a single message without starting the server.

With --passthrough the handler returns tool calls instead of reading data
itself. Add --execute to run those calls against the local order records
and resume the turn.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			req := &schema.Request{ID: uuid.NewString(), Text: args[0], Mode: schema.ModeGraph}
			if passthrough {
				req.Mode = schema.ModePassthrough
			}

			out, err := a.gateway.Submit(ctx, req)
			if err != nil {
				return err
			}
			if !out.IsPending() {
				return printResponse(out.Response, asJSON)
			}

			if !execute {
				return printJSON(out.Pending)
			}
			fmt.Fprintf(os.Stderr, "Executing %d tool call(s) for route %s\n", len(out.Pending.ToolCalls), out.Pending.Route)
			results := runToolCalls(ctx, a.records, out.Pending.ToolCalls)
			resp, err := a.gateway.Resume(ctx, out.Pending.RequestID, results)
			if err != nil {
				return err
			}
			return printResponse(resp, asJSON)
		},
	}

	cmd.Flags().BoolVar(&passthrough, "passthrough", false, "return tool calls instead of executing them in the handler")
	cmd.Flags().BoolVar(&execute, "execute", false, "with --passthrough, run the tool calls locally and resume")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}

// runToolCalls plays the passthrough caller for the tools backed by the
// local order records. Anything else is reported as an error result.
func runToolCalls(ctx context.Context, store records.Store, calls []schema.ToolCallRequest) []schema.ToolCallResult {
	results := make([]schema.ToolCallResult, 0, len(calls))
	for _, call := range calls {
		var (
			value any
			err   error
		)
		switch call.ToolName {
		case tools.LookupOrder:
			value, err = store.Lookup(ctx, arg(call, "id"))
		case tools.QueryUserOrders:
			value, err = store.UserOrders(ctx, arg(call, "user_id"))
		case tools.QueryUserInfo:
			value, err = store.User(ctx, arg(call, "user_id"))
		default:
			err = fmt.Errorf("tool %s is not available locally", call.ToolName)
		}

		result := schema.ToolCallResult{CallID: call.CallID, Status: schema.ToolStatusOK}
		if err == nil {
			result.Payload, err = json.Marshal(value)
		}
		if err != nil {
			result.Status = schema.ToolStatusError
			result.Payload, _ = json.Marshal(map[string]string{"error": err.Error()})
		}
		results = append(results, result)
	}
	return results
}

func arg(call schema.ToolCallRequest, name string) string {
	v, _ := call.Arg(name)
	return v
}

func printResponse(resp *schema.Response, asJSON bool) error {
	if asJSON {
		return printJSON(resp)
	}
	fmt.Fprintf(os.Stderr, "Route: %s", resp.Route)
	if resp.Variant != "" {
		fmt.Fprintf(os.Stderr, " (variant %s)", resp.Variant)
	}
	if resp.UsedCache {
		fmt.Fprint(os.Stderr, " [cached]")
	}
	fmt.Fprintln(os.Stderr)
	fmt.Println(resp.Text)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed the knowledge documents and upsert them into Qdrant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			kc := cfg.Service.Knowledge
			if kc.QdrantURL == "" {
				return fmt.Errorf("knowledge.qdrant_url (or QDRANT_URL) is required")
			}
			docs := knowledge.DefaultDocuments()
			if kc.Dir != "" {
				if docs, err = knowledge.LoadDir(kc.Dir); err != nil {
					return err
				}
			}

			q, err := openQdrant(cfg, logger)
			if err != nil {
				return err
			}
			defer q.Close()

			if err := q.EnsureCollection(ctx, embeddingDims(kc.EmbeddingModel)); err != nil {
				return err
			}
			if err := q.Index(ctx, docs); err != nil {
				return err
			}
			fmt.Printf("Indexed %d documents into %s.\n", len(docs), kc.Collection)
			return nil
		},
	}
	return cmd
}

func embeddingDims(model string) uint64 {
	switch model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}
