package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"refurbline/internal/app"
	"refurbline/internal/config"
	"refurbline/internal/db"
	"refurbline/internal/engine"
	"refurbline/internal/engine/auth"
	"refurbline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rfl",
	Short: "Refurbline CLI",
	Long: `Refurbline runs the refurbishment floor: devices come in, get inspected against
a category checklist, are repaired by an L2 coordinator with specialists on
parallel tracks, pass QC and leave as graded stock.
- Workspace: directory holding refurbline.db and refurbline.yml.
- Intake: register devices by barcode, optionally inside an inward batch.
- Inspection: fill the checklist; the route (QC, repair, spares) follows from it.
- Coordination: one L2 engineer claims a device and drives display, battery,
  L3 and paint tracks until QC readiness.
- Spares: free-text requests ("RAM-001:2, SSD x1") issued all-or-nothing.
- Verification: reconcile a batch against its purchase order, export to xlsx.
- Event log: every change is recorded, view with 'rfl events tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REFURBLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/refurbline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("roles", auth.RoleAdmin, "comma separated roles of the acting user")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "roles", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(deviceCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(repairCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(qcCmd())
	rootCmd.AddCommand(sparesCmd())
	rootCmd.AddCommand(rackCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(notifyCmd())
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default refurbline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, jwtSecret string
	var devHeaders bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jwtSecret == "" {
				jwtSecret = os.Getenv("REFURBLINE_JWT_SECRET")
			}
			if jwtSecret == "" {
				return fmt.Errorf("REFURBLINE_JWT_SECRET is required for bearer auth")
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: jwtSecret, AllowDevHeaders: devHeaders, Logger: a.Log},
				Logger:   a.Log,
			})
			if err != nil {
				return err
			}
			go a.RunInProcessDelivery(cmd.Context())
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			a.Log.Info("serving refurbline api",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.Bool("dev_headers", devHeaders))
			fmt.Printf("Serving Refurbline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret for bearer tokens (or REFURBLINE_JWT_SECRET)")
	cmd.Flags().BoolVar(&devHeaders, "dev-headers", false, "accept X-Actor-Id/X-Actor-Roles headers and dev login (never in production)")
	return cmd
}

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notify", Short: "Notification delivery"}
	cmd.AddCommand(&cobra.Command{
		Use:   "work",
		Short: "Consume the Redis notification stream and deliver events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			w, err := a.Worker()
			if err != nil {
				return err
			}
			a.Log.Info("notification worker started", zap.String("stream", w.Stream), zap.String("group", w.Group))
			if err := w.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	})
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func openApp(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		LogLevel:   viper.GetString("log-level"),
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, auth.Principal) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := fn(ctx, a.Engine, principal()); err != nil {
		return err
	}
	a.Flush(ctx)
	return nil
}

func principal() auth.Principal {
	var roles []string
	for _, r := range strings.Split(viper.GetString("roles"), ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return auth.Principal{ActorID: viper.GetString("actor-id"), Roles: roles}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func deref[T ~string](p *T) string {
	if p == nil {
		return ""
	}
	return string(*p)
}
