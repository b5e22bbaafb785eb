// commands.go
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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gewnthar/playsync/database"
	"github.com/gewnthar/playsync/handlers"
	"github.com/gewnthar/playsync/ingest"
	"github.com/gewnthar/playsync/models"
	"github.com/gewnthar/playsync/storage"
)

var (
	configPath string

	syncDataSource int64
	syncForce      bool

	dsTenant int64
	dsName   string
	dsBucket string
)

var rootCmd = &cobra.Command{
	Use:          "playsync",
	Short:        "Sync Google Play Console report buckets into MySQL",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync of a data source and print its summary",
	RunE:  runSync,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the metadata and report tables",
	RunE:  runMigrate,
}

var classifyCmd = &cobra.Command{
	Use:   "classify [path...]",
	Short: "Show how bucket paths would be routed",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

var datasourceCmd = &cobra.Command{
	Use:   "datasource",
	Short: "Manage data sources",
}

var datasourceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a bucket for a tenant",
	RunE:  runDataSourceAdd,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "Path to config file (empty for defaults and environment only)")

	syncCmd.Flags().Int64VarP(&syncDataSource, "datasource", "d", 0, "Data source id")
	syncCmd.Flags().BoolVarP(&syncForce, "force", "f", false, "Reprocess files inside the freshness window")
	syncCmd.MarkFlagRequired("datasource")

	datasourceAddCmd.Flags().Int64Var(&dsTenant, "tenant", 0, "Tenant id")
	datasourceAddCmd.Flags().StringVar(&dsName, "name", "", "Display name")
	datasourceAddCmd.Flags().StringVar(&dsBucket, "bucket", "", "Bucket URI (s3://, gs://, file:// or a bare pubsite_prod_rev_ name)")
	datasourceAddCmd.MarkFlagRequired("tenant")
	datasourceAddCmd.MarkFlagRequired("bucket")
	datasourceCmd.AddCommand(datasourceAddCmd)

	rootCmd.AddCommand(serveCmd, syncCmd, migrateCmd, classifyCmd, datasourceCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	// Background runs outlive the request that started them but stop on shutdown.
	a, err := newApp(ctx, ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := database.Migrate(ctx, a.db, a.logger); err != nil {
		return err
	}

	api := handlers.NewAPI(a.sources, a.sync, a.broker, a.logger)
	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           handlers.NewRouter(api, a.registry, a.db.PingContext),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error starting server: %w", err)
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	a.sync.Wait()
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.sync.TriggerSync(ctx, syncDataSource, models.SyncOptions{Force: syncForce})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	return database.Migrate(ctx, db, logger)
}

func runClassify(cmd *cobra.Command, args []string) error {
	router := ingest.NewRouter(ingest.DefaultRules())
	out := cmd.OutOrStdout()
	for _, p := range args {
		desc, err := router.Classify(p)
		if err != nil {
			reason := err.Error()
			var miss *ingest.ClassificationMiss
			if errors.As(err, &miss) {
				reason = miss.Reason
			}
			fmt.Fprintf(out, "%s\tskip\t%s\n", p, reason)
			continue
		}
		fmt.Fprintf(out, "%s\t%s\t%s", p, desc.ReportType, desc.Table)
		if desc.Dimension != "" {
			fmt.Fprintf(out, "\tdimension=%s", desc.Dimension)
		}
		if desc.AppPackage != "" {
			fmt.Fprintf(out, "\tpackage=%s", desc.AppPackage)
		}
		fmt.Fprintf(out, "\tperiod=%s\n", desc.ReportPeriod)
	}
	return nil
}

func runDataSourceAdd(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	uri, err := storage.ParseBucketURI(dsBucket)
	if err != nil {
		return err
	}
	if dsName == "" {
		dsName = uri.Bucket
	}

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := database.NewDataSourceStore(db).CreateDataSource(ctx, dsTenant, dsName, uri.String())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "data source %d: %s\n", id, uri)
	return nil
}
