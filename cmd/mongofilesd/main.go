package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/randilt/mongofiles"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configFile string

func newRootCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mongofilesd",
		Short:         "Serve multipart uploads and downloads backed by MongoDB",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(v, configFile)
			if err != nil {
				return errors.Trace(err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, config)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
	if err := bindFlags(v, cmd.Flags()); err != nil {
		panic(err)
	}
	return cmd
}

func main() {
	if err := newRootCommand(viper.New()).Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config *Config) error {
	logger := newLogger(config)
	defer logger.Sync()

	session, err := mgo.DialWithTimeout(config.MongoURL, 30*time.Second)
	if err != nil {
		return errors.Annotatef(err, "connecting to %s", config.MongoURL)
	}
	defer session.Close()
	session.SetMode(mgo.Monotonic, true)
	db := mongofiles.NewMgoDatabase(session.DB(config.Database))

	staging, err := mongofiles.NewStaging(afero.NewOsFs(), config.StagingDir)
	if err != nil {
		return errors.Trace(err)
	}
	if config.SweepAge > 0 {
		removed, err := staging.Sweep(clock.WallClock.Now().Add(-config.SweepAge))
		if err != nil {
			logger.Warn("cannot sweep staging directory", zap.Error(err))
		} else if removed > 0 {
			logger.Info("removed stale staged files", zap.Int("count", removed))
		}
	}

	metrics, err := mongofiles.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return errors.Trace(err)
	}
	registry, err := mongofiles.NewRegistry(staging,
		mongofiles.WithLogger(logger),
		mongofiles.WithMetrics(metrics))
	if err != nil {
		return errors.Trace(err)
	}
	buckets, err := configureBuckets(config, registry, db)
	if err != nil {
		return errors.Trace(err)
	}

	server := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           newServer(config, buckets, promhttp.Handler(), logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       6 * time.Hour,
		WriteTimeout:      6 * time.Hour,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting mongofilesd",
			zap.String("version", version),
			zap.String("listen", config.ListenAddr),
			zap.String("database", config.Database),
			zap.String("staging_dir", staging.Dir()),
			zap.Int("buckets", len(buckets)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return errors.Annotate(err, "server failed")
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Annotate(err, "server forced shutdown")
	}
	logger.Info("server stopped")
	return nil
}

// configureBuckets creates a bucket in registry for every configured entry.
func configureBuckets(config *Config, registry *mongofiles.Registry, db mongofiles.Database) ([]*mongofiles.Bucket, error) {
	newID, err := config.idGenerator()
	if err != nil {
		return nil, errors.Trace(err)
	}
	buckets := make([]*mongofiles.Bucket, 0, len(config.Buckets))
	for _, entry := range config.Buckets {
		b, err := registry.Configure(mongofiles.BucketConfig{
			Database:    db,
			BucketName:  entry.Name,
			Kind:        entry.Kind(),
			FileField:   entry.FileField,
			IDGenerator: newID,
		})
		if err != nil {
			return nil, errors.Annotatef(err, "configuring bucket %q", entry.Name)
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// newServer builds the HTTP handler: the file routes and metrics behind
// logging, the client limit and CORS.
func newServer(config *Config, buckets []*mongofiles.Bucket, metrics http.Handler, logger *zap.Logger) http.Handler {
	router := mux.NewRouter()
	NewFilesHandler(buckets, logger).Register(router)
	router.Handle("/metrics", metrics).Methods(http.MethodGet)

	return LoggingMiddleware(logger)(MaxClientsMiddleware(config.MaxClients)(CORSMiddleware(router)))
}
