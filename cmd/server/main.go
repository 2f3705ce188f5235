// cmd/server/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"acquisition-service/internal/config"
	"acquisition-service/internal/handler"
	"acquisition-service/internal/metric"
	"acquisition-service/internal/model"
	"acquisition-service/internal/routes"
	"acquisition-service/internal/service"
	"acquisition-service/internal/transport"
	"acquisition-service/internal/utils"
)

const shutdownTimeout = 30 * time.Second

// Application represents the main application
type Application struct {
	config        *config.Config
	viper         *viper.Viper
	loggerManager *utils.LoggerManager
	logger        *zap.Logger
	server        *http.Server

	registry *prometheus.Registry
	metrics  *metric.Metrics

	eventBus           *handler.EventBus
	acquisitionService *service.AcquisitionService
	websocketHandler   *handler.WebSocketHandler
}

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var cfgPath string

	root := &cobra.Command{
		Use:   "acquisition-service",
		Short: "Acquire multi-channel sample data from serial devices and serve it over HTTP",
		Example: `  acquisition-service serve --port 8085
  acquisition-service serve --config ./config.yaml --connect /dev/ttyACM0
  acquisition-service ports`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ./config.yaml when present)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}

			app, err := NewApplication(v, cfgPath)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			connect, _ := cmd.Flags().GetString("connect")
			return app.Start(connect)
		},
	}
	serve.Flags().String("host", "", "listen host")
	serve.Flags().String("port", "", "listen port")
	serve.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	serve.Flags().String("log-format", "", "log format (json, console)")
	serve.Flags().String("driver", "", "serial driver (bugst, tarm)")
	serve.Flags().Int("capacity", 0, "points kept per channel")
	serve.Flags().String("connect", "", "selector to connect on startup, e.g. /dev/ttyACM0, tcp://host:port or dummy")

	ports := &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports of this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := transport.ListPorts()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "acquisition-service %s %s/%s\n", getVersion(), runtime.GOOS, runtime.GOARCH)
		},
	}

	root.AddCommand(serve, ports, version)
	return root
}

// bindFlags binds the serve flags that were set on the command line to their config keys
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	keys := map[string]string{
		"host":       "server.host",
		"port":       "server.port",
		"log-level":  "logging.level",
		"log-format": "logging.format",
		"driver":     "serial.driver",
		"capacity":   "store.capacity",
	}

	var err error
	flags.Visit(func(f *pflag.Flag) {
		if key, ok := keys[f.Name]; ok && err == nil {
			err = v.BindPFlag(key, f)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	return nil
}

// NewApplication creates a new application instance
func NewApplication(v *viper.Viper, cfgPath string) (*Application, error) {
	// Load configuration
	cfg, err := config.Load(v, cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	loggerManager, err := utils.NewLoggerManager(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := loggerManager.Logger()

	serviceLogger := utils.NewServiceLogger(logger, "acquisition-service")
	serviceLogger.LogServiceStart(getVersion(), cfg)

	app := &Application{
		config:        cfg,
		viper:         v,
		loggerManager: loggerManager,
		logger:        logger,
	}

	if err := app.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	app.initializeServices()
	app.initializeServer()
	app.watchConfig()

	return app, nil
}

// initializeMetrics creates the Prometheus registry and acquisition metrics
func (app *Application) initializeMetrics() error {
	app.registry = metric.NewRegistry()

	metrics, err := metric.NewMetrics(app.registry)
	if err != nil {
		return err
	}
	app.metrics = metrics

	app.logger.Info("Metrics initialized successfully")
	return nil
}

// initializeServices creates the event bus, the acquisition service and the stream handler
func (app *Application) initializeServices() {
	app.eventBus = handler.NewEventBus(app.logger)

	app.acquisitionService = service.NewAcquisitionService(
		app.config,
		transport.Open,
		app.metrics,
		app.eventBus,
		app.logger,
	)

	app.websocketHandler = handler.NewWebSocketHandler(
		app.acquisitionService,
		app.eventBus,
		app.config.Stream,
		app.config.Security,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.acquisitionService,
		app.websocketHandler,
		app.registry,
	)

	router := routerManager.SetupRouter()

	// WriteTimeout is not applied to hijacked WebSocket connections
	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// watchConfig applies log level changes from the config file while running
func (app *Application) watchConfig() {
	config.Watch(app.viper, app.logger, func(cfg *config.Config) {
		if err := app.loggerManager.SetLevel(cfg.Logging.Level); err != nil {
			app.logger.Warn("Failed to apply log level", zap.Error(err))
		}
	})
}

// Start runs the server until a shutdown signal arrives. A non-empty
// selector is connected once the server is up.
func (app *Application) Start(selector string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.eventBus.Start(ctx)
	go app.websocketHandler.Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if selector != "" {
		if _, err := app.acquisitionService.Connect(ctx, &model.ConnectRequest{Selector: selector}); err != nil {
			app.logger.Error("Startup connect failed",
				zap.String("selector", selector),
				zap.Error(err),
			)
		}
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case runErr = <-serverErr:
		app.logger.Error("HTTP server failed", zap.Error(runErr))
	}

	app.shutdown()
	return runErr
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "acquisition-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		utils.LogError(app.logger, "HTTP server shutdown error", err)
	} else {
		app.logger.Info("HTTP server stopped")
	}

	if err := app.acquisitionService.Shutdown(ctx); err != nil {
		utils.LogError(app.logger, "Acquisition shutdown error", err, zap.Duration("timeout", shutdownTimeout))
	} else {
		app.logger.Info("Acquisition stopped")
	}

	app.logger.Info("Application shutdown completed")

	// Flush logger
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}
