package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/fesd/internal/adapter/actor"
	"github.com/berfenger/fesd/internal/config"
	"github.com/berfenger/fesd/internal/core/actor"
	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/internal/core/service"
	"github.com/berfenger/fesd/internal/scheduler"
	"github.com/berfenger/fesd/internal/server"
	"github.com/berfenger/fesd/internal/util/actorutil"
	"github.com/berfenger/fesd/pkg/fesd/serialport"
	"github.com/berfenger/fesd/pkg/fesd/session"
	"github.com/berfenger/fesd/pkg/fesd/simulator"
	"github.com/berfenger/fesd/pkg/fesd/transport"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(2)
	}
	slog.Info("Using", "config", cfg.Redacted(), "version", versioninfo.Short())

	logger := buildLogger(cfg)
	defer logger.Sync()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	opener, err := portOpener(cfg)
	if err != nil {
		logger.Fatal("serial driver", zap.Error(err))
	}

	s, err := session.Open(context.Background(), cfg.Ports, session.Config{
		Opener:      opener,
		Logger:      logger,
		ActorSystem: as,
		Exchange:    cfg.Exchange,
		Discovery:   cfg.Discovery,
		Instruments: []transport.Instrument{timingInstrument(logger)},
	})
	if err != nil {
		logger.Fatal("opening ports", zap.String("ports", cfg.Ports), zap.Error(err))
	}

	es := &eventstream.EventStream{}
	frontEnd := service.NewFrontEndService(s, adactor.NewEventStreamPublisher(es), logger)

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewBridgeActor(*cfg, frontEnd, es, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_BRIDGE)
	if err != nil {
		logger.Fatal("spawning bridge", zap.Error(err))
	}

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	if cfg.RediscoveryInterval > 0 {
		job := scheduler.NewRediscoveryJob(ctx, pid, cfg.Discovery.Window+10*time.Second, logger)
		if _, err := scheduler.Start(schedCtx, cfg.RediscoveryInterval, job); err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
	}

	server := server.NewServer(*cfg, frontEnd, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	stopScheduler()
	_ = ctx.StopFuture(pid).Wait()
	if err := s.Close(); err != nil {
		logger.Warn("closing session", zap.Error(err))
	}
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => FESD_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("FESD_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("fesd")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// buildLogger is the production zap logger, teed into a rotated file when
// log_file is set.
func buildLogger(cfg *config.Config) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	if cfg.LogFile == "" {
		return logger
	}
	file := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     28,
		}),
		zapCfg.Level,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, file)
	}))
}

// portOpener picks the serial driver, or the simulated buses of a profile.
func portOpener(cfg *config.Config) (transport.Opener, error) {
	if cfg.Simulator.Profile == "" {
		return serialport.NewOpener(cfg.Serial)
	}
	profile, err := simulator.LoadProfile(cfg.Simulator.Profile)
	if err != nil {
		return nil, err
	}
	network, err := profile.Network()
	if err != nil {
		return nil, err
	}
	if cfg.Ports == "" {
		names := make([]string, 0, len(profile.Buses))
		for _, b := range profile.Buses {
			names = append(names, b.Name)
		}
		cfg.Ports = strings.Join(names, ",")
	}
	return network, nil
}

func timingInstrument(logger *zap.Logger) transport.Instrument {
	return transport.Instrument{
		RecordTime: func(command string, d time.Duration) {
			logger.Debug("exchange timing", zap.String("command", command), zap.Duration("elapsed", d))
		},
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if !cfg.MQTT.Enable {
		return nil
	}
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	serialDefaults := serialport.DefaultConfig()
	exchangeDefaults := transport.DefaultExchangeConfig()

	viper.SetDefault("log_level", "warn")
	viper.SetDefault("log_file", "")
	viper.SetDefault("ports", "")
	viper.SetDefault("serial.driver", serialDefaults.Driver)
	viper.SetDefault("serial.baud", serialDefaults.Baud)
	viper.SetDefault("serial.poll_interval", serialDefaults.PollInterval)
	viper.SetDefault("exchange.timeout", exchangeDefaults.Timeout)
	viper.SetDefault("exchange.retries", exchangeDefaults.Retries)
	viper.SetDefault("exchange.settle_time", exchangeDefaults.SettleTime)
	viper.SetDefault("exchange.queue_timeout", exchangeDefaults.QueueTimeout)
	viper.SetDefault("discovery.window", 30*time.Second)
	viper.SetDefault("discovery.max_slot", 1)
	viper.SetDefault("simulator.profile", "")
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "fesd")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("rediscovery_interval", 0)
	viper.SetDefault("port", 8080)
}
