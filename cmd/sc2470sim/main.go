// Command sc2470sim answers on real serial lines as the SC2470 front ends of
// a device profile would. Each bus of the profile is served on the port of
// the same name, typically one end of a null-modem pair.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/berfenger/fesd/pkg/fesd/serialport"
	"github.com/berfenger/fesd/pkg/fesd/simulator"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	viper.SetDefault("profile", "sc2470sim.yaml")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("serial.driver", serialport.DriverBugst)
	viper.SetDefault("serial.baud", serialport.DefaultConfig().Baud)
	viper.SetEnvPrefix("sc2470sim")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	zapCfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(viper.GetString("log_level")); err == nil {
		zapCfg.Level = lvl
	}
	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	if err := run(logger); err != nil {
		slog.Error("sc2470sim failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	profile, err := simulator.LoadProfile(viper.GetString("profile"))
	if err != nil {
		return err
	}
	network, err := profile.Network()
	if err != nil {
		return err
	}

	cfg := serialport.DefaultConfig()
	cfg.Driver = viper.GetString("serial.driver")
	cfg.Baud = viper.GetInt("serial.baud")
	opener, err := serialport.NewOpener(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sc2470sim starting", zap.String("version", versioninfo.Short()), zap.Int("buses", len(profile.Buses)))

	var wg sync.WaitGroup
	errs := make(chan error, len(profile.Buses))
	for _, bp := range profile.Buses {
		port, err := opener.Open(bp.Name)
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
		bus := network.Bus(bp.Name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer port.Close()
			logger.Info("sc2470sim@serve: listening", zap.String("port", bp.Name))
			if err := bus.Serve(ctx, port, logger); err != nil {
				logger.Error("sc2470sim@serve: stopped", zap.String("port", bp.Name), zap.Error(err))
				errs <- err
				stop()
			}
		}()
	}
	wg.Wait()
	close(errs)
	return <-errs
}
