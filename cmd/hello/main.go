// Command hello opens the configured ports, picks the SC2470 in the wanted
// slot and walks it through a gain and frequency setup.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/discovery"
	"github.com/berfenger/fesd/pkg/fesd/sc2470"
	"github.com/berfenger/fesd/pkg/fesd/serialport"
	"github.com/berfenger/fesd/pkg/fesd/session"
	"github.com/berfenger/fesd/pkg/fesd/simulator"
	"github.com/berfenger/fesd/pkg/fesd/transport"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	viper.SetDefault("ports", "COM6, COM14")
	viper.SetDefault("slot", 1)
	viper.SetDefault("gain_db", -10.0)
	viper.SetDefault("rf_hz", 12.7e9)
	viper.SetDefault("if_hz", 6e9)
	viper.SetDefault("serial.driver", serialport.DriverBugst)
	viper.SetDefault("simulator.profile", "")
	viper.SetEnvPrefix("fesd")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	logger := zap.Must(zap.NewDevelopment())
	defer logger.Sync()
	logger.Info("hello", zap.String("version", versioninfo.Short()))

	if err := run(logger); err != nil {
		slog.Error("hello failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	opener, err := opener()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s, err := session.Open(ctx, viper.GetString("ports"), session.Config{
		Opener:    opener,
		Logger:    logger,
		Exchange:  transport.DefaultExchangeConfig(),
		Discovery: discovery.DefaultConfig(),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	devices, err := s.Devices(ctx)
	if err != nil {
		return err
	}
	slot := uint16(viper.GetUint("slot"))
	var target *fesd.Device
	for i, d := range devices {
		logger.Info("found", zap.Stringer("device", d))
		if d.SlotID == slot && d.Type == fesd.DeviceTypeSC2470 {
			target = &devices[i]
		}
	}
	if target == nil {
		return &fesd.CommandError{Kind: fesd.ErrDeviceNotFound, Values: viper.GetString("slot")}
	}

	c, err := s.SC2470Commander(target.SerialNumber)
	if err != nil {
		return err
	}

	limits, err := c.GetGainLimits(ctx, sc2470.PathRX)
	if err != nil {
		return err
	}
	logger.Info("rx gain limits", zap.Float64("min_db", limits.MinDb), zap.Float64("max_db", limits.MaxDb))

	gain, err := c.ConfigureGain(ctx, sc2470.PathRX, viper.GetFloat64("gain_db"))
	if err != nil {
		return err
	}
	logger.Info("rx gain", zap.Float64("applied_db", gain))

	set, err := c.ConfigureFrequencies(ctx, sc2470.PathRX,
		sc2470.RfFrequency(viper.GetFloat64("rf_hz")), sc2470.IfFrequency(viper.GetFloat64("if_hz")))
	if err != nil {
		return err
	}
	logger.Info("rx frequencies", zap.Float64("rf_hz", set.RfHz), zap.Float64("if_hz", set.IfHz), zap.Float64("lo_hz", set.LoHz))
	return nil
}

func opener() (transport.Opener, error) {
	if profile := viper.GetString("simulator.profile"); profile != "" {
		p, err := simulator.LoadProfile(profile)
		if err != nil {
			return nil, err
		}
		return p.Network()
	}
	cfg := serialport.DefaultConfig()
	cfg.Driver = viper.GetString("serial.driver")
	return serialport.NewOpener(cfg)
}
