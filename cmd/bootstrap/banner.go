package bootstrap

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/code-100-precent/TrunkEcho/pkg/config"
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
)

const defaultBanner = `
 _____                _    _____     _
|_   _| __ _   _ _ __ | | _| ____|___| |__   ___
  | || '__| | | | '_ \| |/ /  _| / __| '_ \ / _ \
  | || |  | |_| | | | |   <| |__| (__| | | | (_) |
  |_||_|   \__,_|_| |_|_|\_\_____\___|_| |_|\___/
`

// PrintBannerFromFile prints the startup banner. Falls back to the built-in
// banner when the file is missing so the binary runs without assets.
func PrintBannerFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Print(defaultBanner)
		return nil
	}
	fmt.Println(string(data))
	return nil
}

// LogConfigInfo 打印启动后的关键配置，便于排查环境问题
func LogConfigInfo() {
	cfg := config.GlobalConfig
	if cfg == nil {
		return
	}
	logger.Info("checked config -- server",
		zap.String("name", cfg.ServerName),
		zap.String("addr", cfg.Addr),
		zap.String("mode", cfg.Mode))
	logger.Info("checked config -- database",
		zap.String("driver", cfg.DBDriver),
		zap.String("dsn", cfg.DSN))
	logger.Info("checked config -- signaling",
		zap.String("consoleId", cfg.ConsoleID),
		zap.String("switchAddr", cfg.SwitchAddr))
	logger.Info("checked config -- call core",
		zap.Int("admissionMaxCalls", cfg.AdmissionMaxCalls),
		zap.Duration("pttDebounce", cfg.PTTDebounce),
		zap.Duration("setupTimeout", cfg.SetupTimeout),
		zap.Int("priorityPreempt", cfg.PriorityPreempt),
		zap.Int("priorityEmergency", cfg.PriorityEmergency))
	logger.Info("checked config -- rtp",
		zap.String("addr", cfg.RTPAddr),
		zap.Int("portMin", cfg.RTPPortMin),
		zap.Int("portMax", cfg.RTPPortMax))
}
