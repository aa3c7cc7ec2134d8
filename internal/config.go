package internal

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// 配置解析順序（與外部協作者的約定一致）：
//   1. 配置文件存在 → 讀文件
//   2. 否則環境變量（WEBSOCKET_HOST / WEBSOCKET_PORT）
//   3. 否則固定默認值（localhost:9002）
//
// 核心只消費 host 與 port；日誌配置屬於進程引導的一部分。

// Config 服務配置
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig 監聽地址
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Addr 監聽地址字符串
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LoadConfig 載入配置
//
// 文件不存在不是錯誤；此時退回環境變量與默認值。文件存在但無法
// 解析則是引導失敗，屬於本系統唯一允許的進程致命路徑。
func LoadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return config, nil
}

// defaultConfig 環境變量或固定默認值
func defaultConfig() *Config {
	config := &Config{
		Server: ServerConfig{Host: "localhost", Port: 9002},
		Log:    LogConfig{Level: "info", Format: "text"},
	}

	if host := os.Getenv("WEBSOCKET_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("WEBSOCKET_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	return config
}

// ParseLogLevel 解析日誌級別
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
