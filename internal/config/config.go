package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Dir     string `mapstructure:"dir"`      // 資料庫檔案存放目錄
	LogMode bool   `mapstructure:"log_mode"` // 是否輸出 GORM SQL 日誌
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

type ReportConfig struct {
	FontPath   string `mapstructure:"font_path"`   // 中文字型檔路徑（PDF 報表用）
	SchoolDept string `mapstructure:"school_dept"` // 報表抬頭的預設單位名稱
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Report   ReportConfig   `mapstructure:"report"`
}

var (
	appConfig *Config
	once      sync.Once
)

// Load loads configuration from given file path (e.g. "config.yaml").
// If path is empty, it defaults to "config.yaml" in current working directory.
func Load(path string) (*Config, error) {
	var err error
	once.Do(func() {
		v := viper.New()

		if path == "" {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
		} else {
			v.SetConfigFile(path)
		}

		// environment overrides, e.g. FSMM_JWT_SECRET=xxx
		v.SetEnvPrefix("FSMM") // FSVS materials management
		v.AutomaticEnv()

		if err = v.ReadInConfig(); err != nil {
			err = fmt.Errorf("read config: %w", err)
			return
		}

		var c Config
		if err = v.Unmarshal(&c); err != nil {
			err = fmt.Errorf("unmarshal config: %w", err)
			return
		}

		applyDefaults(&c)
		appConfig = &c
	})

	if err != nil {
		return nil, err
	}
	return appConfig, nil
}

func applyDefaults(c *Config) {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Database.Dir == "" {
		c.Database.Dir = "."
	}
	if c.JWT.ExpireHours <= 0 {
		c.JWT.ExpireHours = 8
	}
	if c.Log.File == "" {
		c.Log.File = "APP.log"
	}
	if c.Report.SchoolDept == "" {
		c.Report.SchoolDept = "鳳山商工 ****科"
	}
}

// Get returns the loaded global configuration.
// Call Load() once at application startup.
func Get() *Config {
	return appConfig
}
