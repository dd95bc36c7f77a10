// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxUploadMB    int64         `yaml:"max_upload_mb"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Model struct {
		Path  string `yaml:"path"`
		Watch bool   `yaml:"watch"`
	} `yaml:"model"`
	Forest struct {
		Trees            int     `yaml:"trees"`
		MaxDepth         int     `yaml:"max_depth"`
		MinSamplesSplit  int     `yaml:"min_samples_split"`
		MaxFeatures      int     `yaml:"max_features"`
		DisableBootstrap bool    `yaml:"disable_bootstrap"`
		Seed             int64   `yaml:"seed"`
		TestRatio        float64 `yaml:"test_ratio"`
	} `yaml:"forest"`
	Dataset struct {
		Delimiter string `yaml:"delimiter"`
		Encoding  string `yaml:"encoding"`
		TempDir   string `yaml:"temp_dir"`
	} `yaml:"dataset"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Http.Port = 8000
	c.Http.Timeout = 2 * time.Minute
	c.Http.MaxUploadMB = 32
	c.Http.AllowedOrigins = []string{"*"}
	c.Model.Path = "model.json"
	c.Model.Watch = true
	c.Forest.TestRatio = 0.2
	c.Dataset.Delimiter = ","
	c.Database.Path = "learnask.db"
	c.Cache.Size = 1024
	c.Log.Level = "info"
	c.Log.Format = "console"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 28
	return &c
}

// Load decodes path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.Http.Port)
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if len([]rune(c.Dataset.Delimiter)) != 1 {
		return fmt.Errorf("dataset.delimiter must be a single character, got %q", c.Dataset.Delimiter)
	}
	if c.Forest.TestRatio < 0 || c.Forest.TestRatio >= 1 {
		return fmt.Errorf("forest.test_ratio must be in [0,1), got %v", c.Forest.TestRatio)
	}
	return nil
}

// Delimiter returns the dataset field separator as a rune.
func (c *Config) Delimiter() rune {
	r := []rune(c.Dataset.Delimiter)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}
