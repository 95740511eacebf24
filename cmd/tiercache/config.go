package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Directory    string        `yaml:"directory"`
	Provider     string        `yaml:"provider"`
	MaxSize      int64         `yaml:"maxSize"`
	MaxEntrySize int64         `yaml:"maxEntrySize"`
	DefaultTTL   time.Duration `yaml:"defaultTTL"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
