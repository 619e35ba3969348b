package main

import (
	"fmt"
	"os"
	"reflect"
	"slices"

	"gopkg.in/yaml.v3"
)

const (
	defaultHost          = "::"
	defaultPort          = 8080
	defaultHTTPWorkers   = 4
	defaultDataDir       = "data"
	defaultGitExecutable = "git"
	defaultZigExecutable = "zig"
	defaultLogLevel      = "info"
)

// Config is the service's top-level, flat configuration. Unlike the
// teacher's RepoPoolConfig there is no per-repository list here: every
// repository this service serves arrives as a URL path, not as config.
type Config struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	HTTPWorkers   int    `yaml:"http_workers"`
	DataDir       string `yaml:"data_dir"`
	GitExecutable string `yaml:"git_executable"`
	ZigExecutable string `yaml:"zig_executable"`
	ZigCacheDir   string `yaml:"zig_cache_dir"`
	LogLevel      string `yaml:"log_level"`
}

var allowedConfigKeys = getAllowedKeys(Config{})

// applyDefaults fills in zero-valued fields with their documented
// defaults.
func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.HTTPWorkers == 0 {
		c.HTTPWorkers = defaultHTTPWorkers
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.GitExecutable == "" {
		c.GitExecutable = defaultGitExecutable
	}
	if c.ZigExecutable == "" {
		c.ZigExecutable = defaultZigExecutable
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// parseConfigFile reads, strictly validates and decodes the config
// file at path, applying defaults to anything left unset.
func parseConfigFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read file err:%w", err)
	}

	if err := validateConfig(yamlFile); err != nil {
		return nil, fmt.Errorf("invalid config err:%w", err)
	}

	conf := &Config{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, fmt.Errorf("unable to decode config err:%w", err)
	}

	conf.applyDefaults()
	return conf, nil
}

// validateConfig rejects any key Config does not recognize, the same
// way the teacher's validateConfigYaml rejects unknown keys in
// RepoPoolConfig and its nested sections.
func validateConfig(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return fmt.Errorf("unable to decode config err:%w", err)
	}

	if key := findUnexpectedKey(raw, allowedConfigKeys); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}
	return nil
}

// getAllowedKeys retrieves the list of keys a struct's "yaml" tags
// recognize.
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	val := reflect.ValueOf(config)
	typ := reflect.TypeOf(config)

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		if yamlTag := field.Tag.Get("yaml"); yamlTag != "" {
			allowedKeys = append(allowedKeys, yamlTag)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw map[string]interface{}, allowedKeys []string) string {
	for key := range raw {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}
	return ""
}
