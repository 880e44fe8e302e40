// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package config loads connection and manager settings from a TOML file and
// the environment.
//
// A configuration file has the form:
//
//	host = "labrad.example.com"
//	port = 7682
//	password = "secret"
//	name = "my client"
//	timeout = "10s"
//	log_level = "info"
//
//	[manager]
//	listen = ":7682"
//	welcome = "Welcome to the lab."
//	metrics = "localhost:9090"
//
// Fields not defined in the file keep their defaults. The environment
// variables LABRADHOST, LABRADPORT, LABRADPASSWORD, and LABRADNAME override
// the corresponding fields of the file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/labrad"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvHost     = "LABRADHOST"
	EnvPort     = "LABRADPORT"
	EnvPassword = "LABRADPASSWORD"
	EnvName     = "LABRADNAME"
)

// Config carries the settings for a connection and an optional manager.
type Config struct {
	Host     string        // manager host name or address
	Port     int           // manager TCP port
	Password string        // login password
	Name     string        // login name of this connection
	Timeout  time.Duration // limit on connection and login
	LogLevel string        // see logging.ParseLevel

	Manager Manager
}

// Manager carries the settings for running a manager.
type Manager struct {
	Listen  string // TCP listen address
	Welcome string // welcome message sent at login
	Metrics string // HTTP address for the metrics endpoint; "" to disable
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Host:     "localhost",
		Port:     labrad.DefaultPort,
		Name:     "Go client",
		Timeout:  10 * time.Second,
		LogLevel: "info",
		Manager: Manager{
			Listen: net.JoinHostPort("", strconv.Itoa(labrad.DefaultPort)),
		},
	}
}

// Addr returns the host:port address of the manager.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type fileConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	Timeout  string `toml:"timeout"`
	LogLevel string `toml:"log_level"`
	Manager  struct {
		Listen  string `toml:"listen"`
		Welcome string `toml:"welcome"`
		Metrics string `toml:"metrics"`
	} `toml:"manager"`
}

// Load returns the default configuration updated by the TOML file at path, if
// path != "", and then by the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = loadFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse returns base updated by the TOML text in src.
func Parse(src string, base Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(src, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return merge(meta, raw, base)
}

func loadFile(path string, base Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return merge(meta, raw, base)
}

func merge(meta toml.MetaData, raw fileConfig, cfg Config) (Config, error) {
	if undec := meta.Undecoded(); len(undec) != 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undec[0].String())
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("manager", "listen") {
		cfg.Manager.Listen = strings.TrimSpace(raw.Manager.Listen)
	}
	if meta.IsDefined("manager", "welcome") {
		cfg.Manager.Welcome = raw.Manager.Welcome
	}
	if meta.IsDefined("manager", "metrics") {
		cfg.Manager.Metrics = strings.TrimSpace(raw.Manager.Metrics)
	}
	return cfg, nil
}

// ApplyEnv updates c from the LABRAD* environment variables that are set.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvHost); ok {
		c.Host = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvPort); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvPort, err)
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv(EnvPassword); ok {
		c.Password = v
	}
	if v, ok := os.LookupEnv(EnvName); ok {
		c.Name = strings.TrimSpace(v)
	}
	return nil
}

// Validate reports an error if c is not usable.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Name == "" {
		errs = append(errs, errors.New("name is empty"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("negative timeout %v", c.Timeout))
	}
	if c.Manager.Listen == "" {
		errs = append(errs, errors.New("manager listen address is empty"))
	}
	return errors.Join(errs...)
}
