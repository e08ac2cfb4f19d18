// Package config loads a node's layered configuration: a loadit.toml file,
// overridden by LOADIT_* environment variables, overridden by command-line
// flags — the same file/env/flag precedence the teacher's own config
// package builds with viper, retargeted at loadit.toml instead of
// config.yaml and at cluster-node settings instead of issue-tracker
// settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/alvarosanz/loadit/internal/clog"
)

// Config is everything a central or worker process needs to start, per
// SPEC_FULL.md 4.G: listen address, database root, backup participation,
// TLS material, and the master-key file central signs session JWTs with.
type Config struct {
	ListenAddr    string        `mapstructure:"listen_addr" toml:"listen_addr"`
	Root          string        `mapstructure:"root" toml:"root"`
	Backup        bool          `mapstructure:"backup" toml:"backup"`
	TLSCert       string        `mapstructure:"tls_cert" toml:"tls_cert"`
	TLSKey        string        `mapstructure:"tls_key" toml:"tls_key"`
	MasterKeyFile string        `mapstructure:"master_key_file" toml:"master_key_file"`
	Debug         bool          `mapstructure:"debug" toml:"debug"`
	MaxChunkBytes int64         `mapstructure:"max_chunk_bytes" toml:"max_chunk_bytes"`
	MaxMemory     int64         `mapstructure:"max_memory" toml:"max_memory"`
	TokenTTL      time.Duration `mapstructure:"token_ttl" toml:"token_ttl"`
}

func defaults() Config {
	return Config{
		ListenAddr:    "0.0.0.0:9080",
		Root:          ".",
		MaxChunkBytes: 64 * 1024 * 1024,
		MaxMemory:     512 * 1024 * 1024,
		TokenTTL:      24 * time.Hour,
	}
}

// Load builds a Config from (in ascending precedence) compiled-in defaults,
// configFile if non-empty, LOADIT_* environment variables, and finally the
// already-parsed flag overrides in flagOverrides (nil entries are ignored,
// letting callers pass only the flags the user actually set).
func Load(configFile string, flagOverrides map[string]interface{}) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("LOADIT")
	v.AutomaticEnv()

	applyDefaults(v, defaults())

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", configFile, err)
		}
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", configFile, err)
		}
	}

	for key, val := range flagOverrides {
		if val == nil {
			continue
		}
		v.Set(key, val)
	}

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return out, nil
}

func applyDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("root", cfg.Root)
	v.SetDefault("backup", cfg.Backup)
	v.SetDefault("tls_cert", cfg.TLSCert)
	v.SetDefault("tls_key", cfg.TLSKey)
	v.SetDefault("master_key_file", cfg.MasterKeyFile)
	v.SetDefault("debug", cfg.Debug)
	v.SetDefault("max_chunk_bytes", cfg.MaxChunkBytes)
	v.SetDefault("max_memory", cfg.MaxMemory)
	v.SetDefault("token_ttl", cfg.TokenTTL)
}

// WriteExample writes a loadit.toml with the default values (no comments),
// formatted by BurntSushi/toml rather than viper's own (unformatted)
// writer, so a freshly generated file reads the way an operator-edited one
// would.
func WriteExample(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create example config %q: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(defaults())
}

// nodeMarker is the subset of an operator-dropped node.yaml sidecar file we
// read directly, bypassing the layered Load path, the same way a narrow
// single-flag check reads its own small YAML file rather than going through
// the full config loader.
type nodeMarker struct {
	Backup bool `yaml:"backup"`
}

// IsBackupNode checks root/node.yaml for backup: true. A database root
// moved onto replication-backup hardware can carry this marker so the node
// advertises itself as a backup target even when start-node wasn't invoked
// with --backup explicitly.
func IsBackupNode(root string) bool {
	data, err := os.ReadFile(filepath.Join(root, "node.yaml"))
	if err != nil {
		return false
	}
	var marker nodeMarker
	if err := yaml.Unmarshal(data, &marker); err != nil {
		clog.Warn("failed to parse node.yaml backup marker", "error", err)
		return false
	}
	return marker.Backup
}

// WatchTLSDir watches the directory holding TLSCert/TLSKey and invokes
// onChange whenever either file is rewritten, so a certificate rotation (the
// usual way a self-signed cert gets refreshed) takes effect without
// restarting the node.
func WatchTLSDir(cfg Config, onChange func()) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create tls watcher: %w", err)
	}
	dir := filepath.Dir(cfg.TLSCert)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch tls dir %q: %w", dir, err)
	}

	certName, keyName := filepath.Base(cfg.TLSCert), filepath.Base(cfg.TLSKey)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				base := filepath.Base(ev.Name)
				if (base == certName || base == keyName) && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					clog.Info("tls material changed, reloading", "file", ev.Name)
					onChange()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				clog.Warn("tls watcher error", "error", werr)
			}
		}
	}()
	return watcher, nil
}
