// Package config defines the tool configuration. The configuration is loaded
// exactly once by Load and the resulting value is passed into every
// constructor; no component re-reads configuration files mid-operation.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/anvil-vm/anvil/internal/logging"
)

// Config is the complete tool configuration.
type Config struct {
	// ImageDir holds downloaded and locally built base images.
	ImageDir string `mapstructure:"image_dir" yaml:"image_dir"`
	// VMDir holds one directory per VM with its backing files.
	VMDir string `mapstructure:"vm_dir" yaml:"vm_dir"`
	// Bridge is the host bridge new virtual interfaces attach to.
	Bridge string `mapstructure:"bridge" yaml:"bridge"`

	Ansible AnsibleConfig  `mapstructure:"ansible" yaml:"ansible"`
	GCP     GCPConfig      `mapstructure:"gcp" yaml:"gcp"`
	Logging logging.Config `mapstructure:"logging" yaml:"logging"`
}

// AnsibleConfig locates the configuration-management collaborator.
type AnsibleConfig struct {
	// PlaybookDir is the root the relative playbook names resolve against.
	PlaybookDir string `mapstructure:"playbook_dir" yaml:"playbook_dir"`
	// PrivateKey is the SSH key ansible connects with.
	PrivateKey string `mapstructure:"private_key" yaml:"private_key"`
	// User is the remote user ansible connects as.
	User string `mapstructure:"user" yaml:"user"`
}

// GCPConfig identifies the remote compute backend.
type GCPConfig struct {
	Project string `mapstructure:"project" yaml:"project"`
	Zone    string `mapstructure:"zone" yaml:"zone"`
	// CredentialsFile is a service account JSON key file.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

// Load builds the configuration from defaults, an optional YAML file, and
// ANVIL_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("image_dir", "/var/lib/anvil/images")
	v.SetDefault("vm_dir", "/var/lib/anvil/vms")
	v.SetDefault("bridge", "virbr0")
	v.SetDefault("ansible.playbook_dir", "/var/lib/anvil/ansible/playbooks")
	v.SetDefault("ansible.private_key", "/var/lib/anvil/keys/ansible_rsa")
	v.SetDefault("ansible.user", "ansible")
	// Empty defaults so the env override path sees every key.
	v.SetDefault("gcp.project", "")
	v.SetDefault("gcp.zone", "us-central1-a")
	v.SetDefault("gcp.credentials_file", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.force_colors", true)

	v.SetEnvPrefix("ANVIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/anvil")
		v.AddConfigPath("$HOME/.anvil")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read configuration: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

// VMPath returns the directory holding a VM's backing files.
func (c *Config) VMPath(vmName string) string {
	return filepath.Join(c.VMDir, vmName)
}

// ImagePath returns the path of a base image by file name.
func (c *Config) ImagePath(image string) string {
	return filepath.Join(c.ImageDir, image)
}
