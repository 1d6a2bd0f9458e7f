package deploy

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"
	"gopkg.in/yaml.v3"
)

// StartupMarker is the file the final cloud-init command creates. The
// wait_for_startup_marker playbook polls for it, so its presence means
// cloud-init ran to completion.
const StartupMarker = "/var/log/vm-startup-done"

// userData is the cloud-config document for the seed ISO. Marshaled to
// YAML and prefixed with the #cloud-config header.
type userData struct {
	Hostname        string   `yaml:"hostname"`
	SSHPasswordAuth bool     `yaml:"ssh_pwauth"`
	Users           []user   `yaml:"users"`
	RunCmd          []string `yaml:"runcmd"`
}

type user struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo"`
	Shell             string   `yaml:"shell"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
}

// metaData is the NoCloud instance metadata. instance-id equals the VM
// name, so a recreated VM by the same name runs cloud-init again.
type metaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// renderUserData builds the user-data document for a spec.
func renderUserData(name string, spec *Spec) (string, error) {
	doc := userData{
		Hostname:        name,
		SSHPasswordAuth: false,
		Users: []user{{
			Name:              spec.User,
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			Shell:             "/bin/bash",
			SSHAuthorizedKeys: spec.SSHKeys,
		}},
		RunCmd: []string{"touch " + StartupMarker},
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data: %w", err)
	}
	return "#cloud-config\n" + string(out), nil
}

func renderMetaData(name string) (string, error) {
	out, err := yaml.Marshal(&metaData{InstanceID: name, LocalHostname: name})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data: %w", err)
	}
	return string(out), nil
}

// seedISO renders the NoCloud seed image for a spec. The volume label must
// be CIDATA for the datasource to find it. Network config is omitted, the
// guest falls back to DHCP on the bridge.
func seedISO(name string, spec *Spec) ([]byte, error) {
	ud, err := renderUserData(name, spec)
	if err != nil {
		return nil, err
	}
	md, err := renderMetaData(name)
	if err != nil {
		return nil, err
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() { _ = writer.Cleanup() }()

	if err := writer.AddFile(bytes.NewReader([]byte(ud)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}
	if err := writer.AddFile(bytes.NewReader([]byte(md)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}
