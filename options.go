package torchat

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Protocol and deployment defaults.
const (
	// DefaultPort is the well-known TorChat port. Outgoing connections
	// always dial it; the hidden service forwards it to the local
	// listener.
	DefaultPort = 11009

	// DefaultProxyPort is the SOCKS port of a stock Tor client.
	DefaultProxyPort = 9050

	// DefaultProxyUser is the user id field of the SOCKS4a request.
	DefaultProxyUser = "TorChat"

	// onionSuffix is appended to an onion address to form the host name
	// handed to the proxy for resolution.
	onionSuffix = ".onion"
)

// Options contains configuration for creating a Client.
type Options struct {
	// ProxyHost and ProxyPort locate the SOCKS4a proxy all outgoing
	// connections go through.
	ProxyHost string `yaml:"proxy_host"`
	ProxyPort uint16 `yaml:"proxy_port"`

	// ProxyUser is the user id sent in the SOCKS4a request. Arbitrary,
	// but must not be empty.
	ProxyUser string `yaml:"proxy_user"`

	// ListenHost and ListenPort are where incoming connections arrive,
	// normally loopback with the hidden service pointed at it.
	ListenHost string `yaml:"listen_host"`
	ListenPort uint16 `yaml:"listen_port"`

	// OnionAddress is our own service address, without the .onion suffix.
	// It is opaque to the core; only the proxy ever resolves it.
	OnionAddress string `yaml:"onion_address"`

	// ClientName and ClientVersion identify this software to peers.
	ClientName    string `yaml:"client_name"`
	ClientVersion string `yaml:"client_version"`
}

// NewOptions creates an Options with the default deployment values
// filled in. OnionAddress has no default and must be set before the
// options are usable.
func NewOptions() *Options {
	return &Options{
		ProxyHost:     "127.0.0.1",
		ProxyPort:     DefaultProxyPort,
		ProxyUser:     DefaultProxyUser,
		ListenHost:    "127.0.0.1",
		ListenPort:    DefaultPort,
		ClientName:    "torchat-go",
		ClientVersion: "0.1.0",
	}
}

// LoadOptions reads a YAML options file over the defaults.
func LoadOptions(path string) (*Options, error) {
	opts := NewOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parse options: %w", err)
	}
	return opts, nil
}

// Validate reports the first configuration problem, if any.
func (o *Options) Validate() error {
	if o.OnionAddress == "" {
		return errors.New("onion address must be configured")
	}
	if o.ProxyUser == "" {
		return errors.New("proxy user id must not be empty")
	}
	if o.ProxyHost == "" || o.ProxyPort == 0 {
		return errors.New("proxy address must be configured")
	}
	return nil
}
