package torchat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	assert.Equal(t, "127.0.0.1", opts.ProxyHost)
	assert.Equal(t, uint16(DefaultProxyPort), opts.ProxyPort)
	assert.Equal(t, DefaultProxyUser, opts.ProxyUser)
	assert.Equal(t, uint16(DefaultPort), opts.ListenPort)
	assert.Empty(t, opts.OnionAddress)
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torchat.yaml")
	content := []byte("onion_address: abcdefghijklmnop\nlisten_port: 11010\nproxy_port: 9150\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	opts, err := LoadOptions(path)
	require.NoError(t, err)

	assert.Equal(t, "abcdefghijklmnop", opts.OnionAddress)
	assert.Equal(t, uint16(11010), opts.ListenPort)
	assert.Equal(t, uint16(9150), opts.ProxyPort)
	// untouched keys keep their defaults
	assert.Equal(t, "127.0.0.1", opts.ProxyHost)
	assert.Equal(t, DefaultProxyUser, opts.ProxyUser)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"complete", func(o *Options) { o.OnionAddress = "abcdefghijklmnop" }, false},
		{"missing onion", func(o *Options) {}, true},
		{"empty proxy user", func(o *Options) {
			o.OnionAddress = "abcdefghijklmnop"
			o.ProxyUser = ""
		}, true},
		{"no proxy port", func(o *Options) {
			o.OnionAddress = "abcdefghijklmnop"
			o.ProxyPort = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.mutate(opts)
			err := opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
