package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/naoina/toml"
	"github.com/rrb3942/pollrpc"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(_ reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(_ reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// duration is a [time.Duration] written as "1m30s" in TOML.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = duration(v)

	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// peerConfig holds the connection settings shared by every command.
type peerConfig struct {
	// Greeting is exchanged on connect when set. Both sides must use the same value.
	Greeting       string `toml:",omitempty"`
	Compress       bool
	PingSendPeriod duration `toml:",omitempty"`
	PingTimeout    duration `toml:",omitempty"`
	ConnectTimeout duration `toml:",omitempty"`
	MaxMessageSize int      `toml:",omitempty"`
}

type serveConfig struct {
	Listen      string
	HTTP        string `toml:",omitempty"`
	AcceptRate  float64
	AcceptBurst int
	MaxBytes    int64
}

type postConfig struct {
	Timeout            duration `toml:",omitempty"`
	AutoRetries        int
	InsecureSkipVerify bool
}

type fileConfig struct {
	Peer  peerConfig
	Serve serveConfig
	Post  postConfig
}

func defaultConfig() fileConfig {
	return fileConfig{
		Serve: serveConfig{Listen: "tcp::9090"},
		Post:  postConfig{Timeout: duration(30 * time.Second), AutoRetries: 2},
	}
}

func loadConfig(file string, cfg *fileConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	var lineErr *toml.LineError
	if errors.As(err, &lineErr) {
		err = errors.New(file + ", " + err.Error())
	}

	return err
}

// negotiator returns the handshake configured by Greeting, or nil.
// The peer sends its greeting and expects the same one back.
func (pc peerConfig) negotiator() pollrpc.Negotiator {
	if pc.Greeting == "" {
		if pc.Compress {
			return &pollrpc.StaticNegotiator{Compress: true}
		}

		return nil
	}

	greeting := []byte(pc.Greeting + "\n")

	return &pollrpc.StaticNegotiator{Send: greeting, Expect: greeting, Compress: pc.Compress}
}

func (pc peerConfig) clientConfig() pollrpc.ClientConfig {
	return pollrpc.ClientConfig{
		Negotiator:     pc.negotiator(),
		PingSendPeriod: time.Duration(pc.PingSendPeriod),
		PingTimeout:    time.Duration(pc.PingTimeout),
		ConnectTimeout: time.Duration(pc.ConnectTimeout),
		MaxMessageSize: pc.MaxMessageSize,
	}
}
