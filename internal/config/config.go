// Package config loads the YAML runtime configuration: one Config
// document with nested per-concern sections for the serial MCU link, PTL
// framing, task scheduler, IPC socket, simulator, datastore, diagnostics
// bridge, and websocket bridge.
package config

import (
	"fmt"
	"os"
	"time"

	"octopus/internal/serialport"

	"gopkg.in/yaml.v3"
)

// Config is the top-level runtime configuration.
type Config struct {
	Serial struct {
		Name        string `yaml:"name"`
		BaudRate    int    `yaml:"baudRate"`
		ReadTimeout int    `yaml:"readTimeoutMs"`
	} `yaml:"serial"`

	PTL struct {
		SOF         int  `yaml:"sof"`
		AcksEnabled bool `yaml:"acksEnabled"`
	} `yaml:"ptl"`

	Task struct {
		TickMs int `yaml:"tickMs"`
	} `yaml:"task"`

	IPC struct {
		SocketPath string `yaml:"socketPath"`
		// ServerExec lets a UI-side client auto-spawn the service when it
		// finds no one listening on SocketPath.
		ServerExec string `yaml:"serverExec"`
	} `yaml:"ipc"`

	Simulator struct {
		Enabled    bool   `yaml:"enabled"`
		TargetPort string `yaml:"targetPort"`
		BaudRate   int    `yaml:"baudRate"`
		TickMs     int    `yaml:"tickMs"`
	} `yaml:"simulator"`

	Datastore struct {
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		InfluxDB struct {
			URL    string `yaml:"url"`
			Org    string `yaml:"org"`
			Bucket string `yaml:"bucket"`
			Token  string `yaml:"token"`
		} `yaml:"influxdb"`
	} `yaml:"datastore"`

	Diagnostics struct {
		Enabled    bool   `yaml:"enabled"`
		CANIface   string `yaml:"canIface"`
		OBDAddress string `yaml:"obdAddress"`
	} `yaml:"diagnostics"`

	WSBridge struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"wsBridge"`
}

// LoadConfig reads the config file and returns a Config struct.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// GetSerialConfig returns the serial port configuration derived from the
// loaded config, filling in a default read timeout when unset.
func (c *Config) GetSerialConfig() serialport.Config {
	timeout := c.Serial.ReadTimeout
	if timeout <= 0 {
		timeout = 100
	}
	return serialport.Config{
		Name:        c.Serial.Name,
		Baud:        c.Serial.BaudRate,
		ReadTimeout: time.Duration(timeout) * time.Millisecond,
	}
}

// Default returns a Config populated with sane defaults for a local run.
func Default() *Config {
	var c Config
	c.Serial.Name = "/dev/ttyUSB0"
	c.Serial.BaudRate = 115200
	c.Serial.ReadTimeout = 100
	c.PTL.SOF = 0xF5
	c.PTL.AcksEnabled = true
	c.Task.TickMs = 10
	c.IPC.SocketPath = "/tmp/octopus/ipc_socket"
	c.Simulator.TickMs = 10
	return &c
}
