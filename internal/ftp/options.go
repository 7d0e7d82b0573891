// Package ftp implements the FTP Orchestrator: a thin, options-driven
// wrapper around github.com/jlaffaye/ftp that builds verb requests against
// hostName+"/"+remotePath, uses internal/network's profiling and
// adaptive-pacing machinery for its transfer loops, drives its
// own callback-based progress.Monitor, and caps concurrent connections
// per handler.
package ftp

import (
	"time"

	"netkit/internal/config"
)

// Credentials holds the login pair for a connection.
type Credentials struct {
	Username string
	Password string
}

// ConnectionOptions is shallow-copyable, with per-call overrides falling
// back to the handler's default.
type ConnectionOptions struct {
	BufferSize       int
	UseBinary        bool
	UsePassive       bool
	KeepAlive        bool
	HostName         string
	Proxy            string
	Credentials      Credentials
	GroupName        string
	ConnectionsLimit int
	DialTimeout      time.Duration

	// AdaptiveDelay, ChunkDelay, MinDelay, MaxDelay configure
	// internal/network's congestion-responsive pacing of the transfer
	// loop: a NetworkStats/GetDelay pause after each buffer-sized read
	// or write.
	AdaptiveDelay bool
	ChunkDelay    time.Duration
	MinDelay      time.Duration
	MaxDelay      time.Duration
}

// DefaultOptions returns the package's documented defaults: bufferSize
// 4096, useBinary/usePassive true, keepAlive false, connectionsLimit 2.
func DefaultOptions() ConnectionOptions {
	return ConnectionOptions{
		BufferSize:       4096,
		UseBinary:        true,
		UsePassive:       true,
		ConnectionsLimit: 2,
		DialTimeout:      30 * time.Second,
		ChunkDelay:       config.DefaultChunkDelay,
		MinDelay:         config.DefaultMinDelay,
		MaxDelay:         config.DefaultMaxDelay,
	}
}

// merge overrides zero-valued fields of o with fields from def, giving a
// per-call override precedence over the handler default.
func (o ConnectionOptions) merge(def ConnectionOptions) ConnectionOptions {
	out := o
	if out.BufferSize == 0 {
		out.BufferSize = def.BufferSize
	}
	if out.HostName == "" {
		out.HostName = def.HostName
	}
	if out.Proxy == "" {
		out.Proxy = def.Proxy
	}
	if out.Credentials == (Credentials{}) {
		out.Credentials = def.Credentials
	}
	if out.GroupName == "" {
		out.GroupName = def.GroupName
	}
	if out.ConnectionsLimit == 0 {
		out.ConnectionsLimit = def.ConnectionsLimit
	}
	if out.DialTimeout == 0 {
		out.DialTimeout = def.DialTimeout
	}
	if !out.UseBinary && def.UseBinary {
		out.UseBinary = def.UseBinary
	}
	if !out.UsePassive && def.UsePassive {
		out.UsePassive = def.UsePassive
	}
	if !out.KeepAlive && def.KeepAlive {
		out.KeepAlive = def.KeepAlive
	}
	if !out.AdaptiveDelay && def.AdaptiveDelay {
		out.AdaptiveDelay = def.AdaptiveDelay
	}
	if out.ChunkDelay == 0 {
		out.ChunkDelay = def.ChunkDelay
	}
	if out.MinDelay == 0 {
		out.MinDelay = def.MinDelay
	}
	if out.MaxDelay == 0 {
		out.MaxDelay = def.MaxDelay
	}
	return out
}
