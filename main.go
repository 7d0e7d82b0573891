/*
Copyright 2025 Yousaf Gill. All rights reserved.
Use of this source code is governed by the MIT license
that can be found in the LICENSE file.

netkit is a toolkit of composable networking primitives: a length-prefixed
TCP framing engine with optional TLS, a TCP server with a max-clients cap,
a UDP datagram handler, an FTP orchestrator, and a single-instance
coordinator. This binary is a thin demo harness over those packages, not
the deliverable itself.
*/
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"netkit/internal/config"
	"netkit/internal/filesystem"
	"netkit/internal/ftp"
	"netkit/internal/framing"
	"netkit/internal/logging"
	"netkit/internal/progress"
	"netkit/internal/singleinstance"
	"netkit/internal/tcpclient"
	"netkit/internal/tcpserver"
	"netkit/internal/tlsutil"
)

func main() {
	if err := logging.SetupLogger(); err != nil {
		slog.Error("Failed to setup logging", "error", err)
		os.Exit(1)
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		os.Exit(1)
	}
	logging.LogConfig(cfg)

	runtime.GOMAXPROCS(cfg.Workers)
	slog.Info("Runtime configured", "gomaxprocs", cfg.Workers)

	ctx, cancel := setupSignalHandling()
	defer cancel()

	if cfg.EnforceSingleInstance {
		if !runSingleInstanceGate(ctx, cfg) {
			return
		}
	}

	var runErr error
	switch cfg.Mode {
	case "ftp":
		runErr = runFTP(ctx, cfg)
	default:
		runErr = runTCPEcho(ctx, cfg)
	}

	if runErr != nil {
		logging.LogError(runErr, cfg.Mode)
		os.Exit(1)
	}
}

// runSingleInstanceGate probes for an already-running instance on
// loopback. If one is found, this process forwards its own argv and exits
// immediately (returns false); otherwise it becomes the coordinator for
// later instances and continues (returns true).
func runSingleInstanceGate(ctx context.Context, cfg *config.Config) bool {
	coord, err := singleinstance.New(ctx, cfg.SingleInstancePort, cfg.SingleInstanceTimeout, cfg.Timeout, os.Args[1:])
	if err != nil {
		slog.Error("single-instance coordination failed", "error", err)
		os.Exit(1)
	}

	if !coord.IsSingle() {
		slog.Info("another instance is already running, forwarded arguments and exiting")
		return false
	}

	coord.OnArgumentsReceived.Add(func(args []string) {
		slog.Info("received arguments from a second instance", "args", args)
	})
	return true
}

func runTCPEcho(ctx context.Context, cfg *config.Config) error {
	if cfg.IsServer {
		srv := tcpserver.New(cfg.ListenAddress, config.DefaultTCPBufferSize, cfg.TCPMaxClients)
		if cfg.TCPEnableTLS {
			supplier, err := tlsutil.FileCertificateSupplier(cfg.TCPCertFile, cfg.TCPKeyFile)
			if err != nil {
				return err
			}
			srv.CertSupplier = supplier
		}

		srv.OnConnected.Add(func(ci *framing.ConnectionInfo) {
			slog.Info("client connected", "remote", ci.Conn().RemoteAddr())
		})
		srv.OnReceivedFull.Add(func(full tcpserver.ReceivedFull) {
			slog.Debug("echoing packet", "bytes", len(full.Data))
			if err := full.Conn.Send(full.Data, true); err != nil {
				slog.Warn("echo send failed", "error", err)
			}
		})
		srv.OnDisconnected.Add(func(ci *framing.ConnectionInfo) {
			slog.Info("client disconnected")
		})

		if err := srv.Start(ctx); err != nil {
			return err
		}
		slog.Info("tcp echo server listening", "address", cfg.ListenAddress)

		<-ctx.Done()
		return srv.Stop()
	}

	client := tcpclient.New(cfg.ServerAddress, config.DefaultTCPBufferSize)
	if cfg.TCPEnableTLS {
		client.SslTargetHost = cfg.TargetHost
	}

	client.OnReceivedFull.Add(func(data []byte) {
		slog.Info("received echo", "bytes", len(data))
	})

	if !client.Connect(ctx) {
		return client.LastConnectError()
	}
	defer client.Disconnect()

	if cfg.FilePath != "" {
		info, err := filesystem.GetFileInfo(cfg.FilePath)
		if err != nil {
			return err
		}
		f, err := os.Open(cfg.FilePath)
		if err != nil {
			return err
		}
		defer f.Close()

		stats := &progress.Stats{
			TotalBytes: info.Size,
			Filename:   info.Name,
			StartTime:  time.Now(),
			Label:      "tcp-upload",
		}
		reporter := progress.NewReporter(stats, cfg.ShowProgress)
		reporter.Start()
		defer reporter.Stop()

		logging.LogSessionStart("CLIENT", info.Size, cfg.ChunkSize, cfg.Workers)
		start := time.Now()
		err = client.SendFile(&reportingReader{r: f, stats: stats}, info.Size, nil, nil, true)
		elapsed := time.Since(start)
		logging.LogSessionEnd(err == nil, info.Size, elapsed)
		if err == nil {
			logging.LogTransferComplete(info.Name, info.Size, elapsed)
		}
		return err
	}

	return client.Send([]byte("hello from netkit"), true)
}

// reportingReader feeds every read into a progress.Stats so SendFile's
// single io.CopyN can still drive a progress.Reporter without framing
// itself knowing about progress.
type reportingReader struct {
	r     io.Reader
	stats *progress.Stats
}

func (rr *reportingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if n > 0 {
		rr.stats.UpdateTransferred(int64(n))
	}
	return n, err
}

func runFTP(ctx context.Context, cfg *config.Config) error {
	opts := ftp.ConnectionOptions{
		HostName: cfg.TargetHost,
		Credentials: ftp.Credentials{
			Username: cfg.FTPUser,
			Password: cfg.FTPPass,
		},
		ConnectionsLimit: cfg.FTPConnectionsLimit,
		UsePassive:       cfg.FTPUsePassive,
		AdaptiveDelay:    cfg.AdaptiveDelay,
		ChunkDelay:       cfg.ChunkDelay,
		MinDelay:         cfg.MinDelay,
		MaxDelay:         cfg.MaxDelay,
	}
	if !cfg.AdaptiveDelay {
		opts.BufferSize = cfg.FTPBufferSize
	}
	orch := ftp.New(opts)
	defer orch.Close()

	var size int64
	if info, err := filesystem.GetFileInfo(cfg.FilePath); err == nil {
		size = info.Size
	}
	logging.LogSessionStart("FTP", size, int64(cfg.FTPBufferSize), cfg.Workers)
	start := time.Now()

	var opErr error
	switch cfg.FTPOp {
	case "upload":
		opErr = orch.UploadFile(ctx, cfg.FilePath, cfg.FTPRemote, ftp.UploadOptions{})
	default:
		var n int64
		n, opErr = orch.DownloadToFile(ctx, cfg.FTPRemote, cfg.FilePath, ftp.DownloadOptions{})
		size = n
	}

	elapsed := time.Since(start)
	logging.LogSessionEnd(opErr == nil, size, elapsed)
	if opErr == nil {
		logging.LogTransferComplete(filepath.Base(cfg.FTPRemote), size, elapsed)
	}
	return opErr
}

// setupSignalHandling returns a context cancelled on SIGINT/SIGTERM, and a
// cancel func callers should defer.
func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		time.Sleep(200 * time.Millisecond)
	}()

	return ctx, cancel
}
