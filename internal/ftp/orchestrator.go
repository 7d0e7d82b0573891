package ftp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"netkit/internal/compression"
	"netkit/internal/config"
	"netkit/internal/errors"
	"netkit/internal/filesystem"
	"netkit/internal/logging"
	"netkit/internal/network"
	"netkit/internal/progress"
)

// MakeRequestHook lets a caller tack extras onto a freshly dialed
// connection before it is used — e.g. enabling FTPS.
type MakeRequestHook func(conn *ftp.ServerConn) error

// Orchestrator builds FTP verb requests against hostName+"/"+remotePath
// using a pool of connections capped at the effective connectionsLimit.
type Orchestrator struct {
	defaults ConnectionOptions

	sem   chan struct{}
	mu    sync.Mutex
	pool  []*ftp.ServerConn
	limit int

	target string

	OnMakeRequest MakeRequestHook
}

// New builds an Orchestrator from the handler's default ConnectionOptions.
func New(defaults ConnectionOptions) *Orchestrator {
	if defaults.BufferSize == 0 {
		d := DefaultOptions()
		defaults = defaults.merge(d)
	}
	limit := defaults.ConnectionsLimit
	if limit <= 0 {
		limit = 1
	}
	return &Orchestrator{
		defaults: defaults,
		sem:      make(chan struct{}, limit),
		limit:    limit,
		target:   "",
	}
}

// Target returns the orchestrator's current working path, which a
// successful Rename advances.
func (o *Orchestrator) Target() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.target
}

func (o *Orchestrator) remotePath(remotePath string) string {
	o.mu.Lock()
	host := o.defaults.HostName
	o.mu.Unlock()
	if host == "" {
		return remotePath
	}
	return strings.TrimSuffix(host, "/") + "/" + strings.TrimPrefix(remotePath, "/")
}

// acquire checks out a pooled connection, dialing a fresh one if the pool
// is empty and the connections-limit semaphore admits it, applying the
// effective (per-call ∨ default) ConnectionOptions.
func (o *Orchestrator) acquire(ctx context.Context, override ConnectionOptions) (*ftp.ServerConn, ConnectionOptions, error) {
	o.mu.Lock()
	opts := override.merge(o.defaults)
	o.mu.Unlock()

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, opts, ctx.Err()
	}

	o.mu.Lock()
	if n := len(o.pool); n > 0 {
		conn := o.pool[n-1]
		o.pool = o.pool[:n-1]
		o.mu.Unlock()
		return conn, opts, nil
	}
	o.mu.Unlock()

	dialOpts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(opts.DialTimeout),
	}
	if opts.UsePassive {
		dialOpts = append(dialOpts, ftp.DialWithDisabledEPSV(false))
	} else {
		dialOpts = append(dialOpts, ftp.DialWithDisabledEPSV(true))
	}

	addr := opts.HostName
	if !strings.Contains(addr, ":") {
		addr = addr + ":21"
	}

	conn, err := ftp.Dial(addr, dialOpts...)
	if err != nil {
		o.release()
		return nil, opts, errors.NewDialError(addr, err)
	}

	if opts.Credentials.Username != "" {
		if err := conn.Login(opts.Credentials.Username, opts.Credentials.Password); err != nil {
			conn.Quit()
			o.release()
			return nil, opts, errors.NewTransferError("LOGIN", err.Error())
		}
	}

	if o.OnMakeRequest != nil {
		if err := o.OnMakeRequest(conn); err != nil {
			conn.Quit()
			o.release()
			return nil, opts, err
		}
	}

	// When adaptive pacing is requested and the caller didn't pin a
	// buffer size explicitly, size the transfer buffer off a network
	// profile of this peer (*ftp.ServerConn doesn't expose its control
	// connection, so the profile is taken over a throwaway probe dial to
	// the same address rather than the real connection).
	if opts.AdaptiveDelay && override.BufferSize == 0 {
		if profile, ok := probeNetworkProfile(addr); ok {
			opts.BufferSize = int(profile.OptimalChunkSize)
			logging.LogNetworkMetrics(profile.RTT, profile.Bandwidth, profile.PacketLoss)
		}
	}

	return conn, opts, nil
}

// probeNetworkProfile opens a short-lived connection to addr purely to
// drive network.ProfileNetwork's connect-latency sampling; it never
// carries FTP traffic.
func probeNetworkProfile(addr string) (network.NetworkProfile, bool) {
	probe, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return network.NetworkProfile{}, false
	}
	defer probe.Close()
	return network.ProfileNetwork(probe), true
}

func (o *Orchestrator) releaseConn(conn *ftp.ServerConn, keepAlive bool) {
	if !keepAlive {
		conn.Quit()
		o.release()
		return
	}
	o.mu.Lock()
	o.pool = append(o.pool, conn)
	o.mu.Unlock()
	o.release()
}

func (o *Orchestrator) release() {
	select {
	case <-o.sem:
	default:
	}
}

// Close tears down every pooled connection.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	pool := o.pool
	o.pool = nil
	o.mu.Unlock()
	for _, c := range pool {
		c.Quit()
	}
}

// ListNames lists bare entry names under remotePath (NLST).
func (o *Orchestrator) ListNames(ctx context.Context, remotePath string, override ConnectionOptions) ([]string, error) {
	conn, opts, err := o.acquire(ctx, override)
	if err != nil {
		return nil, err
	}
	defer o.releaseConn(conn, opts.KeepAlive)

	names, err := conn.NameList(o.remotePath(remotePath))
	if err != nil {
		return nil, errors.NewTransferError("NLST", err.Error())
	}
	return names, nil
}

// Entry mirrors the subset of ftp.Entry this module exposes.
type Entry struct {
	Name string
	Size uint64
	Time time.Time
	Dir  bool
}

// ListDetails lists full directory entries under remotePath (LIST).
func (o *Orchestrator) ListDetails(ctx context.Context, remotePath string, override ConnectionOptions) ([]Entry, error) {
	conn, opts, err := o.acquire(ctx, override)
	if err != nil {
		return nil, err
	}
	defer o.releaseConn(conn, opts.KeepAlive)

	entries, err := conn.List(o.remotePath(remotePath))
	if err != nil {
		return nil, errors.NewTransferError("LIST", err.Error())
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Entry{
			Name: e.Name,
			Size: e.Size,
			Time: e.Time,
			Dir:  e.Type == ftp.EntryTypeFolder,
		})
	}
	return out, nil
}

// Rename renames oldPath to newName (relative to oldPath's directory) and,
// on success, advances the orchestrator's target so chained operations see
// the new location.
func (o *Orchestrator) Rename(ctx context.Context, oldPath, newName string, override ConnectionOptions) error {
	conn, opts, err := o.acquire(ctx, override)
	if err != nil {
		return err
	}
	defer o.releaseConn(conn, opts.KeepAlive)

	from := o.remotePath(oldPath)
	to := path.Join(path.Dir(from), newName)

	// jlaffaye/ftp's Rename returns nil only on a 2xx RNTO reply, so a nil
	// error here already means status == CommandOK.
	if err := conn.Rename(from, to); err != nil {
		return errors.NewTransferError("RNTO", err.Error())
	}

	o.mu.Lock()
	o.target = to
	o.mu.Unlock()
	return nil
}

// Delete removes a remote file (DELE).
func (o *Orchestrator) Delete(ctx context.Context, remotePath string, override ConnectionOptions) error {
	conn, opts, err := o.acquire(ctx, override)
	if err != nil {
		return err
	}
	defer o.releaseConn(conn, opts.KeepAlive)

	if err := conn.Delete(o.remotePath(remotePath)); err != nil {
		return errors.NewTransferError("DELE", err.Error())
	}
	return nil
}

// MakeDir creates a remote directory (MKD).
func (o *Orchestrator) MakeDir(ctx context.Context, remotePath string, override ConnectionOptions) error {
	conn, opts, err := o.acquire(ctx, override)
	if err != nil {
		return err
	}
	defer o.releaseConn(conn, opts.KeepAlive)

	if err := conn.MakeDir(o.remotePath(remotePath)); err != nil {
		return errors.NewTransferError("MKD", err.Error())
	}
	return nil
}

// RemoveDir removes a remote directory (RMD).
func (o *Orchestrator) RemoveDir(ctx context.Context, remotePath string, override ConnectionOptions) error {
	conn, opts, err := o.acquire(ctx, override)
	if err != nil {
		return err
	}
	defer o.releaseConn(conn, opts.KeepAlive)

	if err := conn.RemoveDir(o.remotePath(remotePath)); err != nil {
		return errors.NewTransferError("RMD", err.Error())
	}
	return nil
}

// Pwd returns the server's current working directory (PWD).
func (o *Orchestrator) Pwd(ctx context.Context, override ConnectionOptions) (string, error) {
	conn, opts, err := o.acquire(ctx, override)
	if err != nil {
		return "", err
	}
	defer o.releaseConn(conn, opts.KeepAlive)

	dir, err := conn.CurrentDir()
	if err != nil {
		return "", errors.NewTransferError("PWD", err.Error())
	}
	return dir, nil
}

// GetSize retrieves the remote file's size (SIZE).
func (o *Orchestrator) GetSize(ctx context.Context, remotePath string, override ConnectionOptions) (int64, error) {
	conn, opts, err := o.acquire(ctx, override)
	if err != nil {
		return -1, err
	}
	defer o.releaseConn(conn, opts.KeepAlive)

	size, err := conn.FileSize(o.remotePath(remotePath))
	if err != nil {
		return -1, errors.NewTransferError("SIZE", err.Error())
	}
	return size, nil
}

// GetModTime retrieves the remote file's modification time (MDTM).
func (o *Orchestrator) GetModTime(ctx context.Context, remotePath string, override ConnectionOptions) (time.Time, error) {
	conn, opts, err := o.acquire(ctx, override)
	if err != nil {
		return time.Time{}, err
	}
	defer o.releaseConn(conn, opts.KeepAlive)

	t, err := conn.GetTime(o.remotePath(remotePath))
	if err != nil {
		return time.Time{}, errors.NewTransferError("MDTM", err.Error())
	}
	return t, nil
}

// DownloadOptions configures a single download call and its
// streaming-transfer loop.
type DownloadOptions struct {
	ConnectionOptions
	Monitor    *progress.Monitor
	OnInit     func(totalLength int64)
	OnProgress func(currentCount, totalLength int64, percent int)
}

// DownloadToWriter streams remotePath into w, optionally prefetching its
// size and driving a progress.Monitor: size prefetch failures degrade to
// "unknown" rather than aborting.
func (o *Orchestrator) DownloadToWriter(ctx context.Context, remotePath string, w io.Writer, opts DownloadOptions) (int64, error) {
	conn, effective, err := o.acquire(ctx, opts.ConnectionOptions)
	if err != nil {
		return 0, err
	}
	defer o.releaseConn(conn, effective.KeepAlive)

	resolved := o.remotePath(remotePath)

	totalLength := int64(-1)
	if opts.Monitor != nil {
		if size, sizeErr := conn.FileSize(resolved); sizeErr == nil {
			totalLength = size
		}
		opts.Monitor.SetTotalLength(totalLength)
		if opts.OnInit != nil {
			opts.OnInit(totalLength)
		}
		opts.Monitor.Start()
		defer opts.Monitor.Stop()
	}

	resp, err := conn.Retr(resolved)
	if err != nil {
		return 0, errors.NewTransferError("RETR", err.Error())
	}
	defer resp.Close()

	bufSize := effective.BufferSize
	if bufSize <= 0 {
		bufSize = DefaultOptions().BufferSize
	}
	buf := make([]byte, bufSize)

	var stats *network.NetworkStats
	if effective.AdaptiveDelay {
		stats = network.NewNetworkStats(&config.Config{
			AdaptiveDelay: true,
			MinDelay:      effective.MinDelay,
			MaxDelay:      effective.MaxDelay,
		})
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, rerr := resp.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, errors.NewFileSystemError("write", "", werr)
			}
			total += int64(n)
			if opts.Monitor != nil {
				opts.Monitor.Add(int64(n))
			}
			if opts.OnProgress != nil {
				pct := -1
				if opts.Monitor != nil {
					pct = opts.Monitor.Percent()
				}
				opts.OnProgress(total, totalLength, pct)
			}
			if stats != nil {
				stats.UpdateStats(int64(n))
				time.Sleep(stats.GetDelay(effective.ChunkDelay))
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return total, errors.NewReceiveError(rerr)
		}
	}
	return total, nil
}

// DownloadToFile downloads remotePath to a local file at localPath.
func (o *Orchestrator) DownloadToFile(ctx context.Context, remotePath, localPath string, opts DownloadOptions) (int64, error) {
	f, err := os.Create(localPath)
	if err != nil {
		return 0, errors.NewFileSystemError("create", localPath, err)
	}
	defer f.Close()
	return o.DownloadToWriter(ctx, remotePath, f, opts)
}

// DownloadToBuffer downloads remotePath and returns its contents whole.
func (o *Orchestrator) DownloadToBuffer(ctx context.Context, remotePath string, opts DownloadOptions) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := o.DownloadToWriter(ctx, remotePath, &buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownloadToString downloads remotePath and returns its contents as text.
func (o *Orchestrator) DownloadToString(ctx context.Context, remotePath string, opts DownloadOptions) (string, error) {
	data, err := o.DownloadToBuffer(ctx, remotePath, opts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UploadOptions configures a single upload call.
type UploadOptions struct {
	ConnectionOptions
	Monitor    *progress.Monitor
	OnInit     func(totalLength int64)
	OnProgress func(currentCount, totalLength int64, percent int)
}

type sizer interface {
	Size() int64
}

// countingReader wraps a reader, feeding every read into the monitor and
// the optional progress callback — the same loop shape for plain upload,
// append, and upload-as-unique.
type countingReader struct {
	ctx        context.Context
	r          io.Reader
	opts       UploadOptions
	total      int64
	totalLen   int64
	stats      *network.NetworkStats
	chunkDelay time.Duration
}

func (c *countingReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	if n > 0 {
		c.total += int64(n)
		if c.opts.Monitor != nil {
			c.opts.Monitor.Add(int64(n))
		}
		if c.opts.OnProgress != nil {
			pct := -1
			if c.opts.Monitor != nil {
				pct = c.opts.Monitor.Percent()
			}
			c.opts.OnProgress(c.total, c.totalLen, pct)
		}
		if c.stats != nil {
			c.stats.UpdateStats(int64(n))
			time.Sleep(c.stats.GetDelay(c.chunkDelay))
		}
	}
	return n, err
}

func (o *Orchestrator) upload(ctx context.Context, verb, remotePath string, r io.Reader, opts UploadOptions, do func(conn *ftp.ServerConn, resolved string, body io.Reader) error) error {
	conn, effective, err := o.acquire(ctx, opts.ConnectionOptions)
	if err != nil {
		return err
	}
	defer o.releaseConn(conn, effective.KeepAlive)

	totalLen := int64(-1)
	if sz, ok := r.(sizer); ok {
		totalLen = sz.Size()
	}

	if opts.Monitor != nil {
		opts.Monitor.SetTotalLength(totalLen)
		if opts.OnInit != nil {
			opts.OnInit(totalLen)
		}
		opts.Monitor.Start()
		defer opts.Monitor.Stop()
	}

	var stats *network.NetworkStats
	if effective.AdaptiveDelay {
		stats = network.NewNetworkStats(&config.Config{
			AdaptiveDelay: true,
			MinDelay:      effective.MinDelay,
			MaxDelay:      effective.MaxDelay,
		})
	}

	cr := &countingReader{ctx: ctx, r: r, opts: opts, totalLen: totalLen, stats: stats, chunkDelay: effective.ChunkDelay}
	if err := do(conn, o.remotePath(remotePath), cr); err != nil {
		return errors.NewTransferError(verb, err.Error())
	}
	return nil
}

// UploadFile uploads a local file to remotePath (STOR).
func (o *Orchestrator) UploadFile(ctx context.Context, localPath, remotePath string, opts UploadOptions) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.NewFileSystemError("open", localPath, err)
	}
	defer f.Close()
	return o.UploadStream(ctx, f, remotePath, opts)
}

// sizedReader adapts an *os.File (which has Stat, not Size) to the sizer
// interface countingReader/upload look for.
type sizedReader struct {
	io.Reader
	size int64
}

func (s sizedReader) Size() int64 { return s.size }

// UploadStream uploads from an arbitrary reader to remotePath (STOR).
func (o *Orchestrator) UploadStream(ctx context.Context, r io.Reader, remotePath string, opts UploadOptions) error {
	r = preflightSize(r)
	return o.upload(ctx, "STOR", remotePath, r, opts, func(conn *ftp.ServerConn, resolved string, body io.Reader) error {
		return conn.Stor(resolved, body)
	})
}

// Append appends a stream's contents to an existing remote file (APPE).
func (o *Orchestrator) Append(ctx context.Context, r io.Reader, remotePath string, opts UploadOptions) error {
	r = preflightSize(r)
	return o.upload(ctx, "APPE", remotePath, r, opts, func(conn *ftp.ServerConn, resolved string, body io.Reader) error {
		return conn.Append(resolved, body)
	})
}

// UploadUnique uploads a stream under a unique name chosen by this client.
// The jlaffaye/ftp client does not expose STOU, so this synthesizes a unique
// name client-side and performs a plain STOR under it, returning the name
// it chose; the server does not assign or report the name. See DESIGN.md.
func (o *Orchestrator) UploadUnique(ctx context.Context, r io.Reader, remoteDir string, opts UploadOptions) (string, error) {
	unique := fmt.Sprintf("upload-%d-%d", time.Now().UnixNano(), os.Getpid())
	target := strings.TrimSuffix(remoteDir, "/") + "/" + unique
	if err := o.UploadStream(ctx, r, target, opts); err != nil {
		return "", err
	}
	return unique, nil
}

// UploadFileCompressed gzip-compresses localPath before uploading it when
// filesystem.ShouldCompress lists its extension as compressible text;
// archives, media and unknown extensions are uploaded as-is — the upload lands at
// remotePath with a ".gz" suffix appended, or at remotePath unchanged if
// compression was skipped.
func (o *Orchestrator) UploadFileCompressed(ctx context.Context, localPath, remotePath string, opts UploadOptions) (string, error) {
	raw, err := os.ReadFile(localPath)
	if err != nil {
		return "", errors.NewFileSystemError("read", localPath, err)
	}

	body, target, _, err := compression.PrepareUpload(raw, filepath.Base(localPath), remotePath)
	if err != nil {
		return "", err
	}

	if err := o.UploadStream(ctx, bytes.NewReader(body), target, opts); err != nil {
		return "", err
	}
	return target, nil
}

// DownloadFileDecompressed downloads remotePath and, if it carries the
// ".gz" suffix UploadFileCompressed appends, inflates it before writing to
// localPath; otherwise the bytes are written as-is. expectedSize is the
// uncompressed size, used to preallocate the decompression buffer.
func (o *Orchestrator) DownloadFileDecompressed(ctx context.Context, remotePath, localPath string, expectedSize int, opts DownloadOptions) (int64, error) {
	body, err := o.DownloadToBuffer(ctx, remotePath, opts)
	if err != nil {
		return 0, err
	}

	raw, _, err := compression.FinishDownload(body, remotePath, expectedSize)
	if err != nil {
		return 0, err
	}

	if err := os.WriteFile(localPath, raw, config.StateFilePerms); err != nil {
		return 0, errors.NewFileSystemError("write", localPath, err)
	}
	return int64(len(raw)), nil
}

// DownloadToFileResumable downloads remotePath to localPath, recording a
// filesystem.TransferState alongside it so a retried call after a partial
// failure resumes from the byte offset already on disk (via RETR's REST
// parameter) instead of restarting, and verifies the result against
// verifyHash (an MD5 hex digest) when non-empty.
func (o *Orchestrator) DownloadToFileResumable(ctx context.Context, remotePath, localPath, stateDir, verifyHash string, opts DownloadOptions) (int64, error) {
	name := filepath.Base(localPath)

	var startOffset int64
	if state, err := filesystem.LoadTransferState(name, stateDir); err == nil && state.FileSize > 0 {
		if info, statErr := os.Stat(localPath); statErr == nil && info.Size() < state.FileSize {
			startOffset = info.Size()
		}
	}

	conn, effective, err := o.acquire(ctx, opts.ConnectionOptions)
	if err != nil {
		return 0, err
	}

	resolved := o.remotePath(remotePath)
	totalLength, sizeErr := conn.FileSize(resolved)
	if sizeErr != nil {
		totalLength = -1
	}

	state := &filesystem.TransferState{
		Filename:       name,
		FileSize:       totalLength,
		ChunkSize:      totalLength,
		NumChunks:      1,
		ChunksReceived: []bool{false},
	}
	if err := filesystem.SaveTransferState(state, stateDir); err != nil {
		o.releaseConn(conn, effective.KeepAlive)
		return 0, err
	}

	flags := os.O_CREATE | os.O_WRONLY
	if startOffset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(localPath, flags, config.StateFilePerms)
	if err != nil {
		o.releaseConn(conn, effective.KeepAlive)
		return 0, errors.NewFileSystemError("open", localPath, err)
	}

	if startOffset == 0 && totalLength > 0 {
		if err := filesystem.PreallocateFile(f, totalLength); err != nil {
			f.Close()
			o.releaseConn(conn, effective.KeepAlive)
			return 0, err
		}
	}

	var resp *ftp.Response
	if startOffset > 0 {
		resp, err = conn.RetrFrom(resolved, uint64(startOffset))
	} else {
		resp, err = conn.Retr(resolved)
	}
	if err != nil {
		f.Close()
		o.releaseConn(conn, effective.KeepAlive)
		return 0, errors.NewTransferError("RETR", err.Error())
	}

	if opts.Monitor != nil {
		opts.Monitor.SetTotalLength(totalLength)
		opts.Monitor.Start()
		defer opts.Monitor.Stop()
	}

	var resumeStats *network.NetworkStats
	if effective.AdaptiveDelay {
		resumeStats = network.NewNetworkStats(&config.Config{
			AdaptiveDelay: true,
			MinDelay:      effective.MinDelay,
			MaxDelay:      effective.MaxDelay,
		})
	}

	src := &countingReader{
		ctx:        ctx,
		r:          resp,
		opts:       UploadOptions{Monitor: opts.Monitor, OnProgress: opts.OnProgress},
		totalLen:   totalLength,
		stats:      resumeStats,
		chunkDelay: effective.ChunkDelay,
	}
	total, err := io.Copy(f, src)
	resp.Close()
	closeErr := filesystem.SafeFileOperation("close", f.Close)
	o.releaseConn(conn, effective.KeepAlive)
	if err != nil {
		// Drop any preallocated tail so a retry sees only the bytes that
		// actually arrived and resumes from there.
		_ = os.Truncate(localPath, startOffset+total)
		return startOffset + total, errors.NewReceiveError(err)
	}
	if closeErr != nil {
		return startOffset + total, closeErr
	}

	state.ChunksReceived[0] = true
	if err := filesystem.SaveTransferState(state, stateDir); err != nil {
		return startOffset + total, err
	}

	if verifyHash != "" {
		verifyF, err := os.Open(localPath)
		if err != nil {
			return startOffset + total, errors.NewFileSystemError("open", localPath, err)
		}
		sum, err := filesystem.CalculateFileHash(verifyF)
		verifyF.Close()
		if err != nil {
			return startOffset + total, err
		}
		if sum != verifyHash {
			return startOffset + total, errors.NewValidationError("checksum", localPath, "downloaded file hash does not match verifyHash")
		}
	}

	_ = filesystem.RemoveTransferState(name, stateDir)
	return startOffset + total, nil
}

func preflightSize(r io.Reader) io.Reader {
	if f, ok := r.(*os.File); ok {
		if st, err := f.Stat(); err == nil {
			return sizedReader{Reader: r, size: st.Size()}
		}
	}
	return r
}
