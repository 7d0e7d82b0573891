package compression

import (
	"bytes"
	"compress/gzip"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"netkit/internal/errors"
	"netkit/internal/filesystem"
)

// gzSuffix is the remote-name marker PrepareUpload/FinishDownload
// use to record that a file travelled compressed.
const gzSuffix = ".gz"

// CompressData compresses data using gzip, picking DefaultCompression for
// extensions filesystem already classifies as compressible text and
// BestSpeed otherwise, since re-compressing media/archives mostly just
// burns CPU.
func CompressData(data []byte, filename string) ([]byte, error) {
	var buf bytes.Buffer
	level := gzip.BestSpeed
	if filesystem.GetCompressibleExtensions()[filepath.Ext(filename)] {
		level = gzip.DefaultCompression
	}

	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, errors.NewCompressionError("create_writer", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, errors.NewCompressionError("write_data", err)
	}
	if err := writer.Close(); err != nil {
		return nil, errors.NewCompressionError("close_writer", err)
	}

	compressed := buf.Bytes()
	slog.Debug("data compressed",
		"original_size", len(data),
		"compressed_size", len(compressed),
		"ratio", GetCompressionRatio(len(data), len(compressed)))
	return compressed, nil
}

// DecompressData inflates compressedData, which must have been produced by
// CompressData. expectedSize sizes the output buffer; a short read is
// tolerated up to io.EOF/io.ErrUnexpectedEOF, so an expectedSize larger than
// the inflated data yields just the bytes that came out instead of an
// error. An expectedSize smaller than the inflated data cuts the result off
// at expectedSize bytes.
func DecompressData(compressedData []byte, expectedSize int) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, errors.NewCompressionError("create_reader", err)
	}
	defer reader.Close()

	buffer := make([]byte, expectedSize)
	n, err := io.ReadFull(reader, buffer)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.NewCompressionError("read_data", err)
	}

	slog.Debug("data decompressed", "compressed_size", len(compressedData), "decompressed_size", n)
	return buffer[:n], nil
}

// ShouldCompressFile reports whether filename's extension is worth
// gzip'ing before handing it to a transfer.
func ShouldCompressFile(filename string) bool {
	return filesystem.ShouldCompress(filename)
}

// GetCompressionRatio returns originalSize/compressedSize, or 0 if
// compressedSize is 0 (nothing to divide by, and a transfer that uploaded
// zero compressed bytes didn't really compress anything).
func GetCompressionRatio(originalSize, compressedSize int) float64 {
	if compressedSize == 0 {
		return 0
	}
	return float64(originalSize) / float64(compressedSize)
}

// PrepareUpload decides whether localName is worth compressing and, if so,
// compresses raw and returns the ".gz"-suffixed remote name the orchestrator
// should upload under. If localName isn't worth compressing, raw is
// returned unchanged under the original remote name. Either way the
// returned remoteName is what the caller should pass to the upload call.
func PrepareUpload(raw []byte, localName, remoteName string) (body []byte, finalRemoteName string, compressed bool, err error) {
	if !ShouldCompressFile(localName) {
		return raw, remoteName, false, nil
	}
	out, err := CompressData(raw, localName)
	if err != nil {
		return nil, "", false, err
	}
	return out, remoteName + gzSuffix, true, nil
}

// FinishDownload inflates body if remoteName carries the ".gz" marker
// PrepareUpload appends, returning the raw bytes and the local name with
// that marker stripped back off. If remoteName isn't gz-suffixed, body is
// returned unchanged.
func FinishDownload(body []byte, remoteName string, expectedSize int) (raw []byte, localName string, err error) {
	if !strings.HasSuffix(remoteName, gzSuffix) {
		return body, remoteName, nil
	}
	raw, err = DecompressData(body, expectedSize)
	if err != nil {
		return nil, "", err
	}
	return raw, strings.TrimSuffix(remoteName, gzSuffix), nil
}
