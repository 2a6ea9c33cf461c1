package utils

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// GzipCompress gzips data. The snapshot writer is the only producer, so the
// default compression level is fine.
func GzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write gzip stream: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}

// GzipDecompress inflates a gzip stream produced by GzipCompress.
func GzipDecompress(compressed []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
