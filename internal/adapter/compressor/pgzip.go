package compressor

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/klauspost/pgzip"
)

const (
	blockSize = 1 << 20
	gzExt     = ".gz"
)

// Pgzip is the artifact codec: gzip-compatible output produced in parallel blocks.
type Pgzip struct {
	level   int
	workers int
}

func NewPgzip(level int) *Pgzip {
	if level < pgzip.BestSpeed || level > pgzip.BestCompression {
		level = pgzip.DefaultCompression
	}
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return &Pgzip{level: level, workers: workers}
}

// CompressFile writes path.gz next to path and removes the raw file.
func (p *Pgzip) CompressFile(path string) (string, error) {
	destPath := path + gzExt
	if err := p.Compress(path, destPath); err != nil {
		_ = os.Remove(destPath)
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to remove raw file: %w", err)
	}
	return destPath, nil
}

func (p *Pgzip) DecompressFile(sourcePath, destPath string) error {
	if err := p.Decompress(sourcePath, destPath); err != nil {
		_ = os.Remove(destPath)
		return err
	}
	return nil
}

func (p *Pgzip) Compress(sourcePath, destPath string) error {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer destFile.Close()

	gzipWriter, err := pgzip.NewWriterLevel(destFile, p.level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if err := gzipWriter.SetConcurrency(blockSize, p.workers); err != nil {
		gzipWriter.Close()
		return fmt.Errorf("failed to configure gzip writer: %w", err)
	}

	if _, err := io.Copy(gzipWriter, sourceFile); err != nil {
		gzipWriter.Close()
		return fmt.Errorf("failed to compress: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("failed to flush gzip stream: %w", err)
	}

	return destFile.Sync()
}

func (p *Pgzip) Decompress(sourcePath, destPath string) error {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	gzipReader, err := pgzip.NewReaderN(sourceFile, blockSize, p.workers)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, gzipReader); err != nil {
		return fmt.Errorf("failed to decompress: %w", err)
	}

	return nil
}
