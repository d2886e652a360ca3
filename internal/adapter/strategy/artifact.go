package strategy

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// ArtifactKind is the on-disk format of an uncompressed backup file.
type ArtifactKind int

const (
	ArtifactSQL ArtifactKind = iota
	ArtifactJSON
	ArtifactSQLiteFile
	ArtifactPGCustom
	ArtifactMongoArchive
)

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactJSON:
		return "json"
	case ArtifactSQLiteFile:
		return "sqlite-file"
	case ArtifactPGCustom:
		return "pg-custom"
	case ArtifactMongoArchive:
		return "mongo-archive"
	}
	return "sql"
}

var (
	sqliteMagic       = []byte("SQLite format 3\x00")
	pgCustomMagic     = []byte("PGDMP")
	mongoArchiveMagic = []byte{0x6d, 0xe2, 0x99, 0x81}
)

// Sniff classifies an artifact from its leading bytes.
func Sniff(path string) (ArtifactKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return ArtifactSQL, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	head := make([]byte, 64)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ArtifactSQL, fmt.Errorf("failed to read backup file: %w", err)
	}
	return sniffBytes(head[:n]), nil
}

func sniffBytes(head []byte) ArtifactKind {
	switch {
	case bytes.HasPrefix(head, sqliteMagic):
		return ArtifactSQLiteFile
	case bytes.HasPrefix(head, pgCustomMagic):
		return ArtifactPGCustom
	case bytes.HasPrefix(head, mongoArchiveMagic):
		return ArtifactMongoArchive
	}
	if trimmed := bytes.TrimLeft(head, " \t\r\n\uFEFF"); len(trimmed) > 0 && trimmed[0] == '{' {
		return ArtifactJSON
	}
	return ArtifactSQL
}
