package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const episodeSchema = "tower_episode_v1"

// EpisodeBatchWriter streams episode rows into a Parquet file under
// outDir/tmp. Finalize moves it into outDir, so readers globbing outDir never
// see a partial file.
type EpisodeBatchWriter struct {
	outDir  string
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[EpisodeRow]

	episodes int
	rows     int
}

func NewEpisodeBatchWriter(outDir string) (*EpisodeBatchWriter, error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("episodes_%d.parquet", time.Now().UnixNano())
	tmpPath := filepath.Join(tmpDir, name)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}
	w := parquet.NewGenericWriter[EpisodeRow](f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	w.SetKeyValueMetadata("schema", episodeSchema)

	return &EpisodeBatchWriter{
		outDir:  absOut,
		tmpPath: tmpPath,
		outPath: filepath.Join(absOut, name),
		file:    f,
		writer:  w,
	}, nil
}

func (b *EpisodeBatchWriter) OutPath() string { return b.outPath }
func (b *EpisodeBatchWriter) Episodes() int   { return b.episodes }
func (b *EpisodeBatchWriter) Rows() int       { return b.rows }

// WriteEpisode appends the rows of one finished episode.
func (b *EpisodeBatchWriter) WriteEpisode(rows []EpisodeRow) error {
	if b.writer == nil {
		return fmt.Errorf("episode writer is closed")
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := b.writer.Write(rows); err != nil {
		return fmt.Errorf("write episode rows: %w", err)
	}
	b.rows += len(rows)
	b.episodes++
	return nil
}

// Finalize closes the file and moves it into outDir. With no rows written the
// tmp file is removed and the returned path is empty.
func (b *EpisodeBatchWriter) Finalize() (string, error) {
	if b.writer == nil && b.file == nil {
		return "", nil
	}

	var closeErr, fileErr error
	if b.writer != nil {
		closeErr = b.writer.Close()
		b.writer = nil
	}
	if b.file != nil {
		_ = b.file.Sync()
		fileErr = b.file.Close()
		b.file = nil
	}
	if closeErr != nil {
		_ = os.Remove(b.tmpPath)
		return "", fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		_ = os.Remove(b.tmpPath)
		return "", fmt.Errorf("close parquet file: %w", fileErr)
	}

	if b.rows == 0 {
		_ = os.Remove(b.tmpPath)
		return "", nil
	}
	if err := os.Rename(b.tmpPath, b.outPath); err != nil {
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return b.outPath, nil
}
