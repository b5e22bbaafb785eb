// ingest/csv_reader.go
package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/gewnthar/playsync/models"
	"github.com/gewnthar/playsync/utils"
)

// DefaultBatchSize is used when ReadBatches gets a non-positive batch size.
const DefaultBatchSize = 500

// BatchFunc receives each full batch, numbered from 1. Returning an error
// stops the read. The slice is not reused after the call returns.
type BatchFunc func(ctx context.Context, batch []models.Row, batchNumber int) error

// CSVReader streams a CSV file in fixed-size batches, holding at most one
// batch in memory.
type CSVReader struct {
	logger *zap.Logger
}

func NewCSVReader(logger *zap.Logger) *CSVReader {
	return &CSVReader{logger: logger.With(zap.String("component", "csv_reader"))}
}

// ReadBatches returns the number of rows handed to fn. Rows the CSV parser
// rejects are logged and skipped.
func (c *CSVReader) ReadBatches(ctx context.Context, path string, batchSize int, fn BatchFunc) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64*1024)
	sample, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return 0, fmt.Errorf("sniff encoding: %w", err)
	}
	enc := DetectEncoding(sample)
	log := c.logger.With(zap.String("file", path), zap.String("encoding", string(enc)))

	r := csv.NewReader(NewDecodingReader(br, enc))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return 0, ErrNoHeader
	}
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		header[i] = utils.NormalizeColumnName(h)
	}

	var (
		total    int
		skipped  int
		batchNum int
		batch    = make([]models.Row, 0, batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		batchNum++
		if err := fn(ctx, batch, batchNum); err != nil {
			return err
		}
		batch = make([]models.Row, 0, batchSize)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				skipped++
				log.Warn("skipping malformed csv row", zap.Int("line", pe.Line), zap.Error(err))
				continue
			}
			return total, fmt.Errorf("read csv: %w", err)
		}

		row := make(models.Row, len(header))
		for i, name := range header {
			if name == "" || i >= len(record) {
				continue
			}
			row[name] = record[i]
		}
		batch = append(batch, row)
		total++

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	log.Debug("csv read complete", zap.Int("rows", total), zap.Int("batches", batchNum), zap.Int("malformed", skipped))
	return total, nil
}
