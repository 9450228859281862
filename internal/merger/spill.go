package merger

import (
	"encoding/binary"
	"os"

	lzf "github.com/zhuyie/golzf"

	"csvpipe/internal/csvrow"
	"csvpipe/internal/delta"
	"csvpipe/internal/errs"
)

// spillWriter accumulates rows in memory up to chunkSizeBytes, then flushes
// them as one golzf-compressed chunk to a temp file. The rows it is given
// stay held by the caller, so spilling does not lower the merger's peak
// resident memory.
type spillWriter struct {
	dir            string
	framing        csvrow.Framing
	chunkSizeBytes int64
	maxRows        int
	files          []string
	buf            []string
	bufBytes       int64
}

func newSpillWriter(dir string, framing csvrow.Framing, chunkSizeBytes int64) *spillWriter {
	return &spillWriter{dir: dir, framing: framing, chunkSizeBytes: chunkSizeBytes}
}

// newSpillWriterForRows sizes the chunk's row cap from delta.OptimalChunkSize
// (totalRows, chunkSizeBytes) in addition to the byte threshold, so a chunk of
// many tiny rows still flushes before accumulating an unbounded row count.
func newSpillWriterForRows(dir string, framing csvrow.Framing, chunkSizeBytes int64, totalRows int) *spillWriter {
	w := newSpillWriter(dir, framing, chunkSizeBytes)
	w.maxRows = delta.OptimalChunkSize(totalRows, int(chunkSizeBytes))
	return w
}

func (s *spillWriter) Add(row []string) error {
	line := csvrow.FormatRow(row, s.framing)
	s.buf = append(s.buf, line)
	s.bufBytes += int64(len(line))
	if s.bufBytes >= s.chunkSizeBytes || (s.maxRows > 0 && len(s.buf) >= s.maxRows) {
		return s.flush()
	}
	return nil
}

func (s *spillWriter) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	var raw []byte
	for _, line := range s.buf {
		raw = append(raw, line...)
	}
	s.buf = s.buf[:0]
	s.bufBytes = 0

	compressed := make([]byte, len(raw)+len(raw)/2+16)
	n, err := lzf.Compress(raw, compressed)
	if err != nil {
		// Incompressible data is a valid outcome for golzf, not an error path
		// worth retrying; spill the raw chunk instead of failing the merge.
		return s.writeChunk(raw, false)
	}
	return s.writeChunk(compressed[:n], true)
}

func (s *spillWriter) writeChunk(data []byte, compressed bool) error {
	f, err := os.CreateTemp(s.dir, "csvpipe-merge-spill-*.chunk")
	if err != nil {
		return errs.Wrap(component, errs.IO, "create merge spill chunk", err)
	}
	defer f.Close()

	var header [9]byte
	if compressed {
		header[0] = 1
	}
	binary.LittleEndian.PutUint64(header[1:], uint64(len(data)))
	if _, err := f.Write(header[:]); err != nil {
		return errs.Wrap(component, errs.Write, "write merge spill chunk header", err)
	}
	if _, err := f.Write(data); err != nil {
		return errs.Wrap(component, errs.Write, "write merge spill chunk body", err)
	}
	s.files = append(s.files, f.Name())
	return nil
}

// Close flushes any buffered rows and returns the list of spilled chunk
// files, in write order.
func (s *spillWriter) Close() ([]string, error) {
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s.files, nil
}

// readSpillChunk decompresses (when flagged) one chunk file written by
// spillWriter back into its raw formatted-row text.
func readSpillChunk(path string, originalSizeHint int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(component, errs.IO, "read merge spill chunk "+path, err)
	}
	if len(data) < 9 {
		return nil, errs.New(component, errs.IO, "truncated merge spill chunk "+path)
	}
	compressed := data[0] == 1
	length := binary.LittleEndian.Uint64(data[1:9])
	body := data[9:]
	if uint64(len(body)) != length {
		return nil, errs.New(component, errs.IO, "merge spill chunk length mismatch "+path)
	}
	if !compressed {
		return body, nil
	}
	dstLen := originalSizeHint
	if dstLen <= 0 {
		dstLen = len(body) * 4
	}
	for {
		dst := make([]byte, dstLen)
		n, err := lzf.Decompress(body, dst)
		if err == nil {
			return dst[:n], nil
		}
		if dstLen > 1<<30 {
			return nil, errs.Wrap(component, errs.Decompression, "decompress merge spill chunk "+path, err)
		}
		dstLen *= 2
	}
}

// removeSpillChunks cleans up temp chunk files after a merge completes.
func removeSpillChunks(files []string) {
	for _, f := range files {
		_ = os.Remove(f)
	}
}
