package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
)

// MagicBytes identifies a valid .seg segment file.
const (
	MagicBytes    uint32 = 0x47455343
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 16
	Extension            = ".seg"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
// A segment holds the metadata and postings of exactly one document.
type SegmentHeader struct {
	Magic        uint32
	Version      uint32
	PostingCount uint32
	CreatedAt    int64
	DocOffset    int64
	DocSize      int64
	PostOffset   int64
	PostSize     int64
	PathHash     uint64
}

func (h SegmentHeader) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.PostingCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DocOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.DocSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[56:64], h.PathHash)
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:        binary.LittleEndian.Uint32(b[0:4]),
		Version:      binary.LittleEndian.Uint32(b[4:8]),
		PostingCount: binary.LittleEndian.Uint32(b[8:12]),
		CreatedAt:    int64(binary.LittleEndian.Uint64(b[16:24])),
		DocOffset:    int64(binary.LittleEndian.Uint64(b[24:32])),
		DocSize:      int64(binary.LittleEndian.Uint64(b[32:40])),
		PostOffset:   int64(binary.LittleEndian.Uint64(b[40:48])),
		PostSize:     int64(binary.LittleEndian.Uint64(b[48:56])),
		PathHash:     binary.LittleEndian.Uint64(b[56:64]),
	}
}

// Name returns a fresh segment file name for a document path.
func Name(docPath string) string {
	return fmt.Sprintf("%016x-%d%s", xxhash.Sum64String(docPath), time.Now().UnixNano(), Extension)
}

// Writer serialises documents into new .seg segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

func (w *Writer) Dir() string {
	return w.dataDir
}

// Write atomically creates a new segment file holding doc and its postings.
// It writes to a .tmp file first and renames on success. The returned
// checksum is the CRC32 of the segment body.
func (w *Writer) Write(doc index.Document, postings index.PostingList) (string, uint32, error) {
	segmentName := Name(doc.Path)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	docData, err := json.Marshal(doc)
	if err != nil {
		return "", 0, fmt.Errorf("marshaling document %q: %w", doc.Path, err)
	}
	postData, err := json.Marshal(postings)
	if err != nil {
		return "", 0, fmt.Errorf("marshaling postings for %q: %w", doc.Path, err)
	}

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", 0, fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("creating temp segment file: %w", err)
	}
	committed := false
	defer func() {
		f.Close()
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	header := SegmentHeader{
		Magic:        MagicBytes,
		Version:      FormatVersion,
		PostingCount: uint32(len(postings)),
		CreatedAt:    time.Now().UnixNano(),
		DocOffset:    int64(HeaderSize),
		DocSize:      int64(len(docData)),
		PostOffset:   int64(HeaderSize + len(docData)),
		PostSize:     int64(len(postData)),
		PathHash:     xxhash.Sum64String(doc.Path),
	}
	headerBytes := header.encode()

	crc := crc32.NewIEEE()
	crc.Write(docData)
	crc.Write(postData)
	checksum := crc.Sum32()

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum)
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(headerBytes))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(HeaderSize+len(docData)+len(postData)+FooterSize))

	for _, part := range [][]byte{headerBytes, docData, postData, footer} {
		if _, err := f.Write(part); err != nil {
			return "", 0, fmt.Errorf("writing segment %s: %w", segmentName, err)
		}
	}
	if err := f.Sync(); err != nil {
		return "", 0, fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", 0, fmt.Errorf("renaming segment file: %w", err)
	}
	committed = true
	return segmentName, checksum, nil
}
