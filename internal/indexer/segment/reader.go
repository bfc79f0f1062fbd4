package segment

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

// Segment is a fully decoded segment file.
type Segment struct {
	Header   SegmentHeader
	Checksum uint32
	Document index.Document
	Postings index.PostingList
}

// Read loads and validates a segment. Any structural problem is reported as
// a *errors.CorruptError; a file that cannot be read at all is an IOError.
func Read(path string) (*Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperrors.IOError{Path: path, Op: "read segment", Err: err}
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, apperrors.Corruptf(path, "segment too short (%d bytes)", len(data))
	}

	headerBytes := data[:HeaderSize]
	footer := data[len(data)-FooterSize:]
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, apperrors.Corruptf(path, "bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, apperrors.Corruptf(path, "unsupported segment version %d", header.Version)
	}
	if got := binary.LittleEndian.Uint32(footer[4:8]); got != crc32.ChecksumIEEE(headerBytes) {
		return nil, apperrors.Corruptf(path, "header checksum mismatch")
	}
	if total := binary.LittleEndian.Uint64(footer[8:16]); total != uint64(len(data)) {
		return nil, apperrors.Corruptf(path, "length mismatch: footer says %d, file has %d", total, len(data))
	}

	bodyEnd := int64(len(data) - FooterSize)
	if header.DocSize < 0 || header.PostSize < 0 ||
		header.DocOffset != int64(HeaderSize) ||
		header.PostOffset != header.DocOffset+header.DocSize ||
		header.PostOffset+header.PostSize != bodyEnd {
		return nil, apperrors.Corruptf(path, "section offsets out of bounds")
	}
	body := data[HeaderSize:bodyEnd]
	checksum := binary.LittleEndian.Uint32(footer[0:4])
	if checksum != crc32.ChecksumIEEE(body) {
		return nil, apperrors.Corruptf(path, "body checksum mismatch")
	}

	seg := &Segment{Header: header, Checksum: checksum}
	if err := json.Unmarshal(data[header.DocOffset:header.PostOffset], &seg.Document); err != nil {
		return nil, apperrors.Corruptf(path, "parsing document: %v", err)
	}
	if err := json.Unmarshal(data[header.PostOffset:bodyEnd], &seg.Postings); err != nil {
		return nil, apperrors.Corruptf(path, "parsing postings: %v", err)
	}
	if uint32(len(seg.Postings)) != header.PostingCount {
		return nil, apperrors.Corruptf(path, "posting count %d, header says %d", len(seg.Postings), header.PostingCount)
	}
	if xxhash.Sum64String(seg.Document.Path) != header.PathHash {
		return nil, apperrors.Corruptf(path, "document path does not match header")
	}
	for i := range seg.Postings {
		seg.Postings[i].Path = seg.Document.Path
	}
	return seg, nil
}
