package staticfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/gofrs/flock"
	"github.com/klauspost/compress/snappy"
	log "github.com/erigontech/erigon-lib/log/v3"
)

// File layout: a 16-byte header (magic, version, segment id, first
// entity ordinal) followed by records, each a 4-byte big-endian length
// and a snappy-compressed payload. Entity ordinals are assigned
// densely from the base, so the in-memory offset table is the whole
// index.
var segMagic = [4]byte{'c', 's', 'e', 'g'}

const (
	segVersion    = 1
	segHeaderSize = 16
)

var (
	ErrOutOfOrderAppend = errors.New("staticfile: append ordinal is not the next expected")
	ErrCorruptSegment   = errors.New("staticfile: corrupt segment file")
)

type segmentFile struct {
	seg     Segment
	f       *os.File
	base    uint64  // ordinal of record 0; meaningful only when hasBase
	hasBase bool
	offsets []int64 // committed record start offsets
	end     int64   // committed end of file

	pending [][]byte // compressed records appended but not yet flushed
}

// Provider owns the static-file directory. It is shared across database
// providers; writers are gated per segment by the provider lock, and an
// advisory file lock keeps a second process out of the directory.
type Provider struct {
	dir  string
	lock *flock.Flock

	mu    sync.RWMutex
	files map[Segment]*segmentFile
}

// Open locks dir and opens (creating as needed) every segment file,
// scanning each to rebuild its record index.
func Open(dir string) (*Provider, error) {
	if err := os.MkdirAll(dir, 0o744); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(dir, "lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("staticfile: lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("staticfile: %s is locked by another process", dir)
	}

	p := &Provider{dir: dir, lock: lock, files: make(map[Segment]*segmentFile)}
	for _, seg := range AllSegments() {
		sf, err := openSegmentFile(dir, seg)
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		p.files[seg] = sf
		log.Debug("opened static-file segment", "segment", seg,
			"entries", len(sf.offsets), "size", datasize.ByteSize(sf.end).HumanReadable())
	}
	return p, nil
}

func openSegmentFile(dir string, seg Segment) (*segmentFile, error) {
	f, err := os.OpenFile(filepath.Join(dir, seg.fileName()), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	sf := &segmentFile{seg: seg, f: f}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		return sf, nil
	}
	if st.Size() < segHeaderSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s shorter than header", ErrCorruptSegment, seg)
	}

	var hdr [segHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, err
	}
	if [4]byte(hdr[:4]) != segMagic || hdr[4] != segVersion || hdr[5] != byte(seg) {
		f.Close()
		return nil, fmt.Errorf("%w: %s has bad header", ErrCorruptSegment, seg)
	}
	sf.base = binary.BigEndian.Uint64(hdr[8:16])
	sf.hasBase = true

	// Scan records. A short tail (torn final write) is dropped, not
	// reported: the commit protocol reconciles lengths on startup.
	pos := int64(segHeaderSize)
	var lenBuf [4]byte
	for pos+4 <= st.Size() {
		if _, err := f.ReadAt(lenBuf[:], pos); err != nil {
			f.Close()
			return nil, err
		}
		recLen := int64(binary.BigEndian.Uint32(lenBuf[:]))
		if pos+4+recLen > st.Size() {
			break
		}
		sf.offsets = append(sf.offsets, pos)
		pos += 4 + recLen
	}
	sf.end = pos
	if pos < st.Size() {
		log.Warn("dropping torn static-file tail", "segment", seg, "at", pos, "fileSize", st.Size())
		if err := f.Truncate(pos); err != nil {
			f.Close()
			return nil, err
		}
	}
	return sf, nil
}

// Close flushes nothing: unflushed appends are discarded, mirroring a
// dropped uncommitted transaction.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, sf := range p.files {
		if err := sf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Append stages one record for seg. id must be exactly one past the
// segment's current highest (or any value on a fresh segment, which it
// becomes the base of). Staged records are visible to reads through
// this provider but reach disk only at Commit.
func (p *Provider) Append(seg Segment, id uint64, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sf := p.files[seg]
	if !sf.hasBase && len(sf.pending) == 0 {
		sf.base = id
		sf.hasBase = true
	} else if want := sf.base + uint64(len(sf.offsets)+len(sf.pending)); id != want {
		return fmt.Errorf("%w: segment %s got %d want %d", ErrOutOfOrderAppend, seg, id, want)
	}
	sf.pending = append(sf.pending, snappy.Encode(nil, payload))
	return nil
}

// Commit writes every staged record to its file and fsyncs. It must run
// before the paired transactional-store commit; a crash between the two
// leaves an over-long static file that startup truncates back.
func (p *Provider) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, seg := range AllSegments() {
		sf := p.files[seg]
		if len(sf.pending) == 0 {
			continue
		}
		if err := sf.flushPending(); err != nil {
			return err
		}
	}
	return nil
}

func (sf *segmentFile) flushPending() error {
	if sf.end == 0 {
		var hdr [segHeaderSize]byte
		copy(hdr[:4], segMagic[:])
		hdr[4] = segVersion
		hdr[5] = byte(sf.seg)
		binary.BigEndian.PutUint64(hdr[8:16], sf.base)
		if _, err := sf.f.WriteAt(hdr[:], 0); err != nil {
			return err
		}
		sf.end = segHeaderSize
	}
	var lenBuf [4]byte
	for _, rec := range sf.pending {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(rec)))
		if _, err := sf.f.WriteAt(lenBuf[:], sf.end); err != nil {
			return err
		}
		if _, err := sf.f.WriteAt(rec, sf.end+4); err != nil {
			return err
		}
		sf.offsets = append(sf.offsets, sf.end)
		sf.end += 4 + int64(len(rec))
	}
	sf.pending = sf.pending[:0]
	return sf.f.Sync()
}

// Rollback discards every staged record.
func (p *Provider) Rollback() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sf := range p.files {
		sf.pending = sf.pending[:0]
		if len(sf.offsets) == 0 && sf.end == 0 {
			sf.hasBase = false
		}
	}
}

// HighestBlock returns the highest entity ordinal present in seg
// (staged appends included) and whether the segment holds anything.
func (p *Provider) HighestBlock(seg Segment) (uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sf := p.files[seg]
	n := len(sf.offsets) + len(sf.pending)
	if !sf.hasBase || n == 0 {
		return 0, false
	}
	return sf.base + uint64(n) - 1, true
}

// CountEntries returns the number of records in seg, staged included.
func (p *Provider) CountEntries(seg Segment) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sf := p.files[seg]
	return uint64(len(sf.offsets) + len(sf.pending))
}

// Get returns the record stored for ordinal id, or found=false when id
// is outside the segment's range.
func (p *Provider) Get(seg Segment, id uint64) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.files[seg].get(id)
}

func (sf *segmentFile) get(id uint64) ([]byte, bool, error) {
	n := len(sf.offsets) + len(sf.pending)
	if !sf.hasBase || n == 0 || id < sf.base || id >= sf.base+uint64(n) {
		return nil, false, nil
	}
	i := int(id - sf.base)
	var compressed []byte
	if i < len(sf.offsets) {
		var lenBuf [4]byte
		if _, err := sf.f.ReadAt(lenBuf[:], sf.offsets[i]); err != nil {
			return nil, false, err
		}
		compressed = make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := sf.f.ReadAt(compressed, sf.offsets[i]+4); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, false, fmt.Errorf("%w: %s record %d past end", ErrCorruptSegment, sf.seg, id)
			}
			return nil, false, err
		}
	} else {
		compressed = sf.pending[i-len(sf.offsets)]
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s record %d: %v", ErrCorruptSegment, sf.seg, id, err)
	}
	return payload, true, nil
}

// Truncate drops every record with ordinal > newHighest, shrinking the
// file in place. The block-range unwind uses it to cut segments back
// to the new tip.
func (p *Provider) Truncate(seg Segment, newHighest uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sf := p.files[seg]
	sf.pending = sf.pending[:0]
	if !sf.hasBase || len(sf.offsets) == 0 {
		return nil
	}
	if newHighest >= sf.base+uint64(len(sf.offsets))-1 {
		return nil
	}
	var keep int
	if newHighest >= sf.base {
		keep = int(newHighest - sf.base + 1)
	}
	return sf.truncateToCount(keep)
}

func (sf *segmentFile) truncateToCount(keep int) error {
	var newEnd int64 = segHeaderSize
	if keep > 0 {
		last := sf.offsets[keep-1]
		var lenBuf [4]byte
		if _, err := sf.f.ReadAt(lenBuf[:], last); err != nil {
			return err
		}
		newEnd = last + 4 + int64(binary.BigEndian.Uint32(lenBuf[:]))
	}
	dropped := len(sf.offsets) - keep
	if err := sf.f.Truncate(newEnd); err != nil {
		return err
	}
	sf.offsets = sf.offsets[:keep]
	sf.end = newEnd
	log.Info("truncated static-file segment", "segment", sf.seg, "droppedRecords", dropped, "remaining", keep)
	return sf.f.Sync()
}

// PruneTail removes the last n records of seg. SyncGap uses it at
// startup to drop static headers that ran ahead of the transactional
// store.
func (p *Provider) PruneTail(seg Segment, n uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sf := p.files[seg]
	sf.pending = sf.pending[:0]
	count := uint64(len(sf.offsets))
	if n == 0 || count == 0 {
		return nil
	}
	if n > count {
		n = count
	}
	return sf.truncateToCount(int(count - n))
}

// PruneHeaders removes the last n header records.
func (p *Provider) PruneHeaders(n uint64) error { return p.PruneTail(SegmentHeaders, n) }
