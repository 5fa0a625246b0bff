package core

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// SegmentMax is the default cap, in bytes, on a single block segment file
// (spec §4.7).
const SegmentMax = 128 * 1024 * 1024

var segmentMagic = [4]byte{'L', 'G', 'C', 'B'}

// BlockLocation points into a segment file: which file, what byte offset,
// and how many bytes the encoded block occupies (spec §4.7 index:
// block_hash→(segment, offset, length)).
type BlockLocation struct {
	Segment int
	Offset  int64
	Length  int64
}

// Index is the mutable key-value index persisted alongside the segment
// files (spec §4.7): block_hash→location, height→block_hash (best chain
// only), tx_hash→(block_hash, index), address→account, contract_id→
// contract, coordinate cell→counters. Account/contract/cell state is owned
// by AccountStore/Contract registry/CoordinateGrid respectively; Index
// tracks only the block/tx placement needed to find them.
type Index struct {
	mu sync.RWMutex

	ByHash   map[[32]byte]BlockLocation
	ByHeight map[uint64][32]byte
	TxIndex  map[[32]byte]TxLocation
	Best     uint64 // best chain height
}

// TxLocation records which block (and index within it) a transaction was
// included in.
type TxLocation struct {
	BlockHash [32]byte
	Index     int
}

func newIndex() *Index {
	return &Index{
		ByHash:   make(map[[32]byte]BlockLocation),
		ByHeight: make(map[uint64][32]byte),
		TxIndex:  make(map[[32]byte]TxLocation),
	}
}

// manifestRecord is the on-disk snapshot of Index, written after every
// accepted block so startup can skip a full segment replay when consistent
// (spec §4.7: "reconstructed by replaying segments if the manifest is
// inconsistent").
type manifestRecord struct {
	ByHash   map[string]BlockLocation  `json:"by_hash"`
	ByHeight map[uint64]string         `json:"by_height"`
	TxIndex  map[string]TxLocation     `json:"tx_index"`
	Best     uint64                    `json:"best"`
}

// Persistence is the single-writer actor owning every segment file and the
// index (spec §5: "segment files are owned by the Persistence actor; all
// writes funnel through it").
type Persistence struct {
	mu          sync.Mutex
	dir         string
	segmentMax  int64
	curSegment  int
	curFile     *os.File
	curOffset   int64
	index       *Index
	log         *logrus.Entry
}

// OpenPersistence opens (creating if absent) a persistence store rooted at
// dir, replaying the manifest or, if missing/corrupt, every segment file.
func OpenPersistence(dir string, segmentMax int64) (*Persistence, error) {
	if segmentMax <= 0 {
		segmentMax = SegmentMax
	}
	if err := os.MkdirAll(filepath.Join(dir, "blocks"), 0o755); err != nil {
		return nil, WrapError(KindPersistenceIoError, "create blocks dir", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "chainstate"), 0o755); err != nil {
		return nil, WrapError(KindPersistenceIoError, "create chainstate dir", err)
	}

	p := &Persistence{
		dir:        dir,
		segmentMax: segmentMax,
		index:      newIndex(),
		log:        logrus.WithField("component", "persistence"),
	}

	if err := p.loadManifest(); err != nil {
		p.log.WithError(err).Warn("manifest missing or inconsistent, replaying segments")
		if err := p.replaySegments(); err != nil {
			return nil, err
		}
	}
	if err := p.openLatestSegmentForAppend(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Persistence) manifestPath() string {
	return filepath.Join(p.dir, "chainstate", "MANIFEST")
}

func (p *Persistence) loadManifest() error {
	data, err := os.ReadFile(p.manifestPath())
	if err != nil {
		return err
	}
	var rec manifestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	idx := newIndex()
	for hexHash, loc := range rec.ByHash {
		var h [32]byte
		if _, err := fmt.Sscanf(hexHash, "%x", &h); err != nil {
			return err
		}
		idx.ByHash[h] = loc
		if loc.Segment+1 > p.curSegment {
			p.curSegment = loc.Segment + 1
		}
	}
	for height, hexHash := range rec.ByHeight {
		var h [32]byte
		if _, err := fmt.Sscanf(hexHash, "%x", &h); err != nil {
			return err
		}
		idx.ByHeight[height] = h
	}
	for hexHash, loc := range rec.TxIndex {
		var h [32]byte
		if _, err := fmt.Sscanf(hexHash, "%x", &h); err != nil {
			return err
		}
		idx.TxIndex[h] = loc
	}
	idx.Best = rec.Best
	p.index = idx
	return nil
}

func (p *Persistence) saveManifest() error {
	rec := manifestRecord{
		ByHash:   make(map[string]BlockLocation, len(p.index.ByHash)),
		ByHeight: make(map[uint64]string, len(p.index.ByHeight)),
		TxIndex:  make(map[string]TxLocation, len(p.index.TxIndex)),
		Best:     p.index.Best,
	}
	for h, loc := range p.index.ByHash {
		rec.ByHash[fmt.Sprintf("%x", h)] = loc
	}
	for height, h := range p.index.ByHeight {
		rec.ByHeight[height] = fmt.Sprintf("%x", h)
	}
	for h, loc := range p.index.TxIndex {
		rec.TxIndex[fmt.Sprintf("%x", h)] = loc
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := p.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return WrapError(KindPersistenceIoError, "write manifest", err)
	}
	return os.Rename(tmp, p.manifestPath())
}

func (p *Persistence) segmentPath(n int) string {
	return filepath.Join(p.dir, "blocks", fmt.Sprintf("blk%05d.dat", n))
}

func (p *Persistence) openLatestSegmentForAppend() error {
	path := p.segmentPath(p.curSegment)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return WrapError(KindPersistenceIoError, "open segment", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return WrapError(KindPersistenceIoError, "stat segment", err)
	}
	p.curFile = f
	p.curOffset = info.Size()
	return nil
}

// replaySegments rebuilds the index from scratch by scanning every segment
// file in order (spec §4.7 startup recovery path).
func (p *Persistence) replaySegments() error {
	idx := newIndex()
	for n := 0; ; n++ {
		path := p.segmentPath(n)
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return WrapError(KindPersistenceIoError, "open segment for replay", err)
		}
		var offset int64
		r := bufio.NewReader(f)
		for {
			var magic [4]byte
			if _, err := io_ReadFull(r, magic[:]); err != nil {
				break
			}
			if magic != segmentMagic {
				f.Close()
				return NewError(KindIndexCorruption, "bad segment magic")
			}
			var lenBuf [4]byte
			if _, err := io_ReadFull(r, lenBuf[:]); err != nil {
				f.Close()
				return WrapError(KindIndexCorruption, "truncated segment length", err)
			}
			length := binary.BigEndian.Uint32(lenBuf[:])
			body := make([]byte, length)
			if _, err := io_ReadFull(r, body); err != nil {
				f.Close()
				return WrapError(KindIndexCorruption, "truncated segment body", err)
			}
			blk, err := DecodeBlock(body)
			if err != nil {
				f.Close()
				return err
			}
			h := blk.Hash()
			loc := BlockLocation{Segment: n, Offset: offset + 8, Length: int64(length)}
			idx.ByHash[h] = loc
			idx.ByHeight[blk.Height] = h
			for i := range blk.Txs {
				idx.TxIndex[blk.Txs[i].Hash()] = TxLocation{BlockHash: h, Index: i}
			}
			if blk.Height > idx.Best {
				idx.Best = blk.Height
			}
			offset += 8 + int64(length)
		}
		f.Close()
		if n+1 > p.curSegment {
			p.curSegment = n + 1
		}
	}
	p.index = idx
	return nil
}

func io_ReadFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// AppendBlock writes b to the current segment (rolling to a new one if
// SegmentMax would be exceeded), updates the index, and persists the
// manifest. Per spec §5, writes fsync after each block.
func (p *Persistence) AppendBlock(b *Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	encoded, err := EncodeBlock(b)
	if err != nil {
		return err
	}
	frameLen := int64(8 + len(encoded))
	if p.curOffset+frameLen > p.segmentMax {
		if err := p.curFile.Close(); err != nil {
			return WrapError(KindPersistenceIoError, "close full segment", err)
		}
		p.curSegment++
		if err := p.openLatestSegmentForAppend(); err != nil {
			return err
		}
	}

	var header [8]byte
	copy(header[:4], segmentMagic[:])
	binary.BigEndian.PutUint32(header[4:], uint32(len(encoded)))

	if err := p.writeRetrying(func() error {
		_, err := p.curFile.Write(header[:])
		return err
	}); err != nil {
		return err
	}
	if err := p.writeRetrying(func() error {
		_, err := p.curFile.Write(encoded)
		return err
	}); err != nil {
		return err
	}
	if err := p.writeRetrying(p.curFile.Sync); err != nil {
		return err
	}

	h := b.Hash()
	loc := BlockLocation{Segment: p.curSegment, Offset: p.curOffset + 8, Length: int64(len(encoded))}
	p.curOffset += frameLen

	p.index.mu.Lock()
	p.index.ByHash[h] = loc
	p.index.ByHeight[b.Height] = h
	for i := range b.Txs {
		p.index.TxIndex[b.Txs[i].Hash()] = TxLocation{BlockHash: h, Index: i}
	}
	if b.Height > p.index.Best {
		p.index.Best = b.Height
	}
	p.index.mu.Unlock()

	if err := p.saveManifest(); err != nil {
		p.log.WithError(err).Error("manifest write failed after block append")
	}
	return nil
}

// writeRetrying implements spec §7's PersistenceIoError policy: run op, and
// if it fails, retry it a single time followed by an fsync. A second
// failure is fatal and surfaces to the caller, who must halt block
// application and keep the last-good snapshot.
func (p *Persistence) writeRetrying(op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	p.log.WithError(err).Warn("persistence write failed, retrying once")
	if err2 := op(); err2 != nil {
		return WrapError(KindPersistenceIoError, "persistence write failed twice", err2)
	}
	if err3 := p.curFile.Sync(); err3 != nil {
		return WrapError(KindPersistenceIoError, "fsync failed after retry", err3)
	}
	return nil
}

// ReadBlock loads the block stored at hash.
func (p *Persistence) ReadBlock(hash [32]byte) (*Block, error) {
	p.index.mu.RLock()
	loc, ok := p.index.ByHash[hash]
	p.index.mu.RUnlock()
	if !ok {
		return nil, NewError(KindParentUnknown, "block not found")
	}
	f, err := os.Open(p.segmentPath(loc.Segment))
	if err != nil {
		return nil, WrapError(KindPersistenceIoError, "open segment for read", err)
	}
	defer f.Close()
	buf := make([]byte, loc.Length)
	if _, err := f.ReadAt(buf, loc.Offset); err != nil {
		return nil, WrapError(KindPersistenceIoError, "read block", err)
	}
	return DecodeBlock(buf)
}

// BlockAtHeight returns the canonical block at height.
func (p *Persistence) BlockAtHeight(height uint64) (*Block, error) {
	p.index.mu.RLock()
	h, ok := p.index.ByHeight[height]
	p.index.mu.RUnlock()
	if !ok {
		return nil, NewError(KindParentUnknown, "height not indexed")
	}
	return p.ReadBlock(h)
}

// BestHeight returns the best known chain height.
func (p *Persistence) BestHeight() uint64 {
	p.index.mu.RLock()
	defer p.index.mu.RUnlock()
	return p.index.Best
}

// Close flushes and closes the current segment file.
func (p *Persistence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.curFile == nil {
		return nil
	}
	return p.curFile.Close()
}
