package core

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/big"
)

// WireVersion is the version field stamped on every wire-encoded block and
// transaction (spec §6).
const WireVersion uint32 = 1

// addressWireLen is the fixed wire width of a LogiChain address: 3 ASCII
// prefix bytes ("LGC") plus the 20 raw bytes the hex suffix encodes
// (spec §6: miner_address(23), from(23 or 0), to(23 or 0)).
const addressWireLen = 23

// encodeAddress packs a human-readable LogiChain address into its 23-byte
// wire form, or 23 zero bytes for an empty address (reward tx "from").
func encodeAddress(addr string) ([addressWireLen]byte, error) {
	var out [addressWireLen]byte
	if addr == "" {
		return out, nil
	}
	if len(addr) != len(AddressPrefix)+40 || addr[:len(AddressPrefix)] != AddressPrefix {
		return out, NewError(KindInvalidBlockStructure, "malformed address")
	}
	raw, err := hex.DecodeString(addr[len(AddressPrefix):])
	if err != nil || len(raw) != 20 {
		return out, NewError(KindInvalidBlockStructure, "malformed address hex")
	}
	copy(out[:3], AddressPrefix)
	copy(out[3:], raw)
	return out, nil
}

func decodeAddress(b [addressWireLen]byte) string {
	if b == ([addressWireLen]byte{}) {
		return ""
	}
	return AddressPrefix + hex.EncodeToString(b[3:])
}

func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// EncodeTransaction serializes tx to the bit-exact wire format from
// spec §6: version(4) ‖ type(1) ‖ from(23) ‖ to(23) ‖ amount(16) ‖ nonce(8)
// ‖ fee(16) ‖ timestamp(8) ‖ payload_len(4) ‖ payload ‖ signature(64).
func EncodeTransaction(tx *Transaction) ([]byte, error) {
	from, err := encodeAddress(tx.From)
	if err != nil {
		return nil, err
	}
	to, err := encodeAddress(tx.To)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 4+1+23+23+16+8+16+8+4+len(tx.Payload)+64)
	var v4 [4]byte
	binary.BigEndian.PutUint32(v4[:], WireVersion)
	buf = append(buf, v4[:]...)
	buf = append(buf, byte(tx.Type))
	buf = append(buf, from[:]...)
	buf = append(buf, to[:]...)
	amt := tx.Amount.Bytes16()
	buf = append(buf, amt[:]...)
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], tx.Nonce)
	buf = append(buf, nonceBuf[:]...)
	fee := tx.Fee.Bytes16()
	buf = append(buf, fee[:]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], math.Float64bits(tx.Timestamp))
	buf = append(buf, tsBuf[:]...)
	var plen [4]byte
	binary.BigEndian.PutUint32(plen[:], uint32(len(tx.Payload)))
	buf = append(buf, plen[:]...)
	buf = append(buf, tx.Payload...)
	buf = append(buf, tx.Signature...)
	return buf, nil
}

// DecodeTransaction is the inverse of EncodeTransaction.
func DecodeTransaction(b []byte) (*Transaction, error) {
	const headLen = 4 + 1 + 23 + 23 + 16 + 8 + 16 + 8 + 4
	if len(b) < headLen+64 {
		return nil, NewError(KindInvalidBlockStructure, "truncated transaction")
	}
	off := 0
	version := binary.BigEndian.Uint32(b[off:])
	off += 4
	if version != WireVersion {
		return nil, NewError(KindInvalidBlockStructure, "unsupported transaction version")
	}
	typ := TxType(b[off])
	off++
	var fromArr, toArr [addressWireLen]byte
	copy(fromArr[:], b[off:off+23])
	off += 23
	copy(toArr[:], b[off:off+23])
	off += 23
	amount := bytes16ToAmount(b[off : off+16])
	off += 16
	nonce := binary.BigEndian.Uint64(b[off:])
	off += 8
	fee := bytes16ToAmount(b[off : off+16])
	off += 16
	ts := math.Float64frombits(binary.BigEndian.Uint64(b[off:]))
	off += 8
	payloadLen := binary.BigEndian.Uint32(b[off:])
	off += 4
	if off+int(payloadLen)+64 > len(b) {
		return nil, NewError(KindInvalidBlockStructure, "truncated transaction payload")
	}
	payload := append([]byte{}, b[off:off+int(payloadLen)]...)
	off += int(payloadLen)
	sig := append([]byte{}, b[off:off+64]...)

	return &Transaction{
		Type:      typ,
		From:      decodeAddress(fromArr),
		To:        decodeAddress(toArr),
		Amount:    amount,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: ts,
		Payload:   payload,
		Signature: sig,
	}, nil
}

func bytes16ToAmount(b []byte) Amount {
	return AmountFromBigInt(new(big.Int).SetBytes(b))
}

// EncodeBlock serializes b to the bit-exact wire format from spec §6:
// header (114 fixed bytes + variable attestations) followed by a varint tx_count
// and the encoded transactions.
func EncodeBlock(b *Block) ([]byte, error) {
	miner, err := encodeAddress(b.Miner)
	if err != nil {
		return nil, err
	}

	head := make([]byte, 0, 160)
	var v4 [4]byte
	binary.BigEndian.PutUint32(v4[:], WireVersion)
	head = append(head, v4[:]...)
	head = append(head, b.ParentHash[:]...)
	head = append(head, b.MerkleRoot[:]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], math.Float64bits(b.Timestamp))
	head = append(head, tsBuf[:]...)
	var diffBuf [4]byte
	binary.BigEndian.PutUint32(diffBuf[:], b.Difficulty)
	head = append(head, diffBuf[:]...)
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], b.Nonce)
	head = append(head, nonceBuf[:]...)
	head = append(head, miner[:]...)
	head = append(head, byte(b.Mode))
	var attCount [2]byte
	binary.BigEndian.PutUint16(attCount[:], uint16(len(b.Attestations)))
	head = append(head, attCount[:]...)
	for _, a := range b.Attestations {
		head = putUvarint(head, uint64(len(a)))
		head = append(head, a...)
	}

	body := putUvarint(nil, uint64(len(b.Txs)))
	for i := range b.Txs {
		encoded, err := EncodeTransaction(&b.Txs[i])
		if err != nil {
			return nil, err
		}
		body = putUvarint(body, uint64(len(encoded)))
		body = append(body, encoded...)
	}

	return append(head, body...), nil
}

// DecodeBlock is the inverse of EncodeBlock for every field the wire format
// carries. Height is not on the wire, so the returned block's Height is 0.
func DecodeBlock(b []byte) (*Block, error) {
	const fixedHeadLen = 4 + 32 + 32 + 8 + 4 + 8 + 23 + 1 + 2
	if len(b) < fixedHeadLen {
		return nil, NewError(KindInvalidBlockStructure, "truncated block header")
	}
	off := 0
	version := binary.BigEndian.Uint32(b[off:])
	off += 4
	if version != WireVersion {
		return nil, NewError(KindInvalidBlockStructure, "unsupported block version")
	}
	blk := &Block{}
	copy(blk.ParentHash[:], b[off:off+32])
	off += 32
	copy(blk.MerkleRoot[:], b[off:off+32])
	off += 32
	blk.Timestamp = math.Float64frombits(binary.BigEndian.Uint64(b[off:]))
	off += 8
	blk.Difficulty = binary.BigEndian.Uint32(b[off:])
	off += 4
	blk.Nonce = binary.BigEndian.Uint64(b[off:])
	off += 8
	var minerArr [addressWireLen]byte
	copy(minerArr[:], b[off:off+23])
	blk.Miner = decodeAddress(minerArr)
	off += 23
	blk.Mode = Mode(b[off])
	off++
	attCount := binary.BigEndian.Uint16(b[off:])
	off += 2

	for i := uint16(0); i < attCount; i++ {
		n, shift := binary.Uvarint(b[off:])
		if shift <= 0 {
			return nil, NewError(KindInvalidBlockStructure, "bad attestation length varint")
		}
		off += shift
		if off+int(n) > len(b) {
			return nil, NewError(KindInvalidBlockStructure, "truncated attestation")
		}
		blk.Attestations = append(blk.Attestations, append([]byte{}, b[off:off+int(n)]...))
		off += int(n)
	}

	txCount, shift := binary.Uvarint(b[off:])
	if shift <= 0 {
		return nil, NewError(KindInvalidBlockStructure, "bad tx_count varint")
	}
	off += shift

	blk.Txs = make([]Transaction, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		txLen, shift := binary.Uvarint(b[off:])
		if shift <= 0 {
			return nil, NewError(KindInvalidBlockStructure, "bad tx length varint")
		}
		off += shift
		if off+int(txLen) > len(b) {
			return nil, NewError(KindInvalidBlockStructure, "truncated transaction")
		}
		tx, err := DecodeTransaction(b[off : off+int(txLen)])
		if err != nil {
			return nil, err
		}
		blk.Txs = append(blk.Txs, *tx)
		off += int(txLen)
	}

	return blk, nil
}
