package chaindb

import (
	"bytes"
	"encoding/binary"
	"errors"

	ctypes "github.com/erigontech/chaindb/chain/types"
	"github.com/erigontech/erigon-lib/rlp"
)

var errListTruncated = errors.New("chaindb: stored list truncated")

// encodeRLPList concatenates n length-prefixed items into one blob; used
// for the BlockOmmers/BlockWithdrawals table values, which each hold a
// small list rather than a single scalar.
func encodeRLPList(n int, item func(i int) ([]byte, error)) ([]byte, error) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(n))
	buf.Write(lenBuf[:])
	for i := 0; i < n; i++ {
		enc, err := item(i)
		if err != nil {
			return nil, err
		}
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(enc)))
		buf.Write(lenBuf[:])
		buf.Write(enc)
	}
	return buf.Bytes(), nil
}

func decodeRLPList(b []byte, item func(enc []byte) error) error {
	if len(b) < 4 {
		return nil
	}
	n := binary.BigEndian.Uint32(b[:4])
	pos := 4
	for i := uint32(0); i < n; i++ {
		if pos+4 > len(b) {
			return errListTruncated
		}
		l := int(binary.BigEndian.Uint32(b[pos : pos+4]))
		pos += 4
		if pos+l > len(b) {
			return errListTruncated
		}
		enc := b[pos : pos+l]
		pos += l
		if err := item(enc); err != nil {
			return err
		}
	}
	return nil
}

func encodeWithdrawal(w ctypes.Withdrawal) ([]byte, error) {
	return rlp.EncodeToBytes(&w)
}

func decodeWithdrawal(b []byte) (ctypes.Withdrawal, error) {
	var w ctypes.Withdrawal
	err := rlp.DecodeBytes(b, &w)
	return w, err
}
