package types

import (
	"io"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/rlp"
)

// Log represents a contract log event.
type Log struct {
	Address common.Address `json:"address" codec:"1"`
	Topics  []common.Hash  `json:"topics" codec:"2"`
	Data    []byte         `json:"data" codec:"3"`
}

type Logs []*Log

func (l *Log) payloadSize() int {
	size := 21
	topicsLen := 33 * len(l.Topics)
	size += rlp.ListPrefixLen(topicsLen) + topicsLen
	size += rlp.StringLen(l.Data)
	return size
}

func (l *Log) EncodingSize() int {
	payloadSize := l.payloadSize()
	return rlp.ListPrefixLen(payloadSize) + payloadSize
}

func (l *Log) EncodeRLP(w io.Writer) error {
	var b [33]byte
	if err := rlp.EncodeStructSizePrefix(l.payloadSize(), w, b[:]); err != nil {
		return err
	}
	addr := l.Address
	if err := rlp.EncodeOptionalAddress(&addr, w, b[:]); err != nil {
		return err
	}
	if err := rlp.EncodeStructSizePrefix(33*len(l.Topics), w, b[:]); err != nil {
		return err
	}
	for i := range l.Topics {
		if err := rlp.EncodeHash(&l.Topics[i], w, b[:]); err != nil {
			return err
		}
	}
	return rlp.EncodeString(l.Data, w, b[:])
}
