package etl

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/ugorji/go/codec"
)

var cbor codec.CborHandle

type dataProvider interface {
	Next(decoder *codec.Decoder) ([]byte, []byte, error)
	Dispose() uint64 // returns the size of the disposed file
	String() string
}

type fileDataProvider struct {
	file   *os.File
	reader io.Reader
}

// FlushToDisk sorts the buffer and spills it to a temporary file. The file
// owns its bytes from here on: the buffer can be reused.
func FlushToDisk(b Buffer, tmpdir string) (dataProvider, error) {
	if b.Len() == 0 {
		return nil, nil
	}
	b.Sort()
	bufferFile, err := os.CreateTemp(tmpdir, "erigon-sortable-buf-")
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriterSize(bufferFile, BufIOSize)
	defer w.Flush() //nolint:errcheck

	encoder := codec.NewEncoder(w, &cbor)
	var pair [2][]byte
	for i := 0; i < b.Len(); i++ {
		pair[0], pair[1] = b.Get(i)
		if err = encoder.Encode(pair); err != nil {
			return nil, err
		}
	}
	b.Reset()
	return &fileDataProvider{file: bufferFile}, nil
}

func (p *fileDataProvider) Next(decoder *codec.Decoder) ([]byte, []byte, error) {
	if p.reader == nil {
		_, err := p.file.Seek(0, 0)
		if err != nil {
			return nil, nil, err
		}
		p.reader = bufio.NewReaderSize(p.file, BufIOSize)
	}
	var pair [2][]byte
	decoder.Reset(p.reader)
	if err := decoder.Decode(&pair); err != nil {
		return nil, nil, err
	}
	return pair[0], pair[1], nil
}

func (p *fileDataProvider) Dispose() uint64 {
	info, _ := os.Stat(p.file.Name())
	_ = p.file.Close()
	_ = os.Remove(p.file.Name())
	if info == nil {
		return 0
	}
	return uint64(info.Size())
}

func (p *fileDataProvider) String() string {
	return fmt.Sprintf("etl-file-provider: %s", p.file.Name())
}

type memoryDataProvider struct {
	buffer       Buffer
	currentIndex int
}

func KeepInRAM(buffer Buffer) dataProvider {
	return &memoryDataProvider{buffer: buffer}
}

func (p *memoryDataProvider) Next(_ *codec.Decoder) ([]byte, []byte, error) {
	if p.currentIndex >= p.buffer.Len() {
		return nil, nil, io.EOF
	}
	k, v := p.buffer.Get(p.currentIndex)
	p.currentIndex++
	return k, v, nil
}

func (p *memoryDataProvider) Dispose() uint64 { return 0 }

func (p *memoryDataProvider) String() string {
	return fmt.Sprintf("etl-mem-provider: entries=%d", p.buffer.Len())
}

const BufIOSize = 64 * 4096 // 64 pages
