package ws

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"strings"
	"sync"
)

// deflateTail completes a message compressed with a trailing sync flush: an
// empty stored block, then an empty final block so the reader sees EOF.
const deflateTail = "\x00\x00\xff\xff\x01\x00\x00\xff\xff"

var flateWriters = sync.Pool{
	New: func() any {
		w, _ := flate.NewWriter(nil, flate.BestSpeed)
		return w
	},
}

// deflateMessage compresses p as one complete raw DEFLATE stream.
func deflateMessage(p []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := flateWriters.Get().(*flate.Writer)
	defer flateWriters.Put(w)
	w.Reset(&buf)

	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// inflateMessage decompresses a permessage-deflate payload. It accepts both
// complete streams and streams ending in a sync flush with the marker
// stripped. Output longer than maxSize fails with errFrameTooLarge; 0 means
// no bound.
func inflateMessage(p []byte, maxSize uint64) ([]byte, error) {
	fr := flate.NewReader(io.MultiReader(bytes.NewReader(p), strings.NewReader(deflateTail)))
	defer fr.Close()

	var r io.Reader = fr
	if maxSize > 0 {
		r = io.LimitReader(r, int64(maxSize)+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && uint64(len(out)) > maxSize {
		return nil, fmt.Errorf("%w: inflated message exceeds limit of %d", errFrameTooLarge, maxSize)
	}
	return out, nil
}
