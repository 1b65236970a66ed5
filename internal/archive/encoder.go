package archive

import (
	"bytes"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/iamgideonidoko/pulse/internal/models"
)

// maxPooledBuffer caps the buffers returned to the pool so one oversized
// batch does not pin memory.
const maxPooledBuffer = 1 << 20

var (
	bufferPool = sync.Pool{
		New: func() any { return bytes.NewBuffer(make([]byte, 0, 64*1024)) },
	}
	gzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= maxPooledBuffer {
		buf.Reset()
		bufferPool.Put(buf)
	}
}

// EncodeBatch writes events as gzip-compressed JSON lines. The returned slice
// is owned by the caller.
func EncodeBatch(events []models.TelemetryEvent) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer putBuffer(buf)

	gz := gzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	defer gzipPool.Put(gz)

	enc := json.NewEncoder(gz)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
