package server

import (
	"bytes"
	"compress/flate"
	"io"
)

// deflateMagicByte prefixes a deflate-compressed binary frame so the
// client can distinguish it from a plain JSON text frame sent as binary.
// Text frames sent as websocket.TextMessage need no prefix; this byte only
// matters for the binary-compressed path, per spec.md §6.
const deflateMagicByte = 0x01

// compressionThresholdBytes is the minimum raw payload size before
// compression is even attempted, per spec.md §6 ("chosen by the server
// when the raw length exceeds a threshold").
const compressionThresholdBytes = 1024

// compressionMinSavings is the minimum fractional size reduction required
// to prefer the compressed frame, per spec.md §6 ("compressed length is at
// least 10% smaller").
const compressionMinSavings = 0.10

// frame is a chosen wire representation for one outbound message: either
// a JSON text frame, or a deflate-compressed binary frame with the magic
// byte prepended.
type frame struct {
	binary bool
	data   []byte
}

// chooseFrame applies spec.md §6's wire-format selection: payloads under
// the threshold are always sent as JSON text; larger payloads are
// deflated and sent as binary only if the compressed form (plus magic
// byte) is at least compressionMinSavings smaller than the original.
func chooseFrame(payload []byte) frame {
	if len(payload) < compressionThresholdBytes {
		return frame{binary: false, data: payload}
	}

	compressed, err := deflate(payload)
	if err != nil {
		return frame{binary: false, data: payload}
	}

	framed := make([]byte, 1+len(compressed))
	framed[0] = deflateMagicByte
	copy(framed[1:], compressed)

	savings := 1 - float64(len(framed))/float64(len(payload))
	if savings >= compressionMinSavings {
		return frame{binary: true, data: framed}
	}
	return frame{binary: false, data: payload}
}

func deflate(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// inflate reverses deflate for the rare case the server itself needs to
// decode a deflate-framed payload (e.g. unit tests exercising round-trip).
func inflate(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	return io.ReadAll(r)
}
