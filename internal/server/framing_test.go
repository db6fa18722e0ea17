package server

import (
	"bytes"
	"strings"
	"testing"
)

func TestChooseFrameSendsSmallPayloadsAsText(t *testing.T) {
	f := chooseFrame([]byte(`{"msg":"hello"}`))
	if f.binary {
		t.Fatalf("expected small payload to stay uncompressed text")
	}
}

func TestChooseFrameCompressesHighlyRedundantLargePayload(t *testing.T) {
	payload := []byte(strings.Repeat("a", compressionThresholdBytes*4))
	f := chooseFrame(payload)
	if !f.binary {
		t.Fatalf("expected a redundant payload above the threshold to compress")
	}
	if f.data[0] != deflateMagicByte {
		t.Fatalf("expected deflate magic byte prefix, got %x", f.data[0])
	}
	got, err := inflate(f.data[1:])
	if err != nil {
		t.Fatalf("inflate failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round-trip mismatch")
	}
}

func TestChooseFrameLeavesIncompressibleLargePayloadAsText(t *testing.T) {
	// Pseudo-random bytes (no repeated sequences for deflate to reference)
	// compress poorly; below the 10% savings bar they must stay text.
	payload := make([]byte, compressionThresholdBytes*2)
	x := uint32(1)
	for i := range payload {
		x = x*1103515245 + 12345
		payload[i] = byte(x >> 16)
	}
	f := chooseFrame(payload)
	if f.binary {
		t.Fatalf("expected incompressible payload to stay uncompressed text")
	}
}

func TestDecodeEnvelopeRejectsMalformedJSON(t *testing.T) {
	if _, ok := decodeEnvelope([]byte("not json")); ok {
		t.Fatalf("expected malformed JSON to be rejected")
	}
}

func TestDecodeEnvelopeAcceptsWellFormedEnvelope(t *testing.T) {
	env, ok := decodeEnvelope([]byte(`{"msg":"hello","p":{}}`))
	if !ok || env.Msg != "hello" {
		t.Fatalf("expected a decoded hello envelope, got %+v ok=%v", env, ok)
	}
}
