package diagnostics

import (
	"io"
	"log"
	"strings"
	"testing"

	"github.com/brutella/can"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestDecodeDTCFormatsPowertrainCode(t *testing.T) {
	// b1=0x01 (type bits 00 -> P), b2=0x23 -> P0123
	got := decodeDTC(0x01, 0x23)
	if got != "P0123" {
		t.Errorf("expected P0123, got %s", got)
	}
}

func TestDecodeDTCZeroBytesYieldsEmptyString(t *testing.T) {
	if got := decodeDTC(0, 0); got != "" {
		t.Errorf("expected empty string for zero bytes, got %q", got)
	}
}

func TestDecodeDTCResponseExtractsMultipleCodes(t *testing.T) {
	frame := can.Frame{
		ID:   0x7E8,
		Data: [8]byte{6, 0x43, 0x01, 0x23, 0x41, 0x45, 0, 0},
	}
	dtcs := decodeDTCResponse(frame)
	if len(dtcs) != 2 {
		t.Fatalf("expected 2 DTCs, got %v", dtcs)
	}
	if dtcs[0] != "P0123" || dtcs[1] != "C0145" {
		t.Errorf("unexpected DTCs: %v", dtcs)
	}
}

func TestDecodeDTCResponseRejectsWrongResponseID(t *testing.T) {
	frame := can.Frame{ID: 0x123, Data: [8]byte{6, 0x43, 0x01, 0x23, 0, 0, 0, 0}}
	if dtcs := decodeDTCResponse(frame); dtcs != nil {
		t.Errorf("expected nil for unexpected response ID, got %v", dtcs)
	}
}

func TestLatestDiagnosticsUnavailableBeforeFirstSnapshot(t *testing.T) {
	b := &Bridge{}
	if _, ok := b.LatestDiagnostics(); ok {
		t.Error("expected no snapshot before the first cacheSnapshot call")
	}
}

func TestLatestDiagnosticsReturnsCachedSnapshot(t *testing.T) {
	b := &Bridge{Logger: discardLogger()}
	b.cacheSnapshot(Snapshot{DTCs: []string{"P0123"}})

	data, ok := b.LatestDiagnostics()
	if !ok {
		t.Fatal("expected a cached snapshot")
	}
	if !strings.Contains(string(data), "P0123") {
		t.Errorf("expected marshaled snapshot to contain the DTC, got %s", data)
	}
}

func TestDecodeInfoResponseExtractsASCIIPayload(t *testing.T) {
	frame := can.Frame{
		ID:   0x7E8,
		Data: [8]byte{5, 0x49, 'A', 'B', 'C', 0, 0, 0},
	}
	got, err := decodeInfoResponse(frame, 0x09)
	if err != nil {
		t.Fatalf("decodeInfoResponse: %v", err)
	}
	if got != "ABC" {
		t.Errorf("expected ABC, got %q", got)
	}
}
