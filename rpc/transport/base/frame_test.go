package base

import (
	"net"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		typ       frameType
		requestID uint64
		data      []byte
	}{
		{name: "request", typ: frameRequest, requestID: 42, data: []byte("payload")},
		{name: "oneway request", typ: frameRequest, requestID: 0, data: []byte{1}},
		{name: "reply", typ: frameReply, requestID: 1<<40 + 7, data: make([]byte, 10000)},
		{name: "control frame", typ: frameValidateConnection, requestID: 0, data: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			errCh := make(chan error, 1)
			go func() { errCh <- writeFrame(client, tt.typ, tt.requestID, tt.data) }()

			f, _, err := readFrame(server, make([]byte, 64))
			if err != nil {
				t.Fatalf("readFrame failed: %v", err)
			}
			if err := <-errCh; err != nil {
				t.Fatalf("writeFrame failed: %v", err)
			}
			if f.typ != tt.typ || f.requestID != tt.requestID || f.count != 1 {
				t.Errorf("header mismatch: got %s/%d/%d", f.typ, f.requestID, f.count)
			}
			if len(f.payload) != len(tt.data) {
				t.Errorf("payload length %d, want %d", len(f.payload), len(tt.data))
			}
		})
	}
}

func TestBatchFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	entries := [][]byte{[]byte("first"), {}, []byte("third")}
	errCh := make(chan error, 1)
	go func() { errCh <- writeBatchFrame(client, entries) }()

	f, _, err := readFrame(server, nil)
	if err != nil {
		t.Fatalf("readFrame failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("writeBatchFrame failed: %v", err)
	}
	if f.typ != frameRequestBatch || f.count != 3 {
		t.Fatalf("unexpected header %s count %d", f.typ, f.count)
	}

	got, err := splitBatch(f.payload, f.count)
	if err != nil {
		t.Fatalf("splitBatch failed: %v", err)
	}
	for i := range entries {
		if string(got[i]) != string(entries[i]) {
			t.Errorf("entry %d = %q, want %q", i, got[i], entries[i])
		}
	}
}

func TestSplitBatchInvalid(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		count   uint32
	}{
		{name: "count too large", payload: []byte{0, 0, 0, 0}, count: 2},
		{name: "entry too long", payload: []byte{0, 0, 0, 9, 'a'}, count: 1},
		{name: "trailing bytes", payload: []byte{0, 0, 0, 1, 'a', 'b'}, count: 1},
		{name: "huge count", payload: []byte{}, count: 1 << 31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := splitBatch(tt.payload, tt.count); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}
