package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// frameType identifies the content of a frame
type frameType uint8

const (
	frameRequest frameType = iota + 1
	frameRequestBatch
	frameReply
	frameValidateConnection
	frameCloseConnection
)

func (t frameType) String() string {
	switch t {
	case frameRequest:
		return "request"
	case frameRequestBatch:
		return "request-batch"
	case frameReply:
		return "reply"
	case frameValidateConnection:
		return "validate-connection"
	case frameCloseConnection:
		return "close-connection"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

const (
	// frameHeaderSize is type(1) + requestID(8) + count(4) + length(4)
	frameHeaderSize = 17

	// maxFramePayload bounds the payload a peer may announce
	maxFramePayload = 256 * 1024 * 1024
)

// frame is a decoded frame. The payload may reference the read buffer.
type frame struct {
	typ       frameType
	requestID uint64 // 0 for oneway requests and control frames
	count     uint32 // number of requests in a batch, 1 otherwise
	payload   []byte
}

// writeFrame writes a frame to the connection with the format:
// - 1 byte: frame type
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: request count (uint32, big endian)
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload
func writeFrame(conn net.Conn, typ frameType, requestID uint64, data []byte) error {
	header := make([]byte, frameHeaderSize)
	putHeader(header, typ, requestID, 1, len(data))

	b := net.Buffers{header}
	if len(data) > 0 {
		b = append(b, data)
	}
	_, err := b.WriteTo(conn)
	return err
}

// writeBatchFrame writes all entries as one request batch frame. Each entry is
// prefixed with its length (uint32, big endian). The header and all entries are
// handed to the connection in a single vectored write.
func writeBatchFrame(conn net.Conn, entries [][]byte) error {
	size := 0
	for _, e := range entries {
		size += 4 + len(e)
	}

	// one buffer for the header and all length prefixes
	prefixes := make([]byte, frameHeaderSize+4*len(entries))
	putHeader(prefixes, frameRequestBatch, 0, len(entries), size)

	b := make(net.Buffers, 0, 1+2*len(entries))
	b = append(b, prefixes[:frameHeaderSize])
	for i, e := range entries {
		prefix := prefixes[frameHeaderSize+4*i : frameHeaderSize+4*(i+1)]
		binary.BigEndian.PutUint32(prefix, uint32(len(e)))
		b = append(b, prefix)
		if len(e) > 0 {
			b = append(b, e)
		}
	}
	_, err := b.WriteTo(conn)
	return err
}

func putHeader(header []byte, typ frameType, requestID uint64, count int, length int) {
	header[0] = byte(typ)
	binary.BigEndian.PutUint64(header[1:9], requestID)
	binary.BigEndian.PutUint32(header[9:13], uint32(count))
	binary.BigEndian.PutUint32(header[13:17], uint32(length))
}

// readFrame reads a frame from the connection using the provided buffer.
// If the buffer is too small a larger one is allocated, the buffer in use is
// returned so the caller can keep it for the next read.
func readFrame(conn net.Conn, buf []byte) (frame, []byte, error) {
	if len(buf) < frameHeaderSize {
		buf = make([]byte, 4096)
	}

	// Read header
	if _, err := io.ReadFull(conn, buf[:frameHeaderSize]); err != nil {
		return frame{}, buf, err
	}

	// Parse header
	f := frame{
		typ:       frameType(buf[0]),
		requestID: binary.BigEndian.Uint64(buf[1:9]),
		count:     binary.BigEndian.Uint32(buf[9:13]),
	}
	contentLength := binary.BigEndian.Uint32(buf[13:17])

	if contentLength > maxFramePayload {
		return frame{}, buf, fmt.Errorf("frame payload of %d bytes exceeds limit of %d bytes", contentLength, maxFramePayload)
	}

	// If no data, return empty slice
	if contentLength == 0 {
		f.payload = []byte{}
		return f, buf, nil
	}

	// Grow the buffer if needed
	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return frame{}, buf, err
	}
	f.payload = buf[:contentLength]
	return f, buf, nil
}

// splitBatch splits the payload of a request batch frame into its entries.
// The entries reference the payload.
func splitBatch(payload []byte, count uint32) ([][]byte, error) {
	// every entry needs at least its length prefix
	if uint64(count)*4 > uint64(len(payload)) {
		return nil, fmt.Errorf("batch of %d requests does not fit into %d bytes", count, len(payload))
	}

	entries := make([][]byte, 0, count)
	pos := 0
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(payload) {
			return nil, fmt.Errorf("batch entry %d: missing length", i)
		}
		n := int(binary.BigEndian.Uint32(payload[pos : pos+4]))
		pos += 4
		if n > len(payload)-pos {
			return nil, fmt.Errorf("batch entry %d: length %d exceeds remaining %d bytes", i, n, len(payload)-pos)
		}
		entries = append(entries, payload[pos:pos+n])
		pos += n
	}
	if pos != len(payload) {
		return nil, fmt.Errorf("batch has %d trailing bytes", len(payload)-pos)
	}
	return entries, nil
}
