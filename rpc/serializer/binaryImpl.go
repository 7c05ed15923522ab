package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasName      uint16 = 1 << 0
	hasCategory  uint16 = 1 << 1
	hasFacet     uint16 = 1 << 2
	hasOperation uint16 = 1 << 3
	hasMode      uint16 = 1 << 4
	hasContext   uint16 = 1 << 5
	hasParams    uint16 = 1 << 6
	hasStatus    uint16 = 1 << 7
	hasErr       uint16 = 1 << 8
)

// headerSize is 1 byte MsgType + 2 bytes flags
const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, b.sizeBytes(msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	var flags uint16
	pos := headerSize

	putString := func(s string) {
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(s)))
		pos += 4
		copy(result[pos:pos+len(s)], s)
		pos += len(s)
	}

	if msg.Identity.Name != "" {
		flags |= hasName
		putString(msg.Identity.Name)
	}
	if msg.Identity.Category != "" {
		flags |= hasCategory
		putString(msg.Identity.Category)
	}
	if msg.Facet != "" {
		flags |= hasFacet
		putString(msg.Facet)
	}
	if msg.Operation != "" {
		flags |= hasOperation
		putString(msg.Operation)
	}
	if msg.Mode != common.ModeNormal {
		flags |= hasMode
		result[pos] = byte(msg.Mode)
		pos++
	}

	// Handle Context, entries are written in key order
	if len(msg.Context) > 0 {
		flags |= hasContext
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Context)))
		pos += 4
		for _, k := range msg.Context.Keys() {
			putString(k)
			putString(msg.Context[k])
		}
	}

	// Handle Params
	if msg.Params != nil {
		flags |= hasParams
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Params)))
		pos += 4
		copy(result[pos:pos+len(msg.Params)], msg.Params)
		pos += len(msg.Params)
	}

	if msg.Status != common.ReplyOK {
		flags |= hasStatus
		result[pos] = byte(msg.Status)
		pos++
	}
	if msg.Err != "" {
		flags |= hasErr
		putString(msg.Err)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	pos := headerSize

	readString := func(field string) (string, error) {
		if pos+4 > len(data) {
			return "", fmt.Errorf("data too short for %s length", field)
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if n < 0 || pos+n > len(data) {
			return "", fmt.Errorf("data too short for %s data", field)
		}
		s := string(data[pos : pos+n])
		pos += n
		return s, nil
	}

	readByte := func(field string) (byte, error) {
		if pos+1 > len(data) {
			return 0, fmt.Errorf("data too short for %s", field)
		}
		v := data[pos]
		pos++
		return v, nil
	}

	var err error
	if flags&hasName != 0 {
		if msg.Identity.Name, err = readString("name"); err != nil {
			return err
		}
	}
	if flags&hasCategory != 0 {
		if msg.Identity.Category, err = readString("category"); err != nil {
			return err
		}
	}
	if flags&hasFacet != 0 {
		if msg.Facet, err = readString("facet"); err != nil {
			return err
		}
	}
	if flags&hasOperation != 0 {
		if msg.Operation, err = readString("operation"); err != nil {
			return err
		}
	}
	if flags&hasMode != 0 {
		mode, err := readByte("mode")
		if err != nil {
			return err
		}
		msg.Mode = common.OperationMode(mode)
	}

	// Read Context if present
	if flags&hasContext != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for context size")
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4

		// every entry needs at least 8 bytes, reject sizes the data can not hold
		if n < 0 || n > (len(data)-pos)/8 {
			return fmt.Errorf("data too short for %d context entries", n)
		}
		msg.Context = make(common.Context, n)
		for i := 0; i < n; i++ {
			k, err := readString("context key")
			if err != nil {
				return err
			}
			v, err := readString("context value")
			if err != nil {
				return err
			}
			msg.Context[k] = v
		}
	}

	// Read Params if present, an empty slice (not nil) is kept as such
	if flags&hasParams != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for params length")
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if n < 0 || pos+n > len(data) {
			return fmt.Errorf("data too short for params data")
		}
		msg.Params = make([]byte, n)
		copy(msg.Params, data[pos:pos+n])
		pos += n
	}

	if flags&hasStatus != 0 {
		status, err := readByte("status")
		if err != nil {
			return err
		}
		msg.Status = common.ReplyStatus(status)
	}
	if flags&hasErr != 0 {
		if msg.Err, err = readString("err"); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	// Add sizes for fields that require length encoding
	if msg.Identity.Name != "" {
		size += 4 + len(msg.Identity.Name)
	}
	if msg.Identity.Category != "" {
		size += 4 + len(msg.Identity.Category)
	}
	if msg.Facet != "" {
		size += 4 + len(msg.Facet)
	}
	if msg.Operation != "" {
		size += 4 + len(msg.Operation)
	}
	if msg.Mode != common.ModeNormal {
		size += 1
	}
	if len(msg.Context) > 0 {
		size += 4 // entry count
		for k, v := range msg.Context {
			size += 8 + len(k) + len(v)
		}
	}
	if msg.Params != nil {
		size += 4 + len(msg.Params)
	}
	if msg.Status != common.ReplyOK {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}

	return size
}
