package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"math"
)

// --------------------------------------------------------------------------
// Parameter streams
// --------------------------------------------------------------------------

/*
	The streams below encode the parameters and results of an operation into the
	opaque Params field of a Message. Fixed width values are little endian, sizes
	use a compact form: one byte for sizes below 255, otherwise the byte 255
	followed by an int32.

	Values that do not fit their wire type are rejected with a *common.MarshalError
	before anything is written, so a failed marshal never leaves a partial request.
*/

// OutputStream encodes parameters
type OutputStream struct {
	buf []byte
}

// NewOutputStream creates an empty output stream
func NewOutputStream() *OutputStream {
	return &OutputStream{}
}

// Bytes returns the encoded parameters
func (o *OutputStream) Bytes() []byte {
	return o.buf
}

// Len returns the number of bytes written so far
func (o *OutputStream) Len() int {
	return len(o.buf)
}

func (o *OutputStream) WriteBool(v bool) {
	if v {
		o.buf = append(o.buf, 1)
	} else {
		o.buf = append(o.buf, 0)
	}
}

// WriteOctet writes a single unsigned byte, v must be in [0, 255]
func (o *OutputStream) WriteOctet(v int) error {
	if v < 0 || v > math.MaxUint8 {
		return &common.MarshalError{Reason: fmt.Sprintf("value %d is out of range for type byte", v)}
	}
	o.buf = append(o.buf, byte(v))
	return nil
}

// WriteShort writes a 16 bit integer
func (o *OutputStream) WriteShort(v int) error {
	if v < math.MinInt16 || v > math.MaxInt16 {
		return &common.MarshalError{Reason: fmt.Sprintf("value %d is out of range for type short", v)}
	}
	o.buf = binary.LittleEndian.AppendUint16(o.buf, uint16(int16(v)))
	return nil
}

// WriteInt writes a 32 bit integer
func (o *OutputStream) WriteInt(v int64) error {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return &common.MarshalError{Reason: fmt.Sprintf("value %d is out of range for type int", v)}
	}
	o.buf = binary.LittleEndian.AppendUint32(o.buf, uint32(int32(v)))
	return nil
}

// WriteLong writes a 64 bit integer
func (o *OutputStream) WriteLong(v int64) {
	o.buf = binary.LittleEndian.AppendUint64(o.buf, uint64(v))
}

// WriteFloat writes a 32 bit float, finite values beyond the float32 range are rejected
func (o *OutputStream) WriteFloat(v float64) error {
	if !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > math.MaxFloat32 {
		return &common.MarshalError{Reason: fmt.Sprintf("value %g is out of range for type float", v)}
	}
	o.buf = binary.LittleEndian.AppendUint32(o.buf, math.Float32bits(float32(v)))
	return nil
}

func (o *OutputStream) WriteDouble(v float64) {
	o.buf = binary.LittleEndian.AppendUint64(o.buf, math.Float64bits(v))
}

// WriteSize writes a non negative size in compact form
func (o *OutputStream) WriteSize(n int) error {
	switch {
	case n < 0 || n > math.MaxInt32:
		return &common.MarshalError{Reason: fmt.Sprintf("size %d is out of range", n)}
	case n < 255:
		o.buf = append(o.buf, byte(n))
	default:
		o.buf = append(o.buf, 255)
		o.buf = binary.LittleEndian.AppendUint32(o.buf, uint32(n))
	}
	return nil
}

func (o *OutputStream) WriteString(s string) error {
	if err := o.WriteSize(len(s)); err != nil {
		return err
	}
	o.buf = append(o.buf, s...)
	return nil
}

func (o *OutputStream) WriteStringSeq(seq []string) error {
	if err := o.WriteSize(len(seq)); err != nil {
		return err
	}
	for _, s := range seq {
		if err := o.WriteString(s); err != nil {
			return err
		}
	}
	return nil
}

// WriteStringDict writes a string dictionary in key order
func (o *OutputStream) WriteStringDict(d map[string]string) error {
	ctx := common.Context(d)
	if err := o.WriteSize(len(ctx)); err != nil {
		return err
	}
	for _, k := range ctx.Keys() {
		if err := o.WriteString(k); err != nil {
			return err
		}
		if err := o.WriteString(ctx[k]); err != nil {
			return err
		}
	}
	return nil
}

// InputStream decodes parameters written by an OutputStream
type InputStream struct {
	buf []byte
	pos int
}

// NewInputStream creates a stream reading from data
func NewInputStream(data []byte) *InputStream {
	return &InputStream{buf: data}
}

// Remaining returns the number of unread bytes
func (i *InputStream) Remaining() int {
	return len(i.buf) - i.pos
}

func (i *InputStream) next(n int, what string) ([]byte, error) {
	if n < 0 || i.pos+n > len(i.buf) {
		return nil, &common.MarshalError{Reason: fmt.Sprintf("unmarshal out of bounds reading %s", what)}
	}
	b := i.buf[i.pos : i.pos+n]
	i.pos += n
	return b, nil
}

func (i *InputStream) ReadBool() (bool, error) {
	b, err := i.next(1, "bool")
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (i *InputStream) ReadOctet() (int, error) {
	b, err := i.next(1, "byte")
	if err != nil {
		return 0, err
	}
	return int(b[0]), nil
}

func (i *InputStream) ReadShort() (int, error) {
	b, err := i.next(2, "short")
	if err != nil {
		return 0, err
	}
	return int(int16(binary.LittleEndian.Uint16(b))), nil
}

func (i *InputStream) ReadInt() (int64, error) {
	b, err := i.next(4, "int")
	if err != nil {
		return 0, err
	}
	return int64(int32(binary.LittleEndian.Uint32(b))), nil
}

func (i *InputStream) ReadLong() (int64, error) {
	b, err := i.next(8, "long")
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (i *InputStream) ReadFloat() (float64, error) {
	b, err := i.next(4, "float")
	if err != nil {
		return 0, err
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
}

func (i *InputStream) ReadDouble() (float64, error) {
	b, err := i.next(8, "double")
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (i *InputStream) ReadSize() (int, error) {
	b, err := i.next(1, "size")
	if err != nil {
		return 0, err
	}
	if b[0] < 255 {
		return int(b[0]), nil
	}
	b, err = i.next(4, "size")
	if err != nil {
		return 0, err
	}
	n := int32(binary.LittleEndian.Uint32(b))
	if n < 0 {
		return 0, &common.MarshalError{Reason: fmt.Sprintf("negative size %d", n)}
	}
	return int(n), nil
}

func (i *InputStream) ReadString() (string, error) {
	n, err := i.ReadSize()
	if err != nil {
		return "", err
	}
	b, err := i.next(n, "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (i *InputStream) ReadStringSeq() ([]string, error) {
	n, err := i.ReadSize()
	if err != nil {
		return nil, err
	}
	// each string takes at least one byte
	if n > i.Remaining() {
		return nil, &common.MarshalError{Reason: fmt.Sprintf("sequence size %d exceeds remaining data", n)}
	}
	seq := make([]string, n)
	for j := range seq {
		if seq[j], err = i.ReadString(); err != nil {
			return nil, err
		}
	}
	return seq, nil
}

func (i *InputStream) ReadStringDict() (map[string]string, error) {
	n, err := i.ReadSize()
	if err != nil {
		return nil, err
	}
	if n > i.Remaining()/2 {
		return nil, &common.MarshalError{Reason: fmt.Sprintf("dictionary size %d exceeds remaining data", n)}
	}
	d := make(map[string]string, n)
	for j := 0; j < n; j++ {
		k, err := i.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := i.ReadString()
		if err != nil {
			return nil, err
		}
		d[k] = v
	}
	return d, nil
}
