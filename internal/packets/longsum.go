package packets

import "fmt"

// Type tags of the reliable long-sum datagrams.
const (
	OpType       = 0x01
	AckType      = 0x02
	ResType      = 0x03
	CleanType    = 0x04
	AckCleanType = 0x05
)

// Sizes of the long-sum datagrams, tag byte included.
const (
	OpSize       = 1 + 4*LongSize
	AckSize      = 1 + 2*LongSize
	ResSize      = 1 + 2*LongSize
	CleanSize    = 1 + LongSize
	AckCleanSize = 1 + LongSize
)

// Datagram is implemented by every reliable long-sum datagram.
type Datagram interface {
	Type() byte
	Append(dst []byte) []byte
}

// Op carries operand Index (of Total) of session SessionID.
type Op struct {
	SessionID int64
	Index     int64
	Total     int64
	Value     int64
}

// Ack acknowledges the receipt of one Op.
type Ack struct {
	SessionID int64
	Index     int64
}

// Res carries the sum of a completed session.
type Res struct {
	SessionID int64
	Sum       int64
}

// Clean asks the server to forget a session.
type Clean struct {
	SessionID int64
}

// AckClean acknowledges a Clean.
type AckClean struct {
	SessionID int64
}

func (Op) Type() byte       { return OpType }
func (Ack) Type() byte      { return AckType }
func (Res) Type() byte      { return ResType }
func (Clean) Type() byte    { return CleanType }
func (AckClean) Type() byte { return AckCleanType }

func (o Op) Append(dst []byte) []byte {
	dst = append(dst, OpType)
	dst = AppendLong(dst, o.SessionID)
	dst = AppendLong(dst, o.Index)
	dst = AppendLong(dst, o.Total)
	return AppendLong(dst, o.Value)
}

func (a Ack) Append(dst []byte) []byte {
	dst = append(dst, AckType)
	dst = AppendLong(dst, a.SessionID)
	return AppendLong(dst, a.Index)
}

func (r Res) Append(dst []byte) []byte {
	dst = append(dst, ResType)
	dst = AppendLong(dst, r.SessionID)
	return AppendLong(dst, r.Sum)
}

func (c Clean) Append(dst []byte) []byte {
	return AppendLong(append(dst, CleanType), c.SessionID)
}

func (a AckClean) Append(dst []byte) []byte {
	return AppendLong(append(dst, AckCleanType), a.SessionID)
}

var datagramSizes = map[byte]int{
	OpType:       OpSize,
	AckType:      AckSize,
	ResType:      ResSize,
	CleanType:    CleanSize,
	AckCleanType: AckCleanSize,
}

// DecodeLongSum decodes a single long-sum datagram. The datagram must have
// exactly the length its tag calls for.
func DecodeLongSum(b []byte) (Datagram, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty datagram: %w", ErrMalformed)
	}
	size, ok := datagramSizes[b[0]]
	if !ok {
		return nil, fmt.Errorf("unknown datagram type 0x%02x: %w", b[0], ErrMalformed)
	}
	if len(b) != size {
		return nil, fmt.Errorf("datagram type 0x%02x has %d bytes, want %d: %w", b[0], len(b), size, ErrMalformed)
	}

	p := b[1:]
	switch b[0] {
	case OpType:
		return Op{SessionID: long(p), Index: long(p[8:]), Total: long(p[16:]), Value: long(p[24:])}, nil
	case AckType:
		return Ack{SessionID: long(p), Index: long(p[8:])}, nil
	case ResType:
		return Res{SessionID: long(p), Sum: long(p[8:])}, nil
	case CleanType:
		return Clean{SessionID: long(p)}, nil
	default:
		return AckClean{SessionID: long(p)}, nil
	}
}
