package packets

// ChatMessage is one line of chat: the sender's login followed by the text,
// each encoded as a length-prefixed string.
type ChatMessage struct {
	Login string
	Text  string
}

func (m ChatMessage) Append(dst []byte) []byte {
	dst = AppendString(dst, m.Login)
	return AppendString(dst, m.Text)
}

// LongSumRequest asks a stream long-sum server for the sum of its operands.
// It is encoded as an operand count followed by that many int64 values.
type LongSumRequest struct {
	Operands []int64
}

func (r LongSumRequest) Append(dst []byte) []byte {
	dst = AppendInt(dst, int32(len(r.Operands)))
	for _, v := range r.Operands {
		dst = AppendLong(dst, v)
	}
	return dst
}

// LongSumResult is the stream long-sum server's reply.
type LongSumResult struct {
	Sum int64
}

func (r LongSumResult) Append(dst []byte) []byte {
	return AppendLong(dst, r.Sum)
}
