package delta

// LZ77 codec for the Delta Codec's "lz77" and "hybrid" algorithms.
//
// The source material frames back-references with a raw 0xFF marker byte,
// which collides with any literal payload byte that happens to be 0xFF.
// Framing resolves that ambiguity with an explicit one-byte tag ahead of
// every unit instead: 0x00 for a literal run, 0x01 for a back-reference.
// No payload byte is ever interpreted as structural.
const (
	lz77WindowSize    = 4096
	lz77MaxLookahead  = 18
	lz77MinMatchLen   = 3
	lz77TagLiteral    = 0x00
	lz77TagBackref    = 0x01
)

func encodeLZ77(data []byte) []byte {
	w := &byteWriter{}
	i := 0
	var literalRun []byte

	flushLiteral := func() {
		if len(literalRun) == 0 {
			return
		}
		w.writeByte(lz77TagLiteral)
		w.writeUvarint(uint64(len(literalRun)))
		w.buf = append(w.buf, literalRun...)
		literalRun = nil
	}

	for i < len(data) {
		windowStart := i - lz77WindowSize
		if windowStart < 0 {
			windowStart = 0
		}
		maxLen := lz77MaxLookahead
		if i+maxLen > len(data) {
			maxLen = len(data) - i
		}

		bestLen, bestDist := 0, 0
		for j := windowStart; j < i; j++ {
			l := matchLength(data, j, i, maxLen)
			if l > bestLen {
				bestLen, bestDist = l, i-j
			}
		}

		if bestLen >= lz77MinMatchLen {
			flushLiteral()
			w.writeByte(lz77TagBackref)
			w.writeUvarint(uint64(bestDist))
			w.writeUvarint(uint64(bestLen))
			i += bestLen
		} else {
			literalRun = append(literalRun, data[i])
			i++
		}
	}
	flushLiteral()
	return w.buf
}

func matchLength(data []byte, a, b, maxLen int) int {
	n := 0
	for n < maxLen && b+n < len(data) && data[a+n] == data[b+n] {
		n++
	}
	return n
}

func decodeLZ77(data []byte) ([]byte, error) {
	r := &byteReader{buf: data}
	var out []byte
	for r.pos < len(r.buf) {
		tag, err := r.readByte()
		if err != nil {
			return nil, err
		}
		switch tag {
		case lz77TagLiteral:
			n, err := r.readUvarint()
			if err != nil {
				return nil, err
			}
			if r.pos+int(n) > len(r.buf) {
				return nil, errShortStream
			}
			out = append(out, r.buf[r.pos:r.pos+int(n)]...)
			r.pos += int(n)
		case lz77TagBackref:
			dist, err := r.readUvarint()
			if err != nil {
				return nil, err
			}
			length, err := r.readUvarint()
			if err != nil {
				return nil, err
			}
			start := len(out) - int(dist)
			if start < 0 {
				return nil, errShortStream
			}
			for k := 0; k < int(length); k++ {
				out = append(out, out[start+k])
			}
		default:
			return nil, errUnknownTag
		}
	}
	return out, nil
}
