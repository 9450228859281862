package delta

import (
	"encoding/binary"
	"fmt"
)

// byteWriter accumulates the canonical per-record serialization. stringFn,
// when set, lets the dictionary codec intercept every string write and
// substitute a dictionary reference instead of the literal bytes.
type byteWriter struct {
	buf      []byte
	stringFn func(w *byteWriter, s string)
}

func (w *byteWriter) writeByte(b byte) { w.buf = append(w.buf, b) }

func (w *byteWriter) writeVarint(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *byteWriter) writeUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *byteWriter) writeRawString(s string) {
	w.writeUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *byteWriter) writeString(s string) {
	if w.stringFn != nil {
		w.stringFn(w, s)
		return
	}
	w.writeRawString(s)
}

func (w *byteWriter) writeStrings(ss []string) {
	w.writeUvarint(uint64(len(ss)))
	for _, s := range ss {
		w.writeString(s)
	}
}

func (w *byteWriter) writeInts(is []int) {
	w.writeUvarint(uint64(len(is)))
	for _, i := range is {
		w.writeVarint(int64(i))
	}
}

func (w *byteWriter) writeStringMap(m map[string]string) {
	w.writeUvarint(uint64(len(m)))
	// Deterministic order for a stable, re-compressible encoding.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		w.writeString(k)
		w.writeString(m[k])
	}
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// byteReader is the inverse of byteWriter.
type byteReader struct {
	buf      []byte
	pos      int
	stringFn func(r *byteReader) (string, error)
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("unexpected end of stream")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readVarint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("malformed varint")
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("malformed uvarint")
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) readRawString() (string, error) {
	l, err := r.readUvarint()
	if err != nil {
		return "", err
	}
	if r.pos+int(l) > len(r.buf) {
		return "", fmt.Errorf("string length exceeds buffer")
	}
	s := string(r.buf[r.pos : r.pos+int(l)])
	r.pos += int(l)
	return s, nil
}

func (r *byteReader) readString() (string, error) {
	if r.stringFn != nil {
		return r.stringFn(r)
	}
	return r.readRawString()
}

func (r *byteReader) readStrings() ([]string, error) {
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (r *byteReader) readInts() ([]int, error) {
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]int, n)
	for i := range out {
		v, err := r.readVarint()
		if err != nil {
			return nil, err
		}
		out[i] = int(v)
	}
	return out, nil
}

func (r *byteReader) readStringMap() (map[string]string, error) {
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	m := make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, err := r.readString()
		if err != nil {
			return nil, err
		}
		v, err := r.readString()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
