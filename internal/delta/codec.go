// Codec algorithms for the Delta Codec (spec.md §4.G): canonical
// serialization of a Delta Record sequence, plus several encodings traded
// off against it. "hybrid" tries run-length and LZ77 against the
// canonical form and keeps whichever is smallest.
package delta

import (
	"fmt"
)

// Algorithm names a Delta Codec encoding.
type Algorithm string

const (
	AlgoNone         Algorithm = "none"
	AlgoRLE          Algorithm = "rle"
	AlgoDeltaInteger Algorithm = "delta-integer"
	AlgoDictionary   Algorithm = "dictionary"
	AlgoLZ77         Algorithm = "lz77"
	AlgoHybrid       Algorithm = "hybrid"
)

const defaultMaxDictionarySize = 4096

// CodecConfig configures encode/decode.
type CodecConfig struct {
	Algorithm        Algorithm
	MaxDictionarySize int
}

// Codec encodes/decodes a Delta Record sequence under the configured
// algorithm.
type Codec struct {
	cfg CodecConfig
}

// NewCodec constructs a Codec.
func NewCodec(cfg CodecConfig) *Codec {
	if cfg.MaxDictionarySize <= 0 {
		cfg.MaxDictionarySize = defaultMaxDictionarySize
	}
	return &Codec{cfg: cfg}
}

// Encode serializes records under the configured algorithm.
func (c *Codec) Encode(records []Record) ([]byte, error) {
	switch c.cfg.Algorithm {
	case "", AlgoNone:
		return encodeCanonical(records), nil
	case AlgoRLE:
		return encodeRLE(encodeCanonical(records)), nil
	case AlgoDeltaInteger:
		return encodeDeltaInteger(records), nil
	case AlgoDictionary:
		return encodeDictionary(records, c.cfg.MaxDictionarySize), nil
	case AlgoLZ77:
		return encodeLZ77(encodeCanonical(records)), nil
	case AlgoHybrid:
		return encodeHybrid(records), nil
	default:
		return nil, fmt.Errorf("unsupported delta codec algorithm %q", c.cfg.Algorithm)
	}
}

// Decode inverts Encode for the configured algorithm.
func (c *Codec) Decode(data []byte) ([]Record, error) {
	switch c.cfg.Algorithm {
	case "", AlgoNone:
		return decodeCanonical(data)
	case AlgoRLE:
		canon, err := decodeRLE(data)
		if err != nil {
			return nil, err
		}
		return decodeCanonical(canon)
	case AlgoDeltaInteger:
		return decodeDeltaInteger(data)
	case AlgoDictionary:
		return decodeDictionary(data)
	case AlgoLZ77:
		canon, err := decodeLZ77(data)
		if err != nil {
			return nil, err
		}
		return decodeCanonical(canon)
	case AlgoHybrid:
		return decodeHybrid(data)
	default:
		return nil, fmt.Errorf("unsupported delta codec algorithm %q", c.cfg.Algorithm)
	}
}

// encodeHybrid canonical-serializes, tries RLE and LZ77, and keeps
// whichever result (including the bare canonical form) is smallest,
// prefixed by a one-byte algorithm tag: 0=none, 1=RLE, 2=LZ77.
func encodeHybrid(records []Record) []byte {
	canon := encodeCanonical(records)
	best := append([]byte{0}, canon...)

	if !isCompressible(canon) {
		return best
	}

	rle := append([]byte{1}, encodeRLE(canon)...)
	if len(rle) < len(best) {
		best = rle
	}
	lz := append([]byte{2}, encodeLZ77(canon)...)
	if len(lz) < len(best) {
		best = lz
	}
	return best
}

func decodeHybrid(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty hybrid payload")
	}
	tag, body := data[0], data[1:]
	switch tag {
	case 0:
		return decodeCanonical(body)
	case 1:
		canon, err := decodeRLE(body)
		if err != nil {
			return nil, err
		}
		return decodeCanonical(canon)
	case 2:
		canon, err := decodeLZ77(body)
		if err != nil {
			return nil, err
		}
		return decodeCanonical(canon)
	default:
		return nil, fmt.Errorf("unknown hybrid algorithm tag %d", tag)
	}
}

// encodeCanonical writes a length-prefixed record count followed by each
// record's operation tag, indices, key, field vectors, changed-columns,
// timestamp, hash and metadata.
func encodeCanonical(records []Record) []byte {
	w := &byteWriter{}
	writeRecords(w, records, nil)
	return w.buf
}

func decodeCanonical(data []byte) ([]Record, error) {
	r := &byteReader{buf: data}
	return readRecords(r, nil)
}

// writeRecords/readRecords are shared by the canonical and dictionary
// encoders; stringFn, when non-nil, intercepts every string write/read
// (the dictionary codec substitutes references there).
func writeRecords(w *byteWriter, records []Record, stringFn func(w *byteWriter, s string)) {
	w.stringFn = stringFn
	w.writeUvarint(uint64(len(records)))
	for _, rec := range records {
		w.writeByte(byte(rec.Op))
		w.writeVarint(int64(rec.Index))
		w.writeVarint(int64(rec.OldIndex))
		w.writeString(rec.Key)
		w.writeStrings(rec.Values)
		w.writeStrings(rec.OldValues)
		w.writeInts(rec.ChangedColumns)
		w.writeVarint(rec.Timestamp.UnixNano())
		w.writeString(rec.Hash)
		w.writeStringMap(rec.Metadata)
	}
}

func readRecords(r *byteReader, stringFn func(r *byteReader) (string, error)) ([]Record, error) {
	r.stringFn = stringFn
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	records := make([]Record, n)
	for i := range records {
		opByte, err := r.readByte()
		if err != nil {
			return nil, err
		}
		index, err := r.readVarint()
		if err != nil {
			return nil, err
		}
		oldIndex, err := r.readVarint()
		if err != nil {
			return nil, err
		}
		key, err := r.readString()
		if err != nil {
			return nil, err
		}
		values, err := r.readStrings()
		if err != nil {
			return nil, err
		}
		oldValues, err := r.readStrings()
		if err != nil {
			return nil, err
		}
		changed, err := r.readInts()
		if err != nil {
			return nil, err
		}
		ts, err := r.readVarint()
		if err != nil {
			return nil, err
		}
		hash, err := r.readString()
		if err != nil {
			return nil, err
		}
		meta, err := r.readStringMap()
		if err != nil {
			return nil, err
		}
		records[i] = Record{
			Op:             Op(opByte),
			Index:          int(index),
			OldIndex:       int(oldIndex),
			Key:            key,
			Values:         values,
			OldValues:      oldValues,
			ChangedColumns: changed,
			Timestamp:      unixNanoUTC(ts),
			Hash:           hash,
			Metadata:       meta,
		}
	}
	return records, nil
}
