package delta

// encodeDeltaInteger implements spec.md's delta-integer algorithm: given a
// vector of int64 values, store the first value verbatim then successive
// differences. The vector here is every record's (Index, OldIndex) pair,
// interleaved in record order — the one part of a Delta Record that is
// naturally integer-sequential and benefits from delta coding. The
// remaining fields are canonically serialized afterward.
func encodeDeltaInteger(records []Record) []byte {
	ints := make([]int64, 0, len(records)*2)
	for _, rec := range records {
		ints = append(ints, int64(rec.Index), int64(rec.OldIndex))
	}

	w := &byteWriter{}
	w.writeUvarint(uint64(len(ints)))
	var prev int64
	for i, v := range ints {
		if i == 0 {
			w.writeVarint(v)
		} else {
			w.writeVarint(v - prev)
		}
		prev = v
	}

	bodies := &byteWriter{}
	bodies.writeUvarint(uint64(len(records)))
	for _, rec := range records {
		bodies.writeByte(byte(rec.Op))
		bodies.writeString(rec.Key)
		bodies.writeStrings(rec.Values)
		bodies.writeStrings(rec.OldValues)
		bodies.writeInts(rec.ChangedColumns)
		bodies.writeVarint(rec.Timestamp.UnixNano())
		bodies.writeString(rec.Hash)
		bodies.writeStringMap(rec.Metadata)
	}

	w.buf = append(w.buf, bodies.buf...)
	return w.buf
}

func decodeDeltaInteger(data []byte) ([]Record, error) {
	r := &byteReader{buf: data}
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	ints := make([]int64, n)
	var prev int64
	for i := range ints {
		d, err := r.readVarint()
		if err != nil {
			return nil, err
		}
		if i == 0 {
			ints[i] = d
		} else {
			ints[i] = prev + d
		}
		prev = ints[i]
	}

	count, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	if count*2 != n {
		return nil, errShortStream
	}
	records := make([]Record, count)
	for i := range records {
		opByte, err := r.readByte()
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
			Index:          int(ints[i*2]),
			OldIndex:       int(ints[i*2+1]),
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
