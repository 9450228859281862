package delta

import "sort"

// encodeDictionary builds a frequency-sorted dictionary of up to maxSize
// distinct strings seen across the record set, then re-encodes the
// records with each dictionary member replaced by a reference. Preamble:
// {count, (length, bytes)*}; body: the record stream with string
// references in place of literals.
func encodeDictionary(records []Record, maxSize int) []byte {
	freq := make(map[string]int)
	order := make([]string, 0)
	count := func(w *byteWriter, s string) {
		if _, seen := freq[s]; !seen {
			order = append(order, s)
		}
		freq[s]++
	}
	scratch := &byteWriter{}
	writeRecords(scratch, records, count)

	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > maxSize {
		order = order[:maxSize]
	}
	dictIndex := make(map[string]int, len(order))
	for i, s := range order {
		dictIndex[s] = i
	}

	w := &byteWriter{}
	w.writeUvarint(uint64(len(order)))
	for _, s := range order {
		w.writeRawString(s)
	}

	ref := func(w *byteWriter, s string) {
		if idx, ok := dictIndex[s]; ok {
			w.writeByte(1)
			w.writeUvarint(uint64(idx))
			return
		}
		w.writeByte(0)
		w.writeRawString(s)
	}
	writeRecords(w, records, ref)
	return w.buf
}

func decodeDictionary(data []byte) ([]Record, error) {
	r := &byteReader{buf: data}
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	dict := make([]string, n)
	for i := range dict {
		s, err := r.readRawString()
		if err != nil {
			return nil, err
		}
		dict[i] = s
	}

	resolve := func(r *byteReader) (string, error) {
		tag, err := r.readByte()
		if err != nil {
			return "", err
		}
		if tag == 1 {
			idx, err := r.readUvarint()
			if err != nil {
				return "", err
			}
			if int(idx) >= len(dict) {
				return "", errShortStream
			}
			return dict[idx], nil
		}
		return r.readRawString()
	}
	return readRecords(r, resolve)
}
