package delta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"csvpipe/internal/errs"
)

// Artifact is the on-disk layout for a delta file (spec.md §6): a plain-text
// header of "key=value" lines terminated by "END_HEADER\n", an 8-byte
// little-endian payload length, then the codec-encoded record stream.
type Artifact struct {
	Version     string
	Algorithm   Algorithm
	RecordCount int
	BaseRows    int
	Headers     map[string]string
	Payload     []byte
}

const artifactHeaderTerminator = "END_HEADER\n"

// CurrentArtifactVersion is the Delta Header version this build writes and
// reads (spec.md §3's Delta Header "version string", §6's "Per-record
// canonical form (version 1.0)").
const CurrentArtifactVersion = "1.0"

// supportedArtifactVersions lists every version this build can decode.
// DecodeArtifact/ValidateArtifact reject anything else with VersionMismatch
// rather than attempting to interpret a payload framed by rules this build
// doesn't know.
var supportedArtifactVersions = map[string]bool{"1.0": true}

// EncodeArtifact serializes records under algorithm and wraps the result in
// an Artifact's text header plus length-prefixed payload.
func EncodeArtifact(records []Record, baseRows int, algorithm Algorithm, maxDictSize int) ([]byte, error) {
	codec := NewCodec(CodecConfig{Algorithm: algorithm, MaxDictionarySize: maxDictSize})
	payload, err := codec.Encode(records)
	if err != nil {
		return nil, errs.Wrap(component, errs.Compression, "encode delta artifact payload", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "version=%s\n", CurrentArtifactVersion)
	fmt.Fprintf(&buf, "algorithm=%s\n", algorithm)
	fmt.Fprintf(&buf, "record_count=%d\n", len(records))
	fmt.Fprintf(&buf, "base_rows=%d\n", baseRows)
	buf.WriteString(artifactHeaderTerminator)

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)
	return buf.Bytes(), nil
}

// DecodeArtifact parses an artifact produced by EncodeArtifact and decodes
// its record stream.
func DecodeArtifact(data []byte) (Artifact, []Record, error) {
	art, payload, err := ValidateArtifact(data)
	if err != nil {
		return Artifact{}, nil, err
	}
	codec := NewCodec(CodecConfig{Algorithm: art.Algorithm})
	records, err := codec.Decode(payload)
	if err != nil {
		return Artifact{}, nil, errs.Wrap(component, errs.Decompression, "decode delta artifact payload", err)
	}
	if len(records) != art.RecordCount {
		return Artifact{}, nil, errs.New(component, errs.SchemaMismatch,
			fmt.Sprintf("artifact header declares %d records, payload holds %d", art.RecordCount, len(records)))
	}
	art.Payload = payload
	return art, records, nil
}

// ValidateArtifact checks an artifact's header and length framing without
// decoding its payload, returning the parsed header and the raw payload
// bytes.
func ValidateArtifact(data []byte) (Artifact, []byte, error) {
	headerEnd := bytes.Index(data, []byte(artifactHeaderTerminator))
	if headerEnd < 0 {
		return Artifact{}, nil, errs.New(component, errs.Parse, "delta artifact missing END_HEADER terminator")
	}
	headerText := string(data[:headerEnd])
	rest := data[headerEnd+len(artifactHeaderTerminator):]

	fields := make(map[string]string)
	for _, line := range strings.Split(headerText, "\n") {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return Artifact{}, nil, errs.New(component, errs.Parse, "malformed delta artifact header line: "+line)
		}
		fields[k] = v
	}

	version := fields["version"]
	if !supportedArtifactVersions[version] {
		return Artifact{}, nil, errs.New(component, errs.VersionMismatch,
			fmt.Sprintf("delta artifact version %q is not supported by this build", version))
	}

	if len(rest) < 8 {
		return Artifact{}, nil, errs.New(component, errs.Parse, "delta artifact truncated before payload length")
	}
	payloadLen := binary.LittleEndian.Uint64(rest[:8])
	payload := rest[8:]
	if uint64(len(payload)) != payloadLen {
		return Artifact{}, nil, errs.New(component, errs.Parse,
			fmt.Sprintf("delta artifact payload length mismatch: header says %d, found %d", payloadLen, len(payload)))
	}

	recordCount, err := strconv.Atoi(fields["record_count"])
	if err != nil {
		return Artifact{}, nil, errs.Wrap(component, errs.Parse, "parse delta artifact record_count", err)
	}
	baseRows, err := strconv.Atoi(fields["base_rows"])
	if err != nil {
		return Artifact{}, nil, errs.Wrap(component, errs.Parse, "parse delta artifact base_rows", err)
	}

	return Artifact{
		Version:     version,
		Algorithm:   Algorithm(fields["algorithm"]),
		RecordCount: recordCount,
		BaseRows:    baseRows,
		Headers:     fields,
	}, payload, nil
}
