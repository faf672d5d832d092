package adapter

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// Encoding names reported by detection. The utf-8-sig spelling marks a
// UTF-8 byte order mark that must be stripped before parsing.
const (
	encUTF8    = "utf-8"
	encUTF8BOM = "utf-8-sig"
	encUTF16LE = "utf-16-le"
	encUTF16BE = "utf-16-be"
	encUTF32LE = "utf-32-le"
	encUTF32BE = "utf-32-be"
	encLatin1  = "latin-1"
)

// detectEncoding inspects the BOM, then probes the first 8 KiB as strict
// UTF-8, then falls back to Latin-1 (which accepts any byte sequence).
// The second return is true when the Latin-1 fallback fired, signalling a
// low-confidence detection.
func detectEncoding(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	head := make([]byte, 8192)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", false, err
	}
	head = head[:n]

	// BOM order matters: UTF-32 LE starts with the UTF-16 LE BOM bytes.
	switch {
	case bytes.HasPrefix(head, []byte{0xEF, 0xBB, 0xBF}):
		return encUTF8BOM, false, nil
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE, 0x00, 0x00}):
		return encUTF32LE, false, nil
	case bytes.HasPrefix(head, []byte{0x00, 0x00, 0xFE, 0xFF}):
		return encUTF32BE, false, nil
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE}):
		return encUTF16LE, false, nil
	case bytes.HasPrefix(head, []byte{0xFE, 0xFF}):
		return encUTF16BE, false, nil
	}

	if utf8.Valid(head) {
		return encUTF8, false, nil
	}
	return encLatin1, true, nil
}

// decoderFor returns the x/text decoder for a detected encoding name, or
// nil for plain UTF-8.
func decoderFor(name string) *encoding.Decoder {
	switch name {
	case encUTF8BOM:
		return unicode.UTF8BOM.NewDecoder()
	case encUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	case encUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
	case encUTF32LE:
		return utf32.UTF32(utf32.LittleEndian, utf32.UseBOM).NewDecoder()
	case encUTF32BE:
		return utf32.UTF32(utf32.BigEndian, utf32.UseBOM).NewDecoder()
	case encLatin1:
		return charmap.ISO8859_1.NewDecoder()
	default:
		return nil
	}
}

// openDecoded opens the file and wraps it in the decoder for the given
// encoding name so downstream readers always see UTF-8.
func openDecoded(path, encodingName string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := decoderFor(encodingName)
	if dec == nil {
		return f, nil
	}
	return &decodedReader{r: dec.Reader(f), closer: f}, nil
}

type decodedReader struct {
	r      io.Reader
	closer io.Closer
}

func (d *decodedReader) Read(p []byte) (int, error) { return d.r.Read(p) }
func (d *decodedReader) Close() error               { return d.closer.Close() }

// delimiterCandidates are counted during detection; ties prefer the
// earliest entry (comma).
var delimiterCandidates = []rune{',', '\t', ';', '|'}

// detectDelimiter samples up to 10 lines and selects the candidate with
// the highest total occurrence count. Files with no candidate occurrences
// default to comma.
func detectDelimiter(path, encodingName string) (rune, error) {
	r, err := openDecoded(path, encodingName)
	if err != nil {
		return ',', err
	}
	defer r.Close()

	counts := map[rune]int{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for lines := 0; lines < 10 && scanner.Scan(); lines++ {
		line := scanner.Text()
		for _, d := range delimiterCandidates {
			counts[d] += strings.Count(line, string(d))
		}
	}

	best := ','
	bestCount := 0
	for _, d := range delimiterCandidates {
		if counts[d] > bestCount {
			best = d
			bestCount = counts[d]
		}
	}
	return best, nil
}
