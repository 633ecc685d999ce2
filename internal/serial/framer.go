package serial

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Framer assembles line oriented XML stanzas from the adapter byte stream.
// Only the byte buffer carries over between reads; stanza assembly does not.
type Framer struct {
	reader *bufio.Reader
}

// NewFramer creates a framer over any line source, usually a *Port
func NewFramer(r io.Reader) *Framer {
	return &Framer{reader: bufio.NewReader(r)}
}

func isHeader(line string) bool {
	return strings.HasPrefix(line, "<") && !strings.HasPrefix(line, "</")
}

func isTrailer(line string) bool {
	return strings.HasPrefix(line, "</")
}

// readLine returns the next line without its terminator. Undecodable bytes are dropped.
func (f *Framer) readLine() (string, error) {
	line, err := f.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	return strings.ToValidUTF8(line, ""), nil
}

// Read discards lines until a header, then returns every line up to and
// including the next trailer as one stanza. Any transport error, including
// ErrReadTimeout, abandons the partial stanza.
func (f *Framer) Read() (string, error) {
	line, err := f.readLine()
	for err == nil && !isHeader(line) {
		line, err = f.readLine()
	}
	if err != nil {
		return "", err
	}

	var buffer strings.Builder
	for !isTrailer(line) {
		buffer.WriteString(line)
		line, err = f.readLine()
		if err != nil {
			return "", err
		}
	}
	buffer.WriteString(line)
	return buffer.String(), nil
}

// IsTimeout reports whether err only means the port was quiet
func IsTimeout(err error) bool {
	return errors.Is(err, ErrReadTimeout)
}
