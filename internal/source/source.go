// Package source loads source text, trying several encodings in turn.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// ReadError reports a file whose content could not be loaded.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ErrUndecodable is wrapped by ReadError when no encoding fits the bytes.
var ErrUndecodable = errors.New("no supported encoding matched")

type decoder struct {
	name string
	enc  encoding.Encoding // nil means UTF-8
}

// Encodings are tried in this order. Latin-1 maps every byte, so it only
// fails for inputs that were rejected before decoding.
var decoders = []decoder{
	{"utf-8", nil},
	{"gbk", simplifiedchinese.GBK},
	{"gb18030", simplifiedchinese.GB18030},
	{"latin-1", charmap.ISO8859_1},
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Read returns the decoded text of path. On any failure it returns "" and a
// *ReadError; it never panics.
func Read(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &ReadError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return "", &ReadError{Path: path, Err: fmt.Errorf("not a regular file")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ReadError{Path: path, Err: err}
	}
	text, _, err := Decode(data)
	if err != nil {
		return "", &ReadError{Path: path, Err: err}
	}
	return text, nil
}

// Decode converts data to a string using the first encoding that decodes it
// cleanly and reports which one was used.
func Decode(data []byte) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	for _, d := range decoders {
		if d.enc == nil {
			if utf8.Valid(data) {
				return string(data), d.name, nil
			}
			continue
		}
		out, err := d.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		// x/text substitutes U+FFFD for invalid sequences instead of failing.
		if bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out), d.name, nil
	}
	return "", "", ErrUndecodable
}
