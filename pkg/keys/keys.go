// Package keys is a composable framework for constructing fixed width store
// keys whose byte order matches the semantic order of their fields.
package keys

import (
	"bytes"
)

// Element is an interface for a type that can Read and Write its binary form.
type Element interface {
	// Write the binary form of the field into the given bytes.Buffer.
	Write(buf *bytes.Buffer)
	// Read accepts a bytes.Buffer and decodes a field from it. It returns nil
	// if the buffer does not hold enough bytes.
	Read(buf *bytes.Buffer) Element
	// Len gives the length of the bytes output by the type.
	Len() int
}

// Len sums the encoded length of the elements.
func Len(elems ...Element) (length int) {
	for _, el := range elems {
		length += el.Len()
	}
	return
}

// Write the contents of each Element to a byte slice.
func Write(elems ...Element) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, Len(elems...)))
	for _, el := range elems {
		el.Write(buf)
	}
	return buf.Bytes()
}

// Read the contents of a byte slice into the provided list of Element types.
// Trailing bytes are ignored, so this is for reading a prefix of a key.
func Read(b []byte, elems ...Element) bool {
	buf := bytes.NewBuffer(b)
	for _, el := range elems {
		if el.Read(buf) == nil {
			return false
		}
	}
	return true
}

// Decode reads b into elems and fails unless b is exactly as long as the
// elements together.
func Decode(b []byte, elems ...Element) bool {
	if len(b) != Len(elems...) {
		return false
	}
	return Read(b, elems...)
}

// Compare orders two encoded keys. All elements are fixed width and
// big-endian so this is plain byte order.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }

// ReadFixed copies exactly len(dst) bytes from buf, reporting whether there
// were enough.
func ReadFixed(buf *bytes.Buffer, dst []byte) bool {
	if buf.Len() < len(dst) {
		return false
	}
	copy(dst, buf.Next(len(dst)))
	return true
}
