package store

// Duplicate-sorted sub-databases store every (key, value) pair as its own
// badger key with an empty value:
//
//	id | escape(key) | 0x00 0x01 | value
//
// escape turns every 0x00 in key into 0x00 0xFF. The 0x00 0x01 terminator
// sorts below any escaped or literal key byte that could follow, so badger's
// byte order is key order first and value order second.
const (
	escByte  = 0x00
	escZero  = 0xFF
	termByte = 0x01
)

func escape(dst, key []byte) []byte {
	for _, b := range key {
		if b == escByte {
			dst = append(dst, escByte, escZero)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// dupPrefix is id | escape(key) | terminator, the prefix shared by all
// duplicates of key.
func dupPrefix(id byte, key []byte) []byte {
	p := make([]byte, 0, len(key)+4)
	p = append(p, id)
	p = escape(p, key)
	return append(p, escByte, termByte)
}

func dupKey(id byte, key, val []byte) []byte {
	p := dupPrefix(id, key)
	return append(p, val...)
}

// splitDup decodes an encoded duplicate entry, without the leading id byte.
func splitDup(enc []byte) (key, val []byte, ok bool) {
	key = make([]byte, 0, len(enc))
	for i := 0; i < len(enc); i++ {
		if enc[i] != escByte {
			key = append(key, enc[i])
			continue
		}
		if i+1 >= len(enc) {
			return nil, nil, false
		}
		switch enc[i+1] {
		case escZero:
			key = append(key, escByte)
			i++
		case termByte:
			return key, append([]byte(nil), enc[i+2:]...), true
		default:
			return nil, nil, false
		}
	}
	return nil, nil, false
}

func plainKey(id byte, key []byte) []byte {
	k := make([]byte, 0, len(key)+1)
	k = append(k, id)
	return append(k, key...)
}
