package binary

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Marshal encodes a Node to its wire representation.
func Marshal(n Node) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := encodeNode(buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a single Node from its wire representation.
func Unmarshal(data []byte) (Node, error) {
	r := bytes.NewReader(data)
	n, err := decodeNode(r)
	if err != nil {
		return Node{}, err
	}
	return n, nil
}

func encodeNode(buf *bytes.Buffer, n Node) error {
	numAttrs := n.Attrs.Len()
	hasContent := n.Content != nil

	listSize := 1 + 2*numAttrs
	if hasContent {
		listSize++
	}
	writeListHeader(buf, listSize)

	if err := writeStringValue(buf, n.Tag); err != nil {
		return err
	}

	var encErr error
	n.Attrs.Range(func(key string, value AttrValue) {
		if encErr != nil {
			return
		}
		if encErr = writeStringValue(buf, key); encErr != nil {
			return
		}
		encErr = writeAttrValue(buf, value)
	})
	if encErr != nil {
		return encErr
	}

	if !hasContent {
		return nil
	}

	switch content := n.Content.(type) {
	case []byte:
		writeBytesTag(buf, content)
	case []Node:
		writeListHeader(buf, len(content))
		for _, child := range content {
			if err := encodeNode(buf, child); err != nil {
				return err
			}
		}
	default:
		return malformed("content must be []byte or []Node")
	}
	return nil
}

func decodeNode(r *bytes.Reader) (Node, error) {
	n, err := readListCount(r)
	if err != nil {
		return Node{}, err
	}
	if n < 1 {
		return Node{}, malformed("node list header must cover at least the tag")
	}

	tag, err := readStringValue(r)
	if err != nil {
		return Node{}, err
	}

	remaining := n - 1
	hasContent := remaining%2 == 1
	numAttrs := remaining / 2

	attrs := NewAttrList()
	for i := 0; i < numAttrs; i++ {
		key, err := readStringValue(r)
		if err != nil {
			return Node{}, err
		}
		val, err := readAttrValue(r)
		if err != nil {
			return Node{}, err
		}
		attrs.Set(key, val)
	}

	node := Node{Tag: tag, Attrs: attrs}

	if hasContent {
		content, err := readContent(r)
		if err != nil {
			return Node{}, err
		}
		node.Content = content
	}

	return node, nil
}

func readContent(r *bytes.Reader) (any, error) {
	tagByte, err := peekByte(r)
	if err != nil {
		return nil, err
	}

	switch tagByte {
	case tagListEmpty, tagListEight, tagListSixteen:
		count, err := readListCount(r)
		if err != nil {
			return nil, err
		}
		children := make([]Node, count)
		for i := 0; i < count; i++ {
			child, err := decodeNode(r)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		return children, nil
	case tagBinaryEight, tagBinaryTwenty, tagBinaryThirtyTwo:
		return readBytesTag(r)
	default:
		return nil, malformed("node content must be a list or a binary blob")
	}
}

// --- list headers ---

func writeListHeader(buf *bytes.Buffer, n int) {
	switch {
	case n == 0:
		buf.WriteByte(tagListEmpty)
	case n < 256:
		buf.WriteByte(tagListEight)
		buf.WriteByte(byte(n))
	default:
		buf.WriteByte(tagListSixteen)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		buf.Write(b[:])
	}
}

func readListCount(r *bytes.Reader) (int, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return 0, malformed("truncated list header")
	}
	switch tagByte {
	case tagListEmpty:
		return 0, nil
	case tagListEight:
		b, err := r.ReadByte()
		if err != nil {
			return 0, malformed("truncated LIST_8")
		}
		return int(b), nil
	case tagListSixteen:
		var b [2]byte
		if _, err := readFull(r, b[:]); err != nil {
			return 0, malformed("truncated LIST_16")
		}
		return int(binary.BigEndian.Uint16(b[:])), nil
	default:
		return 0, malformed("expected a list header tag")
	}
}

// --- raw byte blobs (node content, BINARY_8/20/32) ---

func writeBytesTag(buf *bytes.Buffer, data []byte) {
	switch {
	case len(data) < 256:
		buf.WriteByte(tagBinaryEight)
		buf.WriteByte(byte(len(data)))
	case len(data) < 1<<24:
		buf.WriteByte(tagBinaryTwenty)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(data)))
		buf.Write(b[1:]) // 3-byte BE length
	default:
		buf.WriteByte(tagBinaryThirtyTwo)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(data)))
		buf.Write(b[:])
	}
	buf.Write(data)
}

func readBytesTag(r *bytes.Reader) ([]byte, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, malformed("truncated binary blob tag")
	}
	var length int
	switch tagByte {
	case tagBinaryEight:
		b, err := r.ReadByte()
		if err != nil {
			return nil, malformed("truncated BINARY_8 length")
		}
		length = int(b)
	case tagBinaryTwenty:
		var b [3]byte
		if _, err := readFull(r, b[:]); err != nil {
			return nil, malformed("truncated BINARY_20 length")
		}
		length = int(b[0])<<16 | int(b[1])<<8 | int(b[2])
	case tagBinaryThirtyTwo:
		var b [4]byte
		if _, err := readFull(r, b[:]); err != nil {
			return nil, malformed("truncated BINARY_32 length")
		}
		length = int(binary.BigEndian.Uint32(b[:]))
	default:
		return nil, malformed("expected a binary blob tag")
	}

	data := make([]byte, length)
	if _, err := readFull(r, data); err != nil {
		return nil, malformed("truncated binary blob body")
	}
	return data, nil
}

// --- strings: token dictionary, secondary dictionaries, nibble/hex packing, raw fallback ---

func writeStringValue(buf *bytes.Buffer, s string) error {
	if idx, ok := lookupToken(s); ok {
		buf.WriteByte(byte(idx))
		return nil
	}
	if dict, idx, ok := lookupSecondaryToken(s); ok {
		buf.WriteByte(byte(dictionaryTag(dict)))
		buf.WriteByte(byte(idx))
		return nil
	}
	if isNibbleEncodable(s) {
		writePacked(buf, tagNibbleEight, s, nibbleAlphabet)
		return nil
	}
	if isHexEncodable(s) {
		writePacked(buf, tagHexEight, s, hexAlphabet)
		return nil
	}
	writeBytesTag(buf, []byte(s))
	return nil
}

func readStringValue(r *bytes.Reader) (string, error) {
	tagByte, err := peekByte(r)
	if err != nil {
		return "", err
	}

	switch {
	case tagByte == tagDictionary0 || tagByte == tagDictionary1 || tagByte == tagDictionary2 || tagByte == tagDictionary3:
		r.ReadByte()
		idx, err := r.ReadByte()
		if err != nil {
			return "", malformed("truncated secondary dictionary index")
		}
		dict := dictionaryIndex(tagByte)
		if int(idx) >= len(secondaryDictionaries[dict]) {
			return "", malformed("secondary dictionary index out of range")
		}
		return secondaryDictionaries[dict][idx], nil
	case tagByte == tagNibbleEight:
		r.ReadByte()
		return readPacked(r, nibbleAlphabet)
	case tagByte == tagHexEight:
		r.ReadByte()
		return readPacked(r, hexAlphabet)
	case tagByte == tagBinaryEight || tagByte == tagBinaryTwenty || tagByte == tagBinaryThirtyTwo:
		data, err := readBytesTag(r)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case int(tagByte) < len(primaryDictionary) && primaryDictionary[tagByte] != "":
		r.ReadByte()
		return primaryDictionary[tagByte], nil
	default:
		return "", malformed("unrecognized string tag byte")
	}
}

func dictionaryTag(dict int) int {
	return tagDictionary0 + dict
}

func dictionaryIndex(tagByte byte) int {
	return int(tagByte) - tagDictionary0
}

func isNibbleEncodable(s string) bool {
	if len(s) == 0 || len(s) > 254 {
		return false
	}
	for _, c := range s {
		if strings.IndexRune(nibbleAlphabet, c) < 0 {
			return false
		}
	}
	return true
}

func isHexEncodable(s string) bool {
	if len(s) == 0 || len(s) > 254 {
		return false
	}
	for _, c := range s {
		if strings.IndexRune(hexAlphabet, c) < 0 {
			return false
		}
	}
	return true
}

func writePacked(buf *bytes.Buffer, tagByte byte, s, alphabet string) {
	odd := len(s)%2 == 1
	packedLen := (len(s) + 1) / 2

	lengthByte := byte(packedLen)
	if odd {
		lengthByte |= 0x80
	}

	buf.WriteByte(tagByte)
	buf.WriteByte(lengthByte)

	for i := 0; i < packedLen; i++ {
		hiIdx := strings.IndexByte(alphabet, s[i*2])
		var loIdx int
		if i*2+1 < len(s) {
			loIdx = strings.IndexByte(alphabet, s[i*2+1])
		} else {
			loIdx = 0x0F
		}
		buf.WriteByte(byte(hiIdx<<4 | (loIdx & 0x0F)))
	}
}

func readPacked(r *bytes.Reader, alphabet string) (string, error) {
	lengthByte, err := r.ReadByte()
	if err != nil {
		return "", malformed("truncated packed-string length")
	}
	odd := lengthByte&0x80 != 0
	packedLen := int(lengthByte & 0x7F)

	data := make([]byte, packedLen)
	if _, err := readFull(r, data); err != nil {
		return "", malformed("truncated packed-string body")
	}

	charCount := packedLen * 2
	if odd {
		charCount--
	}

	var sb strings.Builder
	sb.Grow(charCount)
	for i := 0; i < packedLen; i++ {
		hi := data[i] >> 4
		lo := data[i] & 0x0F
		if int(hi) >= len(alphabet) {
			return "", malformed("packed-string nibble out of alphabet range")
		}
		sb.WriteByte(alphabet[hi])
		if i == packedLen-1 && odd {
			continue
		}
		if int(lo) >= len(alphabet) {
			return "", malformed("packed-string nibble out of alphabet range")
		}
		sb.WriteByte(alphabet[lo])
	}
	return sb.String(), nil
}

// --- JIDs: AD_JID and JID_PAIR ---

func writeAttrValue(buf *bytes.Buffer, v AttrValue) error {
	if !v.IsJID() {
		return writeStringValue(buf, v.String())
	}
	j := v.JID()
	if j.HasAgentDevice && j.Server == ServerDefault {
		buf.WriteByte(tagADJID)
		buf.WriteByte(j.Agent)
		buf.WriteByte(j.Device)
		return writeStringValue(buf, j.User)
	}
	if !j.HasAgentDevice && j.IsCompactEligible() {
		buf.WriteByte(tagJIDPair)
		if err := writeStringValue(buf, j.User); err != nil {
			return err
		}
		return writeStringValue(buf, j.Server)
	}
	return writeStringValue(buf, j.String())
}

func readAttrValue(r *bytes.Reader) (AttrValue, error) {
	tagByte, err := peekByte(r)
	if err != nil {
		return AttrValue{}, err
	}

	switch tagByte {
	case tagADJID:
		r.ReadByte()
		agent, err := r.ReadByte()
		if err != nil {
			return AttrValue{}, malformed("truncated AD_JID agent")
		}
		device, err := r.ReadByte()
		if err != nil {
			return AttrValue{}, malformed("truncated AD_JID device")
		}
		user, err := readStringValue(r)
		if err != nil {
			return AttrValue{}, err
		}
		return JIDVal(NewADJID(user, agent, device, ServerDefault)), nil
	case tagJIDPair:
		r.ReadByte()
		user, err := readStringValue(r)
		if err != nil {
			return AttrValue{}, err
		}
		server, err := readStringValue(r)
		if err != nil {
			return AttrValue{}, err
		}
		return JIDVal(NewJID(user, server)), nil
	default:
		s, err := readStringValue(r)
		if err != nil {
			return AttrValue{}, err
		}
		return Str(s), nil
	}
}

// --- small reader helpers ---

func peekByte(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, malformed("unexpected end of data")
	}
	if err := r.UnreadByte(); err != nil {
		return 0, err
	}
	return b, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, malformed("short read")
		}
	}
	return n, nil
}
