package binary

// AttrValue is either a plain string or a JID; attributes such as "to" and
// "from" carry JIDs so the codec can choose the compact encoding.
type AttrValue struct {
	str string
	jid *JID
}

// Str wraps a plain string attribute value.
func Str(s string) AttrValue { return AttrValue{str: s} }

// JIDVal wraps a JID attribute value.
func JIDVal(j JID) AttrValue { return AttrValue{jid: &j} }

// IsJID reports whether this value is a JID rather than a plain string.
func (v AttrValue) IsJID() bool { return v.jid != nil }

// JID returns the wrapped JID; only valid when IsJID() is true.
func (v AttrValue) JID() JID { return *v.jid }

// String renders the value as a string regardless of its underlying shape.
func (v AttrValue) String() string {
	if v.jid != nil {
		return v.jid.String()
	}
	return v.str
}

// AttrList is an order-preserving map of attribute key to value. A bare Go
// map cannot satisfy the wire format's "attribute order preserved on
// encode/decode" invariant, so attributes are tracked as parallel slices
// instead of a map.
type AttrList struct {
	keys   []string
	values []AttrValue
}

// NewAttrList builds an empty ordered attribute list.
func NewAttrList() *AttrList {
	return &AttrList{}
}

// Set appends or overwrites key with value, preserving first-seen order.
func (a *AttrList) Set(key string, value AttrValue) *AttrList {
	for i, k := range a.keys {
		if k == key {
			a.values[i] = value
			return a
		}
	}
	a.keys = append(a.keys, key)
	a.values = append(a.values, value)
	return a
}

// SetString is a convenience wrapper around Set(key, Str(value)).
func (a *AttrList) SetString(key, value string) *AttrList {
	return a.Set(key, Str(value))
}

// SetJID is a convenience wrapper around Set(key, JIDVal(value)).
func (a *AttrList) SetJID(key string, value JID) *AttrList {
	return a.Set(key, JIDVal(value))
}

// Get returns the value for key and whether it was present.
func (a *AttrList) Get(key string) (AttrValue, bool) {
	if a == nil {
		return AttrValue{}, false
	}
	for i, k := range a.keys {
		if k == key {
			return a.values[i], true
		}
	}
	return AttrValue{}, false
}

// GetString returns the string form of key, or "" if absent.
func (a *AttrList) GetString(key string) string {
	v, ok := a.Get(key)
	if !ok {
		return ""
	}
	return v.String()
}

// Len returns the number of attributes.
func (a *AttrList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Keys returns the attribute keys in insertion/wire order.
func (a *AttrList) Keys() []string {
	if a == nil {
		return nil
	}
	return a.keys
}

// Range calls fn for each attribute in wire order.
func (a *AttrList) Range(fn func(key string, value AttrValue)) {
	if a == nil {
		return
	}
	for i, k := range a.keys {
		fn(k, a.values[i])
	}
}

// Equal reports whether two attribute lists have the same keys, in the
// same order, with equal values.
func (a *AttrList) Equal(b *AttrList) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i, k := range a.Keys() {
		if b.keys[i] != k {
			return false
		}
		if a.values[i].String() != b.values[i].String() {
			return false
		}
	}
	return true
}

// Node is the codec's tree-structured entity: a description, an ordered
// attribute map, and exactly one of {no content, raw bytes, child nodes}.
type Node struct {
	Tag     string
	Attrs   *AttrList
	Content any // nil, []byte, or []Node
}

// Children returns Content as a []Node, or nil if Content isn't a node list.
func (n Node) Children() []Node {
	if kids, ok := n.Content.([]Node); ok {
		return kids
	}
	return nil
}

// Bytes returns Content as []byte, or nil if Content isn't raw bytes.
func (n Node) Bytes() []byte {
	if b, ok := n.Content.([]byte); ok {
		return b
	}
	return nil
}

// GetChild returns the first direct child with the given tag.
func (n Node) GetChild(tag string) (Node, bool) {
	for _, c := range n.Children() {
		if c.Tag == tag {
			return c, true
		}
	}
	return Node{}, false
}
