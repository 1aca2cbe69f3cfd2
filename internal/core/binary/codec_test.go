package binary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyNodeRoundTrip(t *testing.T) {
	n := Node{
		Tag: "iq",
		Attrs: NewAttrList().
			SetString("to", ServerDefault).
			SetString("type", "get").
			SetString("id", "abc"),
	}

	data, err := Marshal(n)
	require.NoError(t, err)

	// List header for 1 (tag) + 2*3 (attrs) = 7 items, no content.
	require.GreaterOrEqual(t, len(data), 2)
	assert.Equal(t, byte(tagListEight), data[0])
	assert.Equal(t, byte(7), data[1])

	iqToken, ok := lookupToken("iq")
	require.True(t, ok)
	assert.Equal(t, byte(iqToken), data[2])

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, n.Tag, got.Tag)
	assert.True(t, n.Attrs.Equal(got.Attrs))
	assert.Nil(t, got.Content)
}

func TestNodeRoundTripWithChildrenAndBytes(t *testing.T) {
	child := Node{
		Tag:     "enc",
		Attrs:   NewAttrList().SetString("v", "2").SetString("type", "msg"),
		Content: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	parent := Node{
		Tag:     "message",
		Attrs:   NewAttrList().SetString("id", "xyz123").SetJID("to", NewJID("1234567890", ServerDefault)),
		Content: []Node{child},
	}

	data, err := Marshal(parent)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, parent.Tag, got.Tag)
	require.True(t, parent.Attrs.Equal(got.Attrs))

	kids := got.Children()
	require.Len(t, kids, 1)
	assert.Equal(t, "enc", kids[0].Tag)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, kids[0].Bytes())
}

func TestAttributeOrderPreserved(t *testing.T) {
	n := Node{
		Tag: "iq",
		Attrs: NewAttrList().
			SetString("z", "1").
			SetString("a", "2").
			SetString("m", "3"),
	}

	data, err := Marshal(n)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"z", "a", "m"}, got.Attrs.Keys())
}

func TestUnknownTagByteRejected(t *testing.T) {
	_, err := Unmarshal([]byte{0x01}) // not a defined tag
	require.Error(t, err)
	var malformedErr *MalformedNodeError
	assert.ErrorAs(t, err, &malformedErr)
}

func TestADJIDRoundTrip(t *testing.T) {
	n := Node{
		Tag:   "iq",
		Attrs: NewAttrList().SetJID("from", NewADJID("5511999999999", 0, 3, ServerDefault)),
	}

	data, err := Marshal(n)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	v, ok := got.Attrs.Get("from")
	require.True(t, ok)
	require.True(t, v.IsJID())
	assert.Equal(t, "5511999999999", v.JID().User)
	assert.Equal(t, uint8(3), v.JID().Device)
}

func TestJIDPairRoundTrip(t *testing.T) {
	n := Node{
		Tag:   "iq",
		Attrs: NewAttrList().SetJID("to", NewJID("120363012345", ServerGroup)),
	}

	data, err := Marshal(n)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	v, _ := got.Attrs.Get("to")
	require.True(t, v.IsJID())
	assert.Equal(t, ServerGroup, v.JID().Server)
}
