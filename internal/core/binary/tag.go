package binary

// Tag bytes identifying how the following value is encoded.
const (
	tagListEmpty = 0
	tagStreamEnd = 2

	tagDictionary0 = 236
	tagDictionary1 = 237
	tagDictionary2 = 238
	tagDictionary3 = 239

	tagADJID = 247

	tagListEight   = 248
	tagListSixteen = 249

	tagJIDPair = 250

	tagHexEight        = 251
	tagBinaryEight     = 252
	tagBinaryTwenty    = 253
	tagBinaryThirtyTwo = 254
	tagNibbleEight     = 255
)

const nibbleAlphabet = "0123456789-."
const hexAlphabet = "0123456789abcdef"
