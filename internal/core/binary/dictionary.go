package binary

// primaryDictionary is the process-wide, immutable single-byte token table.
// Index == wire byte. Entries that collide with a reserved tag byte (see
// tag.go) are left empty and can never be produced by encodeString; they
// exist only so the array stays indexed by literal byte value.
var primaryDictionary = buildPrimaryDictionary()

func buildPrimaryDictionary() []string {
	d := make([]string, 256)

	reserved := map[int]bool{
		tagListEmpty: true, tagStreamEnd: true,
		tagDictionary0: true, tagDictionary1: true, tagDictionary2: true, tagDictionary3: true,
		tagADJID: true, tagListEight: true, tagListSixteen: true, tagJIDPair: true,
		tagHexEight: true, tagBinaryEight: true, tagBinaryTwenty: true, tagBinaryThirtyTwo: true,
		tagNibbleEight: true,
	}

	words := []string{
		"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12", "13", "14", "15",
		"16", "17", "18", "19", "20", "21", "22", "23", "24", "25", "26", "27", "28", "29", "30",
		"account", "ack", "action", "active", "add", "after", "all", "allow", "and", "android",
		"announce", "archive", "available", "battery", "before", "block", "body", "broadcast",
		"c.us", "call", "call-creator", "call-id", "cancel", "caption", "chat", "child", "clear",
		"code", "composing", "config", "contact", "contacts", "count", "create", "creator",
		"decrypt", "delete", "demote", "description", "device", "devices", "disappearing",
		"done", "download", "edit", "elapsed", "encoding", "encrypt", "end", "ephemeral",
		"error", "event", "exit", "exposure", "failure", "false", "fan_out", "file",
		"filename", "format", "from", "full", "g.us", "get", "gif", "group", "groups",
		"hash", "height", "host", "id", "identity", "image", "in", "inactive", "index", "info",
		"interactive", "invite", "ios", "iq", "is", "item", "items", "jid", "keep",
		"key", "key-index", "keyvalue", "keys", "kind", "large", "last", "leave", "lid", "limit",
		"linked", "list", "live", "location", "locked", "md", "media", "media_type",
		"member", "merry", "message", "messages", "meta", "mime", "mirror", "mms",
		"modify", "msg", "mute", "name", "network", "new", "news", "newsletter", "none",
		"not", "notification", "notify", "number", "of", "offline", "opt", "order", "out",
		"owner", "paid", "pair-device", "pair-device-sign", "pair-success", "pairing",
		"participant", "participants", "passive", "paused", "phash",
		"phone", "photo", "picture", "ping", "pin", "pinned", "platform", "pn", "preview", "previous",
		"primary", "private", "promote", "props", "protocol", "push", "pushname", "query",
		"quit", "quote", "rate", "read", "reason", "receipt", "received", "recipient", "ref",
		"refresh_token", "remove", "removed", "reply", "report", "request", "require", "reset",
		"resource", "result", "retry", "revoke", "s.whatsapp.net", "screen", "search", "sec",
		"secret", "seen", "selected", "self", "sender", "serial", "server", "session", "set",
		"settings", "sf", "shake", "share", "short", "side", "sig", "silent", "size", "sky", "slow",
		"smax", "smbiz", "source", "sponsor", "srcjid", "starred", "start", "status",
		"sticky", "storage", "store", "stop", "stream:error", "subject", "subscribe", "success",
		"sync", "system", "t", "tag", "taken", "target", "template", "terminate", "text", "thread",
		"ticket", "time", "timestamp", "to", "token", "true", "type", "unavailable", "undefined",
		"unique", "unknown", "unlock", "unread", "until", "update", "upgrade", "url", "usync",
		"user", "users", "v", "value", "version", "video", "voip", "w:p", "wa", "web", "webp",
		"width", "write", "xmlns", "xmlstreamend", "xmpp", "you", "years",
	}

	next := 3 // bytes 0-2 are reserved for LIST_EMPTY/unused/STREAM_END
	for _, w := range words {
		for next < len(d) && (reserved[next] || d[next] != "") {
			next++
		}
		if next >= len(d) {
			break
		}
		d[next] = w
		next++
	}
	return d
}

// secondaryDictionaries back the DICTIONARY_0..3 extended tokens: a second
// byte selects a string from one of four auxiliary tables, used for less
// common tokens that would otherwise overflow the primary table.
var secondaryDictionaries = [4][]string{
	{ // DICTIONARY_0: business/catalog oriented tokens
		"catalog", "collection", "product", "business_profile", "verified_name",
		"website", "description_catalog", "availability", "price", "currency",
		"retailer_id", "disable", "enable", "category", "hours",
	},
	{ // DICTIONARY_1: call/voip oriented tokens
		"offer", "accept", "reject", "terminate-reason", "video-call",
		"audio-call", "relaylatency", "transport", "encopt", "result-type",
		"interop", "capability", "codec",
	},
	{ // DICTIONARY_2: newsletter/community oriented tokens
		"newsletter-subscribe", "newsletter-admin-count", "mex", "thread-metadata",
		"community", "sub-group", "parent-group", "linked-group", "announcement",
		"reaction-codes", "verification",
	},
	{ // DICTIONARY_3: device-pairing oriented tokens
		"platform-build", "companion-enc-static", "companion-reg", "adv-id",
		"device-identity", "account-signature", "device-signature", "details",
		"hmac", "key-type", "signed-pre-key",
	},
}

// lookupToken returns the dictionary index of s in the primary table, if any.
func lookupToken(s string) (int, bool) {
	for i, w := range primaryDictionary {
		if w != "" && w == s {
			return i, true
		}
	}
	return 0, false
}

// lookupSecondaryToken returns (dictIndex, tokenIndex) for s if it appears
// in one of the four secondary dictionaries.
func lookupSecondaryToken(s string) (dict int, idx int, ok bool) {
	for d, table := range secondaryDictionaries {
		for i, w := range table {
			if w == s {
				return d, i, true
			}
		}
	}
	return 0, 0, false
}
