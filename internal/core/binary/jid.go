// Package binary implements WhatsApp's tag-compressed binary node wire
// format: a tree-structured encoding of attributed, nested nodes shared
// between client and server over a shared token dictionary. It lives in
// its own package because the dictionary and tag-byte namespace are only
// meaningful to this codec and shouldn't leak into general client code.
package binary

import (
	"fmt"
	"strconv"
	"strings"
)

// Known server suffixes that get the codec's dedicated compact JID
// encoding (AD_JID / JID_PAIR); anything else falls back to the plain
// "user@server" attribute-string form.
const (
	ServerDefault   = "s.whatsapp.net"
	ServerGroup     = "g.us"
	ServerBroadcast = "broadcast"
	ServerCall      = "c.us"
	ServerLID       = "lid"
)

var compactServers = map[string]bool{
	ServerDefault:   true,
	ServerGroup:     true,
	ServerBroadcast: true,
	ServerCall:      true,
	ServerLID:       true,
}

// JID is a WhatsApp addressing identifier: user[.agent[:device]]@server.
type JID struct {
	User           string
	Agent          uint8
	Device         uint8
	Server         string
	HasAgentDevice bool
}

// NewJID builds a plain user@server JID.
func NewJID(user, server string) JID {
	return JID{User: user, Server: server}
}

// NewADJID builds an agent/device-qualified JID.
func NewADJID(user string, agent, device uint8, server string) JID {
	return JID{User: user, Agent: agent, Device: device, Server: server, HasAgentDevice: true}
}

// IsCompactEligible reports whether this JID's server uses the codec's
// dedicated compact encoding instead of the attribute-string fallback.
func (j JID) IsCompactEligible() bool {
	return compactServers[j.Server]
}

// String renders the JID in user[.agent[:device]]@server form.
func (j JID) String() string {
	if !j.HasAgentDevice {
		return fmt.Sprintf("%s@%s", j.User, j.Server)
	}
	if j.Agent == 0 {
		return fmt.Sprintf("%s:%d@%s", j.User, j.Device, j.Server)
	}
	return fmt.Sprintf("%s.%d:%d@%s", j.User, j.Agent, j.Device, j.Server)
}

// ParseJID parses a user[.agent[:device]]@server string into a JID.
func ParseJID(s string) (JID, error) {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return JID{}, fmt.Errorf("jid %q missing @server", s)
	}
	user, server := s[:at], s[at+1:]

	var agent, device uint64
	var hasAD bool

	if dot := strings.IndexByte(user, '.'); dot >= 0 {
		hasAD = true
		rest := user[dot+1:]
		user = user[:dot]
		if colon := strings.IndexByte(rest, ':'); colon >= 0 {
			var err error
			if agent, err = strconv.ParseUint(rest[:colon], 10, 8); err != nil {
				return JID{}, fmt.Errorf("jid %q bad agent: %w", s, err)
			}
			if device, err = strconv.ParseUint(rest[colon+1:], 10, 8); err != nil {
				return JID{}, fmt.Errorf("jid %q bad device: %w", s, err)
			}
		} else {
			var err error
			if agent, err = strconv.ParseUint(rest, 10, 8); err != nil {
				return JID{}, fmt.Errorf("jid %q bad agent: %w", s, err)
			}
		}
	} else if colon := strings.IndexByte(user, ':'); colon >= 0 {
		hasAD = true
		var err error
		if device, err = strconv.ParseUint(user[colon+1:], 10, 8); err != nil {
			return JID{}, fmt.Errorf("jid %q bad device: %w", s, err)
		}
		user = user[:colon]
	}

	return JID{
		User:           user,
		Agent:          uint8(agent),
		Device:         uint8(device),
		Server:         server,
		HasAgentDevice: hasAD,
	}, nil
}
