package whatsapp

import (
	"errors"
	"regexp"
	"strings"
)

// JID servers.
const (
	DefaultUserServer = "s.whatsapp.net"
	GroupServer       = "g.us"
	LidServer         = "lid"
	BroadcastServer   = "broadcast"
)

var (
	errInvalidJID = errors.New("invalid jid")
	nonDigitRe    = regexp.MustCompile(`\D`)
)

// NormalizeJID canonicalizes a recipient identifier. Inputs already
// carrying a server keep it, with any device suffix stripped from the
// user part. Bare inputs are reduced to their digits and addressed to
// the default user server. An input that yields no user part at all is
// rejected.
func NormalizeJID(raw string) (string, error) {
	j := strings.TrimSpace(raw)
	if j == "" {
		return "", errInvalidJID
	}

	if at := strings.IndexByte(j, '@'); at >= 0 {
		user, server := j[:at], j[at+1:]
		if i := strings.IndexByte(user, ':'); i >= 0 {
			user = user[:i]
		}
		if user == "" || server == "" {
			return "", errInvalidJID
		}
		return user + "@" + server, nil
	}

	digits := nonDigitRe.ReplaceAllString(j, "")
	if digits == "" {
		return "", errInvalidJID
	}
	return digits + "@" + DefaultUserServer, nil
}

// JIDUser returns the user part of a JID.
func JIDUser(jid string) string {
	if at := strings.IndexByte(jid, '@'); at >= 0 {
		return jid[:at]
	}
	return jid
}

// IsUserJID reports whether the JID addresses a single-party chat.
func IsUserJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+DefaultUserServer)
}

// IsGroupJID reports whether the JID addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+GroupServer)
}

// IsLidJID reports whether the JID is a lid-server alias.
func IsLidJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+LidServer)
}

// IsBroadcastJID reports whether the JID addresses a broadcast list or
// status feed.
func IsBroadcastJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+BroadcastServer)
}
