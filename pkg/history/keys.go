package history

import (
	"fmt"
	"strings"
)

// Key layout:
//
//	conv:<convID>:msg:<unix_nano_padded>-<seq>  append-order entry, value is the created message
//	version:msg:<msgID>:<unix_nano_padded>-<seq> every stored version
//	latest:msg:<msgID>                           current version
//
// The padded timestamp keeps byte order equal to time order; the sequence
// disambiguates writes inside one nanosecond tick.

// ConvKey builds the append-order key for a conversation entry.
func ConvKey(convID string, ts int64, seq uint64) (string, error) {
	if convID == "" || strings.Contains(convID, ":") {
		return "", fmt.Errorf("invalid conversation id %q", convID)
	}
	return fmt.Sprintf("conv:%s:msg:%020d-%06d", convID, ts, seq), nil
}

// ConvPrefix is the scan prefix for a conversation's entries.
func ConvPrefix(convID string) string {
	return "conv:" + convID + ":msg:"
}

// VersionKey builds the version key for a message.
func VersionKey(msgID string, ts int64, seq uint64) (string, error) {
	if msgID == "" || strings.Contains(msgID, ":") {
		return "", fmt.Errorf("invalid message id %q", msgID)
	}
	return fmt.Sprintf("version:msg:%s:%020d-%06d", msgID, ts, seq), nil
}

// VersionPrefix is the scan prefix for a message's versions.
func VersionPrefix(msgID string) string {
	return "version:msg:" + msgID + ":"
}

// LatestKey points at the current version of a message.
func LatestKey(msgID string) string {
	return "latest:msg:" + msgID
}
