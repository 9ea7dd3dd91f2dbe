// Package memory holds per-thread conversation state: recent messages,
// a rolling summary, stored SQL queries, and the last query result.
//
// Thread keys follow the canonical format:
//
//	{channel}:{chatID}
//
// Examples:
//
//	telegram:386246614
//	discord:112233445566778899
//	ws:3f2a9c41
//	cli:local
package memory

import (
	"fmt"
	"strings"
)

// ThreadKey builds the canonical key for a channel conversation.
func ThreadKey(channel, chatID string) string {
	return fmt.Sprintf("%s:%s", channel, chatID)
}

// ParseThreadKey splits a canonical key back into channel and chat ID.
// Returns ("", "") if the key is not in the expected format.
func ParseThreadKey(key string) (channel, chatID string) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", ""
	}
	return parts[0], parts[1]
}
