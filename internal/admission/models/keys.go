package models

import "time"

const dateLayout = "20060102"

// Keys names the two counters owned by one (day, client) pair.
type Keys struct {
	Tokens string
	Quota  string
}

// KeysFor builds the counter keys for clientID on the UTC calendar day of now.
// The client segment is used verbatim. The prefix and the eight-digit date are
// fixed, so distinct identities, IPv6 addresses included, never share a key.
func KeysFor(clientID string, now time.Time) Keys {
	date := now.UTC().Format(dateLayout)
	return Keys{
		Tokens: "tokens:" + date + ":" + clientID,
		Quota:  "quota:" + date + ":" + clientID,
	}
}
