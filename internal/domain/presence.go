package domain

// ConnID identifies one live signaling connection. A reconnecting user gets a
// fresh ConnID; the presence registry replaces the old one instead of keeping
// both.
type ConnID string

// PresenceEntry records that a user currently has a live connection to the
// relay. At most one entry exists per UserID at any instant.
type PresenceEntry struct {
	UserID      UserID
	DisplayName string
	ConnID      ConnID
}
