package realtime

// roomKeyPrefix namespaces direct-chat rooms.
const roomKeyPrefix = "chat_"

// RoomKey derives the canonical room label for an unordered pair of user ids.
// It is pure: RoomKey(a, b) == RoomKey(b, a) and needs no directory state.
func RoomKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return roomKeyPrefix + a + "_" + b
}
