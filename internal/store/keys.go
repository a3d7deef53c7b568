package store

// Redis key layout (spec §4.1, §6).

func GameKey(id string) string {
	return "game:" + id
}

func ReservedKey(id string) string {
	return "game:" + id + ":reserved"
}

func InvalidateChannel(id string) string {
	return "cache:invalidate:" + id
}

func BroadcastChannel(id string) string {
	return "broadcast:" + id
}

func RateLimitKey(identifier string) string {
	return "ratelimit:" + identifier
}

const ReservedKeySuffix = ":reserved"
