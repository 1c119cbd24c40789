package ratelimiter

import (
	"time"
)

// Telegram allows about one message per second in a private chat and fewer in groups.
const (
	privateChatRate = time.Second
	groupChatRate   = 3 * time.Second
	burst           = 1
)
