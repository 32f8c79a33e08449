package cache

import (
	"fmt"
	"time"
)

const (
	UserKeyPrefix        = "user::%d"
	ChatKeyPrefix        = "chat::%d"
	UserChatsKeyPrefix   = "chats::user:%d"
	MessagesFirstPageKey = "messages::chat:%d:first:%d"
	MessagesChatPattern  = "messages::chat:%d:*"
)

const (
	UserTTL      = 5 * time.Minute
	ChatTTL      = 10 * time.Minute
	UserChatsTTL = 2 * time.Minute
	MessagesTTL  = 1 * time.Minute
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func ChatKey(chatID uint) string {
	return fmt.Sprintf(ChatKeyPrefix, chatID)
}

func UserChatsKey(userID uint) string {
	return fmt.Sprintf(UserChatsKeyPrefix, userID)
}

func MessagesKey(chatID uint, limit int) string {
	return fmt.Sprintf(MessagesFirstPageKey, chatID, limit)
}

func MessagesPattern(chatID uint) string {
	return fmt.Sprintf(MessagesChatPattern, chatID)
}
