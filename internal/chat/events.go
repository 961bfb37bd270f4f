package chat

import (
	"time"

	"crm-chat/internal/models"
)

// Inbound command names.
const (
	EventAuthenticate                  = "authenticate"
	EventSendMessage                   = "sendMessage"
	EventSendFileMessage               = "sendFileMessage"
	EventMessageRead                   = "messageRead"
	EventForwardMessage                = "forwardMessage"
	EventFetchChatHistory              = "fetchChatHistory"
	EventDeleteMessageForEveryone      = "deleteMessageForEveryone"
	EventDeleteMessageForMe            = "deleteMessageForMe"
	EventCreateGroup                   = "createGroup"
	EventSendGroupMessage              = "sendGroupMessage"
	EventSendGroupFileMessage          = "sendGroupFileMessage"
	EventFetchGroupChatHistory         = "fetchGroupChatHistory"
	EventAddUserToGroup                = "addUserToGroup"
	EventRemoveUserFromGroup           = "removeUserFromGroup"
	EventLeaveGroup                    = "leaveGroup"
	EventDeleteGroup                   = "deleteGroup"
	EventConfirmDeleteGroup            = "confirmDeleteGroup"
	EventTransferGroupOwnership        = "transferGroupOwnership"
	EventDeleteGroupMessageForEveryone = "deleteGroupMessageForEveryone"
	EventDeleteGroupMessageForMe       = "deleteGroupMessageForMe"
	EventStartTyping                   = "startTyping"
	EventStopTyping                    = "stopTyping"
	EventClearNotifications            = "clearNotifications"
	EventRequestInitialNotifications   = "requestInitialNotifications"
	EventRequestInitialUnreadCounts    = "requestInitialUnreadCounts"
	EventLogout                        = "logout"
	EventPing                          = "ping"
)

// Outbound event names.
const (
	EventReceiveMessage                 = "receiveMessage"
	EventUnreadMessagesCount            = "unreadMessagesCount"
	EventUnreadGroupMessagesCount       = "unreadGroupMessagesCount"
	EventChatHistory                    = "chatHistory"
	EventMessageDeletedForEveryone      = "messageDeletedForEveryone"
	EventMessageDeletedForMe            = "messageDeletedForMe"
	EventGroupCreated                   = "groupCreated"
	EventReceiveGroupMessage            = "receiveGroupMessage"
	EventGroupChatHistory               = "groupChatHistory"
	EventUserAddedToGroup               = "userAddedToGroup"
	EventGroupReenabled                 = "groupReenabled"
	EventUserRemovedFromGroup           = "userRemovedFromGroup"
	EventConfirmDeleteLastUser          = "confirmDeleteLastUser"
	EventGroupDisabled                  = "groupDisabled"
	EventPromptSelectNewOwner           = "promptSelectNewOwner"
	EventGroupDeleted                   = "groupDeleted"
	EventGroupOwnershipTransferred      = "groupOwnershipTransferred"
	EventGroupMessageDeletedForEveryone = "groupMessageDeletedForEveryone"
	EventGroupMessageDeletedForMe       = "groupMessageDeletedForMe"
	EventTyping                         = "typing"
	EventMessageNotification            = "messageNotification"
	EventNotificationsCleared           = "notificationsCleared"
	EventInitialNotifications           = "initialNotifications"
	EventPong                           = "pong"
)

type SendMessageRequest struct {
	ToUserID string `json:"toUserId"`
	Message  string `json:"message"`
}

// SendFileMessageRequest carries metadata of a file the upload endpoint already stored.
// FromUserID is accepted for compatibility; the session identity wins.
type SendFileMessageRequest struct {
	ToUserID   string `json:"toUserId"`
	FromUserID string `json:"fromUserId"`
	Message    string `json:"message"`
	FileURL    string `json:"fileUrl"`
	FileType   string `json:"fileType"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
}

func (r SendFileMessageRequest) File() *models.FileMeta {
	return &models.FileMeta{URL: r.FileURL, Type: r.FileType, Name: r.FileName, Size: r.FileSize}
}

type MessageReadRequest struct {
	FromUserID string `json:"fromUserId"`
	GroupID    string `json:"groupId"`
}

type ForwardMessageRequest struct {
	ToUserIDs []string `json:"toUserIds"`
	MessageID string   `json:"messageId"`
	IsGroup   bool     `json:"isGroup"`
}

type FetchChatHistoryRequest struct {
	UserID string `json:"userId"`
}

type MessageRef struct {
	MessageID string `json:"messageId"`
}

type CreateGroupRequest struct {
	TenantID  string   `json:"tenantID"`
	GroupName string   `json:"groupName"`
	UserIDs   []string `json:"userIds"`
	Image     *string  `json:"image"`
}

type SendGroupMessageRequest struct {
	GroupID string `json:"groupId"`
	Message string `json:"message"`
}

type SendGroupFileMessageRequest struct {
	GroupID  string `json:"groupId"`
	Message  string `json:"message"`
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

func (r SendGroupFileMessageRequest) File() *models.FileMeta {
	return &models.FileMeta{URL: r.FileURL, Type: r.FileType, Name: r.FileName, Size: r.FileSize}
}

type GroupRef struct {
	GroupID string `json:"groupId"`
}

type GroupMemberRequest struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

type TransferOwnershipRequest struct {
	GroupID    string `json:"groupId"`
	NewOwnerID string `json:"newOwnerId"`
}

// TypingRequest targets either a group or a single peer.
type TypingRequest struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

type UnreadMessagesCount struct {
	UnreadMessagesMap map[string]int `json:"unreadMessagesMap"`
}

type UnreadGroupMessagesCount struct {
	UnreadGroupMessagesMap map[string]int `json:"unreadGroupMessagesMap"`
}

type ChatHistory struct {
	UserID      string                 `json:"userId"`
	ChatHistory []models.DirectMessage `json:"chatHistory"`
}

type MessageDeletedForEveryone struct {
	MessageID  string `json:"messageId"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
}

type MessageDeleted struct {
	MessageID string `json:"messageId"`
	GroupID   string `json:"groupId,omitempty"`
}

type GroupCreated struct {
	Group   models.Group `json:"group"`
	Members []string     `json:"members"`
}

// GroupHistoryEntry is a group message or a personal note enriched with the sender profile.
type GroupHistoryEntry struct {
	models.GroupMessage
	Personal bool                `json:"personal,omitempty"`
	Sender   *models.UserProfile `json:"sender,omitempty"`
}

type GroupMemberView struct {
	UserID       string  `json:"userId"`
	FirstName    string  `json:"firstname"`
	LastName     string  `json:"lastname"`
	ProfileImage *string `json:"profileImage"`
	IsActive     bool    `json:"isActive"`
	IsCreator    bool    `json:"isCreator"`
}

type GroupChatHistory struct {
	GroupID     string              `json:"groupId"`
	ChatHistory []GroupHistoryEntry `json:"chatHistory"`
	Members     []GroupMemberView   `json:"members"`
}

type UserAddedToGroup struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	AddedBy string `json:"addedBy"`
}

type UserRemovedFromGroup struct {
	GroupID        string `json:"groupId"`
	UserID         string `json:"userId"`
	RemovedByAdmin bool   `json:"removedByAdmin"`
}

type ConfirmDeleteLastUser struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

type PromptSelectNewOwner struct {
	GroupID string            `json:"groupId"`
	Members []GroupMemberView `json:"members"`
}

type GroupOwnershipTransferred struct {
	GroupID         string `json:"groupId"`
	PreviousOwnerID string `json:"previousOwnerId"`
	NewOwnerID      string `json:"newOwnerId"`
}

type Typing struct {
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
}

type InitialNotifications struct {
	Notifications []models.MessageNotification `json:"notifications"`
}

type Pong struct {
	Time time.Time `json:"time"`
}
