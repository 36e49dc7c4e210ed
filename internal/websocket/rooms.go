package websocket

import "github.com/commune-hq/backend/internal/models"

// Room name construction. Every fan-out target is a named room; clients
// join and leave rooms over their connection's lifetime.

// CommunityRoom carries community events: new posts, membership
// changes, presence updates for members.
func CommunityRoom(communityID string) string {
	return "community:" + communityID
}

// CommunityChatRoom carries the community's chat channel
func CommunityChatRoom(communityID string) string {
	return "community:" + communityID + ":chat"
}

// UserRoom is a user's personal inbox: DMs, read receipts,
// notifications targeted at that user on any of their connections.
func UserRoom(userID string) string {
	return "user:" + userID
}

// PostRoom carries live updates for viewers of a single post
func PostRoom(postID string) string {
	return "post:" + postID
}

// DirectRoom is the canonical room for a DM conversation. Both
// participants map to the same name regardless of argument order.
func DirectRoom(userA, userB string) string {
	return models.DirectChannel(userA, userB)
}
