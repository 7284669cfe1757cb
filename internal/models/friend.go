package models

// Friendship statuses stored in friends.status. Only accepted friendships allow invites.
const (
	FriendPending  = "pending"
	FriendAccepted = "accepted"
)
