package core

// Hub topics published toward the rendering boundary. Field names follow
// the payloads documented next to each topic.
const (
	// TopicRemoteMediaAvailable: "participant_id", "class", "track".
	TopicRemoteMediaAvailable = "media.remote.available"
	// TopicRemoteMediaRemoved: "participant_id", "class".
	TopicRemoteMediaRemoved = "media.remote.removed"
	// TopicScreenShareOwner: "participant_id" (empty when released).
	TopicScreenShareOwner = "share.owner_changed"
	// TopicRosterUpdated: "roster" ([]*domain.Participant).
	TopicRosterUpdated = "session.roster_updated"
	// TopicSessionError: "error". Terminal for the session.
	TopicSessionError = "session.error"
)
