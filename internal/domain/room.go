package domain

type RoomID string

// RoomSession is the single source of truth for one joined room.
// It is owned by the session controller; other components mutate it only
// through their own operations (roster by identity, owner by the arbiter).
type RoomSession struct {
	RoomID           RoomID
	LocalID          ParticipantID
	Roster           map[ParticipantID]*Participant
	ScreenShareOwner ParticipantID // empty means nobody is sharing
}

func NewRoomSession(roomID RoomID, local ParticipantID) *RoomSession {
	return &RoomSession{
		RoomID:  roomID,
		LocalID: local,
		Roster:  make(map[ParticipantID]*Participant),
	}
}

// Meeting is the session-directory view of a room.
type Meeting struct {
	ID           string         `json:"id"`
	ShortCode    string         `json:"short_code"`
	Title        string         `json:"title"`
	Host         ParticipantID  `json:"host"`
	Status       string         `json:"status"`
	Participants []*Participant `json:"meet_participants"`
}
