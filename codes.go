package roomarch

// Envelope type tags. Clients may send auth, add, join, leave, mod, kick
// and pass; presence and msg are emitted by the server only.
const (
	TypeMessage       = "msg"
	TypeAuthorization = "auth"
	TypePass          = "pass"
	TypePresence      = "presence"
	TypeModification  = "mod"
	TypeCreateRoom    = "add"
	TypeJoinRoom      = "join"
	TypeLeaveRoom     = "leave"
	TypeKick          = "kick"
)

// NotificationCode is the status carried by "msg" replies. The numeric
// values are part of the wire contract and must not be reordered.
type NotificationCode int

const (
	AuthorizationSuccess NotificationCode = iota
	RoomLeft
	NoRoomToLeave
	RoomJoined
	RoomCreated
	LeaveBeforeCreating
	LeaveBeforeJoining
	UsernameTaken
	RoomNameTaken
	KickedOut
	KickedOutByHost
	RoomDoesNotExist
	InvalidUsername
	InvalidPassword
	InvalidRoomName
	ClientLimitReached
	RoomConfigurationNotSpecified
	RoomModificationNotSpecified
	UnallowedRequest
	RoomLocked
)

var codeNames = map[NotificationCode]string{
	AuthorizationSuccess:          "AuthorizationSuccess",
	RoomLeft:                      "RoomLeft",
	NoRoomToLeave:                 "NoRoomToLeave",
	RoomJoined:                    "RoomJoined",
	RoomCreated:                   "RoomCreated",
	LeaveBeforeCreating:           "LeaveBeforeCreating",
	LeaveBeforeJoining:            "LeaveBeforeJoining",
	UsernameTaken:                 "UsernameTaken",
	RoomNameTaken:                 "RoomNameTaken",
	KickedOut:                     "KickedOut",
	KickedOutByHost:               "KickedOutByHost",
	RoomDoesNotExist:              "RoomDoesNotExist",
	InvalidUsername:               "InvalidUsername",
	InvalidPassword:               "InvalidPassword",
	InvalidRoomName:               "InvalidRoomName",
	ClientLimitReached:            "ClientLimitReached",
	RoomConfigurationNotSpecified: "RoomConfigurationNotSpecified",
	RoomModificationNotSpecified:  "RoomModificationNotSpecified",
	UnallowedRequest:              "UnallowedRequest",
	RoomLocked:                    "RoomLocked",
}

func (c NotificationCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "Unknown"
}

// Close reasons carried as the description string of a connection-fatal
// websocket close frame. MAX_REQUEST_SIZE_EXCEDEED keeps the historical
// spelling; clients match on it.
const (
	CloseMaxRequestSizeExceeded = "MAX_REQUEST_SIZE_EXCEDEED"
	CloseInvalidRequest         = "INVALID_REQUEST"
	CloseUnauthorizedAccess     = "UNAUTHORIZED_ACCESS"
	CloseInvalidCredential      = "INVALID_CREDENTIAL"
	CloseInvalidAPIKey          = "INVALID_API_KEY"
	CloseUnsupportedVersion     = "UNSUPPORTED_VERSION"
	CloseRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
)
