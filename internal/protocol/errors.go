package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownType   = "E_UNKNOWN_TYPE"
	ErrNotFound      = "E_NOT_FOUND"
	ErrOccupied      = "E_OCCUPIED"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrMaxLevel      = "E_MAX_LEVEL"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"

	ErrStorage  = "E_STORAGE"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrUnknownType:     {},
	ErrNotFound:        {},
	ErrOccupied:        {},
	ErrNoResource:      {},
	ErrMaxLevel:        {},
	ErrInvalidTarget:   {},
	ErrRateLimit:       {},
	ErrStorage:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
