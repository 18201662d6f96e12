package privacy

import (
	"strings"

	"tripchat/internal/constants"
)

// MaskUserID masks a user identifier showing only the last 4 characters
// Example: "usr_9f8a7b6c5d" -> "******5d6c" style masking
func MaskUserID(userID string) string {
	return maskString(userID, constants.DefaultUserIDMaskLength)
}

// MaskRoomID masks a room identifier to show structure but hide the parties.
// Direct rooms are commonly "<userA>:<userB>"; each side is masked separately.
func MaskRoomID(roomID string) string {
	if roomID == "" {
		return ""
	}

	if strings.Contains(roomID, ":") {
		parts := strings.Split(roomID, ":")
		for i, part := range parts {
			parts[i] = maskString(part, constants.DefaultUserIDMaskLength)
		}
		return strings.Join(parts, ":")
	}

	return maskString(roomID, constants.DefaultUserIDMaskLength)
}

// MaskMessageID masks a message id while keeping enough of the tail for log
// correlation. Temporary ids keep their prefix so correlation misses remain
// identifiable in logs.
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}

	if strings.HasPrefix(messageID, "tmp-") {
		return "tmp-" + maskString(messageID[len("tmp-"):], constants.DefaultMessageIDLength)
	}

	return maskString(messageID, constants.DefaultMessageIDLength)
}

func maskString(s string, visible int) string {
	if s == "" {
		return ""
	}
	if len(s) <= visible {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:]
}
