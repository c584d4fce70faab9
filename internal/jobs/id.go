package jobs

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job ids encode their owner: <userId>:<jobType>:<unix-ms>:<random>.
// Ownership is checkable from the id alone, without a store lookup, so the
// user id itself must never contain the separator.

// NewJobID constructs an ownership-encoded job identifier.
func NewJobID(userID, jobType string) string {
	suffix := uuid.NewString()[:8]
	return userID + ":" + jobType + ":" + strconv.FormatInt(time.Now().UnixMilli(), 10) + ":" + suffix
}

// OwnerOf extracts the owning user id from a job id. Returns "" for ids
// that do not carry an owner prefix.
func OwnerOf(jobID string) string {
	owner, rest, ok := strings.Cut(jobID, ":")
	if !ok || rest == "" {
		return ""
	}
	return owner
}

// OwnedBy reports whether the job id belongs to the given user.
func OwnedBy(jobID, userID string) bool {
	return userID != "" && strings.HasPrefix(jobID, userID+":")
}

// ValidUserID rejects user ids that would break id construction/parsing
// symmetry.
func ValidUserID(userID string) bool {
	return userID != "" && !strings.Contains(userID, ":")
}
