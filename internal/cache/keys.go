package cache

import (
	"strconv"
	"time"

	"optiroute/internal/domain"
)

// Request cache keys.
const (
	KeyRequestsAll     = "requests:all"
	KeyRequestsPending = "requests:pending"

	prefixRequestID     = "requests:id:"
	prefixRequestUser   = "requests:user:"
	prefixRequestDriver = "requests:driver:"
)

// TTLs per view. Volatile lists expire first.
const (
	TTLRequestsAll     = 120 * time.Second
	TTLRequestsPending = 60 * time.Second
	TTLRequestByID     = 300 * time.Second
	TTLRequestsUser    = 180 * time.Second
	TTLRequestsDriver  = 180 * time.Second
)

func RequestKey(id domain.ID) string {
	return prefixRequestID + strconv.FormatInt(int64(id), 10)
}

func UserRequestsKey(userID domain.ID) string {
	return prefixRequestUser + strconv.FormatInt(int64(userID), 10)
}

func DriverRequestsKey(driverID domain.ID) string {
	return prefixRequestDriver + strconv.FormatInt(int64(driverID), 10)
}

// CreateInvalidation lists the keys a new request can make stale.
func CreateInvalidation(ownerID domain.ID) []string {
	return []string{
		KeyRequestsAll,
		KeyRequestsPending,
		UserRequestsKey(ownerID),
	}
}

// MutationInvalidation lists the keys an update or delete of request id can
// make stale. driverIDs holds every driver the request was or is assigned to.
func MutationInvalidation(id, ownerID domain.ID, driverIDs ...*domain.ID) []string {
	keys := []string{
		RequestKey(id),
		KeyRequestsAll,
		KeyRequestsPending,
		UserRequestsKey(ownerID),
	}
	seen := map[domain.ID]bool{}
	for _, d := range driverIDs {
		if d == nil || seen[*d] {
			continue
		}
		seen[*d] = true
		keys = append(keys, DriverRequestsKey(*d))
	}
	return keys
}
