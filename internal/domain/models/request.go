package models

import (
	"time"

	"optiroute/internal/domain"
)

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusCancelled  RequestStatus = "cancelled"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the request state
// machine. Re-writing the current status is always accepted.
func CanTransition(from, to RequestStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Request is a transport request submitted by a client.
type Request struct {
	ID                 domain.ID     `json:"id"`
	OriginAddress      string        `json:"originAddress"`
	DestinationAddress string        `json:"destinationAddress"`
	OriginLat          *float64      `json:"originLat"`
	OriginLng          *float64      `json:"originLng"`
	DestinationLat     *float64      `json:"destinationLat"`
	DestinationLng     *float64      `json:"destinationLng"`
	EstimatedDistance  *float64      `json:"estimatedDistance"`
	EstimatedTime      *int          `json:"estimatedTime"`
	CreatedAt          time.Time     `json:"createdAt"`
	Status             RequestStatus `json:"status"`
	DriverID           *domain.ID    `json:"driverId"`
	UserID             domain.ID     `json:"userId"`
	VehicleID          *domain.ID    `json:"vehicleId"`
}

// CreateRequestInput carries client supplied fields for a new request.
type CreateRequestInput struct {
	OriginAddress      string   `json:"originAddress" binding:"required"`
	DestinationAddress string   `json:"destinationAddress" binding:"required"`
	OriginLat          *float64 `json:"originLat" binding:"omitempty,latitude"`
	OriginLng          *float64 `json:"originLng" binding:"omitempty,longitude"`
	DestinationLat     *float64 `json:"destinationLat" binding:"omitempty,latitude"`
	DestinationLng     *float64 `json:"destinationLng" binding:"omitempty,longitude"`
	EstimatedDistance  *float64 `json:"estimatedDistance" binding:"omitempty,gte=0"`
	EstimatedTime      *int     `json:"estimatedTime" binding:"omitempty,gte=0"`
}

// NewRequest builds a pending, unassigned request owned by userID.
func NewRequest(in CreateRequestInput, userID domain.ID, now time.Time) Request {
	return Request{
		OriginAddress:      in.OriginAddress,
		DestinationAddress: in.DestinationAddress,
		OriginLat:          in.OriginLat,
		OriginLng:          in.OriginLng,
		DestinationLat:     in.DestinationLat,
		DestinationLng:     in.DestinationLng,
		EstimatedDistance:  in.EstimatedDistance,
		EstimatedTime:      in.EstimatedTime,
		CreatedAt:          now.UTC().Truncate(time.Second),
		Status:             StatusPending,
		DriverID:           nil,
		UserID:             userID,
	}
}

// RequestPatch holds only the fields present in an update. id, createdAt and
// userId are deliberately absent.
type RequestPatch struct {
	OriginAddress      *string        `json:"originAddress" binding:"omitempty,min=1"`
	DestinationAddress *string        `json:"destinationAddress" binding:"omitempty,min=1"`
	OriginLat          *float64       `json:"originLat" binding:"omitempty,latitude"`
	OriginLng          *float64       `json:"originLng" binding:"omitempty,longitude"`
	DestinationLat     *float64       `json:"destinationLat" binding:"omitempty,latitude"`
	DestinationLng     *float64       `json:"destinationLng" binding:"omitempty,longitude"`
	EstimatedDistance  *float64       `json:"estimatedDistance" binding:"omitempty,gte=0"`
	EstimatedTime      *int           `json:"estimatedTime" binding:"omitempty,gte=0"`
	Status             *RequestStatus `json:"status"`
	DriverID           *domain.ID     `json:"driverId"`
	VehicleID          *domain.ID     `json:"vehicleId"`
}

func (p RequestPatch) Empty() bool {
	return p.OriginAddress == nil && p.DestinationAddress == nil &&
		p.OriginLat == nil && p.OriginLng == nil &&
		p.DestinationLat == nil && p.DestinationLng == nil &&
		p.EstimatedDistance == nil && p.EstimatedTime == nil &&
		p.Status == nil && p.DriverID == nil && p.VehicleID == nil
}

// Accepts reports whether the patch moves the request into in_progress.
func (p RequestPatch) Accepts() bool {
	return p.Status != nil && *p.Status == StatusInProgress
}

// Apply returns a copy of r with the present patch fields written over it.
func (p RequestPatch) Apply(r Request) Request {
	if p.OriginAddress != nil {
		r.OriginAddress = *p.OriginAddress
	}
	if p.DestinationAddress != nil {
		r.DestinationAddress = *p.DestinationAddress
	}
	if p.OriginLat != nil {
		r.OriginLat = p.OriginLat
	}
	if p.OriginLng != nil {
		r.OriginLng = p.OriginLng
	}
	if p.DestinationLat != nil {
		r.DestinationLat = p.DestinationLat
	}
	if p.DestinationLng != nil {
		r.DestinationLng = p.DestinationLng
	}
	if p.EstimatedDistance != nil {
		r.EstimatedDistance = p.EstimatedDistance
	}
	if p.EstimatedTime != nil {
		r.EstimatedTime = p.EstimatedTime
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.DriverID != nil {
		r.DriverID = p.DriverID
	}
	if p.VehicleID != nil {
		r.VehicleID = p.VehicleID
	}
	return r
}

// RequestFilter is the predicate for listing requests.
type RequestFilter struct {
	Status   *RequestStatus
	UserID   *domain.ID
	DriverID *domain.ID
	// OldestFirst orders by createdAt ascending; default is newest first.
	OldestFirst bool
}
