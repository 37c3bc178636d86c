package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"optiroute/internal/cache"
	"optiroute/internal/domain"
	"optiroute/internal/domain/models"
	"optiroute/internal/metrics"
	"optiroute/internal/utils"

	"go.uber.org/zap"
)

// Fixed client-facing messages for backend failures.
const (
	msgCreateFailed       = "failed to create request"
	msgFetchAllFailed     = "failed to fetch requests"
	msgFetchPendingFailed = "failed to fetch pending requests"
	msgFetchUserFailed    = "failed to fetch user requests"
	msgFetchDriverFailed  = "failed to fetch driver requests"
	msgFetchOneFailed     = "failed to fetch request"
	msgUpdateFailed       = "failed to update request"
	msgDeleteFailed       = "failed to delete request"
	resourceRequest       = "Request"
)

// RequestStore is the persistence gateway for requests.
type RequestStore interface {
	Create(ctx context.Context, req models.Request) (models.Request, error)
	FindByID(ctx context.Context, id domain.ID) (*models.Request, error)
	FindMany(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
	ApplyPatch(ctx context.Context, id domain.ID, patch models.RequestPatch) (*models.Request, error)
	Delete(ctx context.Context, req models.Request) (int64, error)
}

// RequestService owns the request lifecycle: CRUD, authorization, status
// transitions and cache consistency.
type RequestService struct {
	Store   RequestStore
	Cache   cache.Cache
	Metrics *metrics.Metrics
	Log     *zap.Logger
	Clock   utils.Clock

	// StrictTransitions rejects status changes that are not edges of the
	// request state machine.
	StrictTransitions bool

	RequestID string
}

// UpdateResult reports the stored request and whether this update was the
// one that accepted it (pending -> in_progress).
type UpdateResult struct {
	Request        models.Request
	PreviousStatus models.RequestStatus
	Accepted       bool
}

// WithRequestID returns a copy that tags its logs with the HTTP request id.
func (s RequestService) WithRequestID(id string) RequestService {
	s.RequestID = id
	return s
}

func (s RequestService) log() *zap.Logger {
	l := s.Log
	if l == nil {
		l = zap.L()
	}
	if s.RequestID != "" {
		l = l.With(zap.String("request_id", s.RequestID))
	}
	return l.With(zap.String("module", "REQUEST"))
}

func (s RequestService) fail(op, msg string, id domain.ID, err error) error {
	fields := []zap.Field{zap.String("action", op), zap.Error(err)}
	if id != 0 {
		fields = append(fields, zap.Int64("id", int64(id)))
	}
	s.log().Error(msg, fields...)
	s.Metrics.Error(op)
	return domain.UnavailableError{Msg: msg, Err: err}
}

func (s RequestService) Create(ctx context.Context, in models.CreateRequestInput, caller domain.Subject) (models.Request, error) {
	in.OriginAddress = utils.NormalizeSpace(in.OriginAddress)
	in.DestinationAddress = utils.NormalizeSpace(in.DestinationAddress)
	if in.OriginAddress == "" {
		return models.Request{}, domain.ValidationError{Field: "originAddress", Msg: "originAddress should not be empty"}
	}
	if in.DestinationAddress == "" {
		return models.Request{}, domain.ValidationError{Field: "destinationAddress", Msg: "destinationAddress should not be empty"}
	}
	if caller.UserID <= 0 {
		return models.Request{}, domain.UnauthorizedError{}
	}

	s.log().Info("creating new request", zap.Int64("user_id", int64(caller.UserID)))

	saved, err := s.Store.Create(ctx, models.NewRequest(in, caller.UserID, s.Clock.Now()))
	if err != nil {
		return models.Request{}, s.fail("create", msgCreateFailed, 0, err)
	}
	if err := s.invalidate(ctx, cache.CreateInvalidation(saved.UserID)); err != nil {
		return models.Request{}, s.fail("create", msgCreateFailed, saved.ID, err)
	}

	s.Metrics.RequestCreated()
	s.log().Info("request created", zap.Int64("id", int64(saved.ID)))
	return saved, nil
}

func (s RequestService) FindAll(ctx context.Context) ([]models.Request, error) {
	return readThrough(ctx, s, "all", cache.KeyRequestsAll, cache.TTLRequestsAll, msgFetchAllFailed,
		func() ([]models.Request, error) {
			return s.Store.FindMany(ctx, models.RequestFilter{})
		})
}

func (s RequestService) FindPending(ctx context.Context) ([]models.Request, error) {
	pending := models.StatusPending
	return readThrough(ctx, s, "pending", cache.KeyRequestsPending, cache.TTLRequestsPending, msgFetchPendingFailed,
		func() ([]models.Request, error) {
			return s.Store.FindMany(ctx, models.RequestFilter{Status: &pending, OldestFirst: true})
		})
}

func (s RequestService) FindByUser(ctx context.Context, userID domain.ID) ([]models.Request, error) {
	return readThrough(ctx, s, "user", cache.UserRequestsKey(userID), cache.TTLRequestsUser, msgFetchUserFailed,
		func() ([]models.Request, error) {
			return s.Store.FindMany(ctx, models.RequestFilter{UserID: &userID})
		})
}

func (s RequestService) FindByDriver(ctx context.Context, driverID domain.ID) ([]models.Request, error) {
	return readThrough(ctx, s, "driver", cache.DriverRequestsKey(driverID), cache.TTLRequestsDriver, msgFetchDriverFailed,
		func() ([]models.Request, error) {
			return s.Store.FindMany(ctx, models.RequestFilter{DriverID: &driverID})
		})
}

func (s RequestService) FindOne(ctx context.Context, id domain.ID) (models.Request, error) {
	return readThrough(ctx, s, "id", cache.RequestKey(id), cache.TTLRequestByID, msgFetchOneFailed,
		func() (models.Request, error) {
			req, err := s.Store.FindByID(ctx, id)
			if err != nil {
				return models.Request{}, err
			}
			if req == nil {
				s.log().Warn("request not found", zap.Int64("id", int64(id)))
				return models.Request{}, domain.NotFoundError{Resource: resourceRequest, ID: id}
			}
			return *req, nil
		})
}

// Update applies patch on behalf of caller. The owner and elevated roles may
// update; a patch moving the request to in_progress assigns the caller as driver.
func (s RequestService) Update(ctx context.Context, id domain.ID, patch models.RequestPatch, caller domain.Subject) (UpdateResult, error) {
	s.log().Info("updating request", zap.Int64("id", int64(id)), zap.Int64("caller", int64(caller.UserID)))

	current, err := s.FindOne(ctx, id)
	if err != nil {
		return UpdateResult{}, s.passOrFail("update", msgUpdateFailed, id, err)
	}

	if caller.UserID != current.UserID && !caller.Role.Elevated() {
		s.log().Warn("update denied", zap.Int64("id", int64(id)), zap.Int64("caller", int64(caller.UserID)))
		return UpdateResult{}, domain.ForbiddenError{Msg: "you are not allowed to update this request"}
	}

	if patch.Accepts() {
		driver := caller.UserID
		patch.DriverID = &driver
	}
	if err := s.checkPatch(current, patch, caller); err != nil {
		return UpdateResult{}, err
	}

	updated, err := s.Store.ApplyPatch(ctx, id, patch)
	if err != nil {
		return UpdateResult{}, s.fail("update", msgUpdateFailed, id, err)
	}
	if updated == nil {
		return UpdateResult{}, domain.NotFoundError{Resource: resourceRequest, ID: id}
	}

	keys := cache.MutationInvalidation(id, current.UserID, current.DriverID, updated.DriverID)
	if err := s.invalidate(ctx, keys); err != nil {
		return UpdateResult{}, s.fail("update", msgUpdateFailed, id, err)
	}

	if current.Status != updated.Status {
		s.Metrics.Transition(string(current.Status), string(updated.Status))
	}

	res := UpdateResult{
		Request:        *updated,
		PreviousStatus: current.Status,
		Accepted:       current.Status == models.StatusPending && updated.Status == models.StatusInProgress,
	}
	s.log().Info("request updated",
		zap.Int64("id", int64(id)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(updated.Status)),
		zap.Bool("accepted", res.Accepted),
	)
	return res, nil
}

func (s RequestService) checkPatch(current models.Request, patch models.RequestPatch, caller domain.Subject) error {
	if patch.Status != nil && !patch.Status.Valid() {
		return domain.ValidationError{Field: "status", Msg: fmt.Sprintf("status must be one of pending, in_progress, completed, cancelled; got %q", *patch.Status)}
	}
	if patch.OriginAddress != nil && strings.TrimSpace(*patch.OriginAddress) == "" {
		return domain.ValidationError{Field: "originAddress", Msg: "originAddress should not be empty"}
	}
	if patch.DestinationAddress != nil && strings.TrimSpace(*patch.DestinationAddress) == "" {
		return domain.ValidationError{Field: "destinationAddress", Msg: "destinationAddress should not be empty"}
	}
	if !s.StrictTransitions {
		return nil
	}

	if patch.Status != nil && !models.CanTransition(current.Status, *patch.Status) {
		return domain.ValidationError{Field: "status", Msg: fmt.Sprintf("cannot move request from %s to %s", current.Status, *patch.Status)}
	}
	if patch.DriverID != nil && !patch.Accepts() {
		return domain.ValidationError{Field: "driverId", Msg: "driver is assigned only when the request is accepted"}
	}
	if patch.Accepts() && current.DriverID != nil && *current.DriverID != caller.UserID {
		return domain.ValidationError{Field: "status", Msg: "request already accepted by another driver"}
	}
	return nil
}

// Remove deletes the request. Only the owning client may delete.
func (s RequestService) Remove(ctx context.Context, id domain.ID, caller domain.Subject) error {
	s.log().Info("removing request", zap.Int64("id", int64(id)), zap.Int64("caller", int64(caller.UserID)))

	current, err := s.FindOne(ctx, id)
	if err != nil {
		return s.passOrFail("delete", msgDeleteFailed, id, err)
	}
	if caller.UserID != current.UserID {
		s.log().Warn("delete denied", zap.Int64("id", int64(id)), zap.Int64("caller", int64(caller.UserID)))
		return domain.ForbiddenError{Msg: "you are not allowed to delete this request"}
	}

	affected, err := s.Store.Delete(ctx, current)
	if err != nil {
		return s.fail("delete", msgDeleteFailed, id, err)
	}
	if affected == 0 {
		return domain.NotFoundError{Resource: resourceRequest, ID: id}
	}

	if err := s.invalidate(ctx, cache.MutationInvalidation(id, current.UserID, current.DriverID)); err != nil {
		return s.fail("delete", msgDeleteFailed, id, err)
	}
	s.log().Info("request removed", zap.Int64("id", int64(id)))
	return nil
}

// passOrFail lets not-found/forbidden/validation through and turns anything
// else into the operation's generic failure.
func (s RequestService) passOrFail(op, msg string, id domain.ID, err error) error {
	if domain.IsNotFound(err) || domain.IsForbidden(err) || domain.IsValidation(err) {
		return err
	}
	return s.fail(op, msg, id, err)
}

func (s RequestService) invalidate(ctx context.Context, keys []string) error {
	if s.Cache == nil {
		return nil
	}
	return s.Cache.Del(ctx, keys...)
}

func readThrough[T any](ctx context.Context, s RequestService, view, key string, ttl time.Duration, failMsg string, load func() (T, error)) (T, error) {
	var zero T

	if s.Cache != nil {
		raw, err := s.Cache.Get(ctx, key)
		switch {
		case err == nil:
			var cached T
			jerr := json.Unmarshal([]byte(raw), &cached)
			if jerr == nil {
				s.Metrics.CacheLookup(view, true)
				return cached, nil
			}
			s.log().Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(jerr))
		case errors.Is(err, cache.ErrMiss):
		default:
			s.log().Warn("cache read failed, falling back to store", zap.String("key", key), zap.Error(err))
		}
	}
	s.Metrics.CacheLookup(view, false)

	val, err := load()
	if err != nil {
		if domain.IsNotFound(err) {
			return zero, err
		}
		s.log().Error(failMsg, zap.String("key", key), zap.Error(err))
		s.Metrics.Error("fetch_" + view)
		return zero, domain.UnavailableError{Msg: failMsg, Err: err}
	}

	if s.Cache != nil {
		if raw, jerr := json.Marshal(val); jerr == nil {
			if serr := s.Cache.Set(ctx, key, string(raw), ttl); serr != nil {
				s.log().Warn("cache populate failed", zap.String("key", key), zap.Error(serr))
			}
		}
	}
	return val, nil
}
