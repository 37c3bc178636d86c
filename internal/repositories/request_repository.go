package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	intconfig "optiroute/internal/config"
	intdb "optiroute/internal/db"
	"optiroute/internal/domain"
	"optiroute/internal/domain/models"
)

const requestColumns = `id, origin_address, destination_address,
	origin_lat, origin_lng, destination_lat, destination_lng,
	estimated_distance, estimated_time,
	created_at, status, driver_id, user_id, vehicle_id`

type RequestRepository struct {
	DB *sql.DB
}

func (r RequestRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(s rowScanner) (models.Request, error) {
	var (
		req                                    models.Request
		status                                 string
		originLat, originLng, destLat, destLng sql.NullFloat64
		distance                               sql.NullFloat64
		minutes, driverID, vehicleID           sql.NullInt64
	)
	if err := s.Scan(
		&req.ID,
		&req.OriginAddress,
		&req.DestinationAddress,
		&originLat,
		&originLng,
		&destLat,
		&destLng,
		&distance,
		&minutes,
		&req.CreatedAt,
		&status,
		&driverID,
		&req.UserID,
		&vehicleID,
	); err != nil {
		return models.Request{}, err
	}
	req.OriginLat = intdb.FloatPtr(originLat)
	req.OriginLng = intdb.FloatPtr(originLng)
	req.DestinationLat = intdb.FloatPtr(destLat)
	req.DestinationLng = intdb.FloatPtr(destLng)
	req.EstimatedDistance = intdb.FloatPtr(distance)
	req.EstimatedTime = intdb.IntPtr(minutes)
	req.Status = models.RequestStatus(status)
	req.DriverID = intdb.IDPtr(driverID)
	req.VehicleID = intdb.IDPtr(vehicleID)
	return req, nil
}

// Create inserts the request and returns it with its generated id.
func (r RequestRepository) Create(ctx context.Context, req models.Request) (models.Request, error) {
	db := r.db()
	if db == nil {
		return models.Request{}, sql.ErrConnDone
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO requests (
			origin_address, destination_address,
			origin_lat, origin_lng, destination_lat, destination_lng,
			estimated_distance, estimated_time,
			created_at, status, driver_id, user_id, vehicle_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.OriginAddress,
		req.DestinationAddress,
		intdb.NullFloat(req.OriginLat),
		intdb.NullFloat(req.OriginLng),
		intdb.NullFloat(req.DestinationLat),
		intdb.NullFloat(req.DestinationLng),
		intdb.NullFloat(req.EstimatedDistance),
		intdb.NullInt(req.EstimatedTime),
		req.CreatedAt,
		string(req.Status),
		intdb.NullID(req.DriverID),
		int64(req.UserID),
		intdb.NullID(req.VehicleID),
	)
	if err != nil {
		return models.Request{}, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Request{}, err
	}
	req.ID = domain.ID(id)
	return req, nil
}

// FindByID returns nil without error when no row has that id.
func (r RequestRepository) FindByID(ctx context.Context, id domain.ID) (*models.Request, error) {
	db := r.db()
	if db == nil {
		return nil, sql.ErrConnDone
	}

	row := db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ? LIMIT 1`, int64(id))
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r RequestRepository) FindMany(ctx context.Context, f models.RequestFilter) ([]models.Request, error) {
	db := r.db()
	if db == nil {
		return nil, sql.ErrConnDone
	}

	where := []string{"1=1"}
	args := []any{}
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, int64(*f.UserID))
	}
	if f.DriverID != nil {
		where = append(where, "driver_id = ?")
		args = append(args, int64(*f.DriverID))
	}
	order := "DESC"
	if f.OldestFirst {
		order = "ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM requests WHERE %s ORDER BY created_at %s, id %s`,
		requestColumns, strings.Join(where, " AND "), order, order)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ApplyPatch writes the present patch fields and returns the stored row, or
// nil when the id does not exist.
func (r RequestRepository) ApplyPatch(ctx context.Context, id domain.ID, patch models.RequestPatch) (*models.Request, error) {
	db := r.db()
	if db == nil {
		return nil, sql.ErrConnDone
	}

	sets, args := patchAssignments(patch)
	if len(sets) > 0 {
		args = append(args, int64(id))
		if _, err := db.ExecContext(ctx, `UPDATE requests SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return nil, err
		}
	}
	return r.FindByID(ctx, id)
}

func patchAssignments(p models.RequestPatch) ([]string, []any) {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if p.OriginAddress != nil {
		add("origin_address", *p.OriginAddress)
	}
	if p.DestinationAddress != nil {
		add("destination_address", *p.DestinationAddress)
	}
	if p.OriginLat != nil {
		add("origin_lat", *p.OriginLat)
	}
	if p.OriginLng != nil {
		add("origin_lng", *p.OriginLng)
	}
	if p.DestinationLat != nil {
		add("destination_lat", *p.DestinationLat)
	}
	if p.DestinationLng != nil {
		add("destination_lng", *p.DestinationLng)
	}
	if p.EstimatedDistance != nil {
		add("estimated_distance", *p.EstimatedDistance)
	}
	if p.EstimatedTime != nil {
		add("estimated_time", *p.EstimatedTime)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.DriverID != nil {
		add("driver_id", int64(*p.DriverID))
	}
	if p.VehicleID != nil {
		add("vehicle_id", int64(*p.VehicleID))
	}
	return sets, args
}

// Delete removes the request row and reports affected rows.
func (r RequestRepository) Delete(ctx context.Context, req models.Request) (int64, error) {
	db := r.db()
	if db == nil {
		return 0, sql.ErrConnDone
	}

	res, err := db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, int64(req.ID))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
