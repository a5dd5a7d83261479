package service

import (
	"context"
	"errors"

	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
	"parkeaya/internal/log"
	"parkeaya/internal/repository"
)

// storeErr classifies a repository failure. Missing rows become
// NOT_FOUND, errors which are already classified pass through and
// everything else is INTERNAL.
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var he *apperr.HTTPError
	if errors.As(err, &he) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, what+" not found", err)
	}
	return apperr.Internal(what, err)
}

// logInternal records unexpected failures of a mutating operation.
func logInternal(ctx context.Context, op string, err error) {
	if apperr.Is(err, apperr.KindInternal) {
		log.Error(ctx, op+" failed", log.Err(err))
	}
}

// outcome is the metrics label of an operation result.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}

func actorRef(a entities.Actor) *int64 {
	if a.UserID == 0 {
		return nil
	}
	id := a.UserID
	return &id
}

// canView allows the reservation owner, the lot owner and staff, and
// administrators.
func canView(a entities.Actor, r *db.Reservation, lot *db.ParkingLot) bool {
	if a.IsAdmin() {
		return true
	}
	if a.UserID == 0 {
		return false
	}
	return r.UserID == a.UserID || lot.IsStaff(a.UserID)
}

// canCancel allows the reservation owner, the lot owner and
// administrators.
func canCancel(a entities.Actor, r *db.Reservation, lot *db.ParkingLot) bool {
	if a.IsAdmin() {
		return true
	}
	if a.UserID == 0 {
		return false
	}
	return r.UserID == a.UserID || lot.OwnerID == a.UserID
}

// canOperateLot allows the lot owner and staff, and administrators.
func canOperateLot(a entities.Actor, lot *db.ParkingLot) bool {
	if a.IsAdmin() {
		return true
	}
	return a.UserID != 0 && lot.IsStaff(a.UserID)
}
