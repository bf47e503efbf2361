package models

import (
	"database/sql"
	"fmt"

	"github.com/mmdatafocus/invoice_maker/config"
	"gorm.io/gorm"
)

const reservationLockWaitSeconds = 10

// lockReservation serializes invoice creation for one reservation with a MySQL advisory lock,
// so the already-invoiced check holds even when Redis locking is unavailable.
// GET_LOCK is connection-scoped: call it on the transaction that does the insert.
func lockReservation(tx *gorm.DB, reservationId int64) (release func(), err error) {
	name := reservationLockName(reservationId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, ?)", name, reservationLockWaitSeconds).Scan(&ok).Error; err != nil {
		return nil, err
	}
	if ok != 1 {
		return nil, fmt.Errorf("could not acquire invoice lock for reservation %d", reservationId)
	}
	return func() {
		var released sql.NullInt64
		err := tx.Raw("SELECT RELEASE_LOCK(?)", name).Scan(&released).Error
		if err := lockReleaseError(name, released, err); err != nil {
			config.LogWarning(config.GetLogger(), "InvoiceLock", "lockReservation", "releasing invoice lock", map[string]string{"lock": name, "error": err.Error()})
		}
	}, nil
}

// lockReleaseError interprets RELEASE_LOCK: 1 released, 0 held by another session, NULL not held.
func lockReleaseError(name string, released sql.NullInt64, err error) error {
	if err != nil {
		return err
	}
	if !released.Valid {
		return fmt.Errorf("lock %s was not held", name)
	}
	if released.Int64 != 1 {
		return fmt.Errorf("lock %s is held by another session", name)
	}
	return nil
}

func reservationLockName(reservationId int64) string {
	return fmt.Sprintf("invoice:reservation:%d", reservationId)
}
