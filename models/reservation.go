package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/invoice_maker/config"
	"github.com/mmdatafocus/invoice_maker/utils"
)

type ReservationStatus string

const (
	ReservationStatusReserved   ReservationStatus = "Reserved"
	ReservationStatusCheckedIn  ReservationStatus = "Checked-In"
	ReservationStatusCheckedOut ReservationStatus = "Checked-Out"
	ReservationStatusCancelled  ReservationStatus = "Cancelled"
)

type Reservation struct {
	ReservationId int64             `gorm:"column:ReservationId;primary_key" json:"reservation_id"`
	RoomId        int64             `gorm:"column:RoomId;index;not null" json:"room_id"`
	CheckInDate   time.Time         `gorm:"column:CheckInDate;not null" json:"check_in_date"`
	CheckOutDate  time.Time         `gorm:"column:CheckOutDate;not null" json:"check_out_date"`
	Status        ReservationStatus `gorm:"column:Status;size:20;not null" json:"status"`
}

func (Reservation) TableName() string { return "Reservation" }

type Room struct {
	RoomId   int64  `gorm:"column:RoomId;primary_key" json:"room_id"`
	RoomName string `gorm:"column:RoomName;size:100;not null" json:"room_name"`
}

func (Room) TableName() string { return "Room" }

// InvoiceableReservation is a reservation that is open and has no invoice yet.
type InvoiceableReservation struct {
	ReservationId int64     `gorm:"column:ReservationId" json:"reservation_id"`
	RoomName      string    `gorm:"column:RoomName" json:"room_name"`
	CheckInDate   time.Time `gorm:"column:CheckInDate" json:"check_in_date"`
	CheckOutDate  time.Time `gorm:"column:CheckOutDate" json:"check_out_date"`
}

func (r InvoiceableReservation) Nights() int {
	n := int(utils.DateOnly(r.CheckOutDate).Sub(utils.DateOnly(r.CheckInDate)).Hours() / 24)
	if n < 0 {
		return 0
	}
	return n
}

// LodgingSpan is the inclusive date span billed for the stay: check-in through the last
// night. A same-day stay bills the check-in day.
func (r InvoiceableReservation) LodgingSpan() (time.Time, time.Time) {
	start := utils.DateOnly(r.CheckInDate)
	end := utils.DateOnly(r.CheckOutDate).AddDate(0, 0, -1)
	return start, utils.ClampEnd(start, end)
}

func ListInvoiceableReservations(ctx context.Context) ([]InvoiceableReservation, error) {
	sql := `
SELECT
    r.ReservationId,
    rm.RoomName,
    r.CheckInDate,
    r.CheckOutDate
FROM Reservation r
JOIN Room rm ON r.RoomId = rm.RoomId
WHERE r.Status IN ?
  AND NOT EXISTS (
    SELECT 1 FROM Invoice i
    WHERE i.ReservationId = r.ReservationId
  )
ORDER BY r.CheckInDate, r.ReservationId
`
	var records []InvoiceableReservation
	db := config.GetDB()
	statuses := []ReservationStatus{ReservationStatusReserved, ReservationStatusCheckedIn}
	if err := db.WithContext(ctx).Raw(sql, statuses).Scan(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
