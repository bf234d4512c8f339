package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"refurbline/internal/domain"
	"refurbline/internal/events"
	"refurbline/internal/notify"
)

// RackStageFor maps a device status onto the rack stage that should hold it.
// Terminal statuses have no stage.
func RackStageFor(s domain.DeviceStatus) (domain.RackStage, bool) {
	switch s {
	case domain.StatusReceived, domain.StatusPendingInspection:
		return domain.RackReceived, true
	case domain.StatusReadyForRepair, domain.StatusWaitingForSpares:
		return domain.RackWaitingForRepair, true
	case domain.StatusUnderRepair:
		return domain.RackUnderRepair, true
	case domain.StatusAwaitingQC:
		return domain.RackAwaitingQC, true
	case domain.StatusReadyForStock:
		return domain.RackReadyForDispatch, true
	}
	return "", false
}

// Place puts the device into the first active rack of its stage with free
// space, or evicts it when the device has left the system. A full stage is
// not an error: the device stays unplaced and the shortfall is logged.
func (e Engine) Place(ctx context.Context, deviceID string) (domain.Device, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Device{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDevice(ctx, tx, deviceID)
	if err != nil {
		return domain.Device{}, err
	}
	now := e.stamp()
	stage, ok := RackStageFor(d.Status)
	if !ok {
		if d.RackID == nil {
			return d, nil
		}
		prev := *d.RackID
		if err := e.Repo.SetDevicePlacement(ctx, tx, d.ID, nil, nil, now); err != nil {
			return domain.Device{}, err
		}
		if err := e.appendEvent(ctx, tx, "device.evicted", "device", d.ID, "system", events.EventPayload{"rack_id": prev}); err != nil {
			return domain.Device{}, err
		}
		d.RackID, d.Location, d.UpdatedAt = nil, nil, now
		return d, tx.Commit()
	}

	racks, err := e.Repo.ListRacks(ctx, tx, stage, true)
	if err != nil {
		return domain.Device{}, err
	}
	for _, rk := range racks {
		if d.RackID != nil && *d.RackID == rk.ID {
			return d, nil
		}
	}
	for _, rk := range racks {
		if rk.OccupantCount >= rk.Capacity {
			continue
		}
		rackID, location := rk.ID, rk.Code
		if err := e.Repo.SetDevicePlacement(ctx, tx, d.ID, &rackID, &location, now); err != nil {
			return domain.Device{}, err
		}
		if err := e.appendEvent(ctx, tx, "device.placed", "device", d.ID, "system", events.EventPayload{
			"rack_id": rk.ID, "rack_code": rk.Code, "stage": stage,
		}); err != nil {
			return domain.Device{}, err
		}
		d.RackID, d.Location, d.UpdatedAt = &rackID, &location, now
		return d, tx.Commit()
	}

	if d.RackID != nil {
		if err := e.Repo.SetDevicePlacement(ctx, tx, d.ID, nil, nil, now); err != nil {
			return domain.Device{}, err
		}
		d.RackID, d.Location, d.UpdatedAt = nil, nil, now
	}
	if err := e.appendEvent(ctx, tx, "device.unplaced", "device", d.ID, "system", events.EventPayload{"stage": stage}); err != nil {
		return domain.Device{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Device{}, err
	}
	e.logger().Warn("no rack capacity",
		zap.String("device_id", d.ID),
		zap.String("barcode", d.Barcode),
		zap.String("stage", string(stage)))
	e.publish(ctx, notify.Event{
		Type:     notify.TypeRackUnplaced,
		DeviceID: d.ID,
		Message:  fmt.Sprintf("No %s rack has space for %s", stage, d.Barcode),
		Payload:  map[string]any{"stage": stage},
	})
	return d, nil
}

// placeAfterCommit runs placement for a device whose business transaction has
// already committed. Failures are logged and the device is returned as given.
func (e Engine) placeAfterCommit(ctx context.Context, d domain.Device) domain.Device {
	placed, err := e.Place(ctx, d.ID)
	if err != nil {
		e.logger().Warn("rack placement failed", zap.String("device_id", d.ID), zap.Error(err))
		return d
	}
	return placed
}
