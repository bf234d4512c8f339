package engine

import (
	"refurbline/internal/domain"
)

var deviceTransitions = map[domain.DeviceStatus][]domain.DeviceStatus{
	domain.StatusReceived:          {domain.StatusPendingInspection},
	domain.StatusPendingInspection: {domain.StatusReadyForRepair, domain.StatusWaitingForSpares, domain.StatusAwaitingQC},
	domain.StatusReadyForRepair:    {domain.StatusUnderRepair},
	domain.StatusWaitingForSpares:  {domain.StatusReadyForRepair, domain.StatusUnderRepair},
	domain.StatusUnderRepair:       {domain.StatusAwaitingQC, domain.StatusWaitingForSpares},
	domain.StatusAwaitingQC:        {domain.StatusReadyForStock, domain.StatusReadyForRepair},
	domain.StatusReadyForStock:     {domain.StatusStockOutSold, domain.StatusStockOutRental},
}

func ensureDeviceTransition(from, to domain.DeviceStatus) error {
	if from.Terminal() {
		return InvalidTransitionError{From: from, To: to}
	}
	if to == domain.StatusScrapped {
		return nil
	}
	for _, next := range deviceTransitions[from] {
		if next == to {
			return nil
		}
	}
	return InvalidTransitionError{From: from, To: to}
}

// jobStatusFor derives the repair job's status from its device's.
func jobStatusFor(s domain.DeviceStatus) (domain.JobStatus, bool) {
	switch s {
	case domain.StatusReadyForRepair:
		return domain.JobReadyForRepair, true
	case domain.StatusWaitingForSpares:
		return domain.JobWaitingForSpares, true
	case domain.StatusUnderRepair:
		return domain.JobUnderRepair, true
	case domain.StatusAwaitingQC:
		return domain.JobAwaitingQC, true
	case domain.StatusReadyForStock, domain.StatusStockOutSold, domain.StatusStockOutRental, domain.StatusScrapped:
		return domain.JobRepairClosed, true
	}
	return "", false
}

// transition is the only place a device status changes. It moves the device
// and, when given, its repair job together. Staying in the same status is
// allowed and only refreshes the job. Callers persist both afterwards.
func transition(d *domain.Device, job *domain.RepairJob, to domain.DeviceStatus, now string) error {
	if d.Status != to {
		if err := ensureDeviceTransition(d.Status, to); err != nil {
			return err
		}
	}
	d.Status = to
	d.UpdatedAt = now
	if job == nil {
		return nil
	}
	if js, ok := jobStatusFor(to); ok {
		job.Status = js
		if js == domain.JobRepairClosed && job.ClosedAt == nil {
			closed := now
			job.ClosedAt = &closed
		}
	}
	job.UpdatedAt = now
	return nil
}
