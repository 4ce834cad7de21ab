package billing

import (
	"time"
)

// ReminderState is the result of evaluating a document against the reminder
// schedule at a given instant.
type ReminderState struct {
	DaysSinceSent   int  `json:"days_since_sent"`
	ReminderCount   int  `json:"reminder_count"`
	NextReminderDue bool `json:"next_reminder_due"`
	// NextReminderIn is the number of days until the next reminder, 0 when one
	// is due now, nil once the cap is reached.
	NextReminderIn *int `json:"next_reminder_in"`
	CanRemind      bool `json:"can_remind"`
}

// EvaluateReminder decides whether a reminder is currently due. Reminders
// fall on multiples of the interval counted from the first send, so the
// schedule is a pure function of sentAt and reminderCount and does not drift
// when a reminder goes out late.
func EvaluateReminder(sentAt *time.Time, reminderCount int, now time.Time, intervalDays, maxReminders int) (ReminderState, error) {
	if sentAt == nil {
		return ReminderState{}, ErrDocumentNotSent
	}

	daysSinceSent := int(now.Sub(*sentAt).Hours() / 24)
	canRemind := reminderCount < maxReminders
	due := canRemind && daysSinceSent >= intervalDays*(reminderCount+1)

	state := ReminderState{
		DaysSinceSent:   daysSinceSent,
		ReminderCount:   reminderCount,
		NextReminderDue: due,
		CanRemind:       canRemind,
	}
	switch {
	case due:
		zero := 0
		state.NextReminderIn = &zero
	case canRemind:
		in := intervalDays*(reminderCount+1) - daysSinceSent
		state.NextReminderIn = &in
	}
	return state, nil
}
