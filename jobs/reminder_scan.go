package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/facturio/facturio/internal/billing"
	"github.com/facturio/facturio/internal/clients"
	jobmetrics "github.com/facturio/facturio/internal/jobs"
)

// ClientDirectory resolves the recipient for a reminder email.
type ClientDirectory interface {
	Get(ctx context.Context, id int64) (*clients.Client, error)
}

// ReminderScanJob sweeps sent documents and dispatches due follow-up emails.
type ReminderScanJob struct {
	Billing *billing.Service
	Clients ClientDirectory
	Mail    *Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReminderScanJob wires dependencies for the reminder sweep handler.
func NewReminderScanJob(billingSvc *billing.Service, directory ClientDirectory, mail *Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReminderScanJob {
	return &ReminderScanJob{
		Billing: billingSvc,
		Clients: directory,
		Mail:    mail,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskTypeReminderScan tasks.
func (j *ReminderScanJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Billing == nil {
		return errors.New("reminder scan: handler not configured")
	}
	now := j.now()
	logger := j.logger()
	logger.Info("starting reminder scan")

	tracker := j.Metrics.Track(TaskTypeReminderScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	due, err := j.Billing.DueReminders(ctx, now)
	if err != nil {
		resultErr = err
		logger.Error("list due reminders", slog.Any("error", err))
		return resultErr
	}
	if len(due) == 0 {
		logger.Info("no reminders due")
		return resultErr
	}

	sent := 0
	for _, reminder := range due {
		if err := j.dispatch(ctx, reminder, now); err != nil {
			resultErr = err
			logger.Error("dispatch reminder",
				slog.String("doc_number", reminder.DocNumber),
				slog.Any("error", err))
			return resultErr
		}
		sent++
	}

	logger.Info("completed reminder scan", slog.Int("sent", sent), slog.Duration("duration", time.Since(now)))
	return resultErr
}

func (j *ReminderScanJob) dispatch(ctx context.Context, reminder billing.DueReminder, now time.Time) error {
	client, err := j.Clients.Get(ctx, reminder.ClientID)
	if err != nil {
		return err
	}
	if client.Email == nil || *client.Email == "" {
		// No deliverable address; leave the reminder pending so the
		// dashboard keeps surfacing it.
		j.logger().Warn("client has no email",
			slog.Int64("client_id", reminder.ClientID),
			slog.String("doc_number", reminder.DocNumber))
		return nil
	}

	payload := reminderEmail(reminder, client.Name, *client.Email)
	if j.Mail != nil {
		if _, err := j.Mail.EnqueueSendEmail(ctx, payload); err != nil {
			return err
		}
	}
	return j.Billing.RecordReminderSent(ctx, reminder.Kind, reminder.DocumentID, *client.Email, now)
}

func reminderEmail(reminder billing.DueReminder, clientName, to string) SendEmailPayload {
	kind := "devis"
	if reminder.Kind == billing.DocumentKindInvoice {
		kind = "facture"
	}
	return SendEmailPayload{
		To:      to,
		Subject: fmt.Sprintf("Relance : %s %s", kind, reminder.DocNumber),
		Body: fmt.Sprintf(
			"Bonjour %s,\n\nSauf erreur de notre part, le document %s est toujours en attente de votre retour (relance n°%d).\n\nCordialement",
			clientName, reminder.DocNumber, reminder.State.ReminderCount+1),
	}
}

func (j *ReminderScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeReminderScan))
	}
	return slog.Default().With(slog.String("job", TaskTypeReminderScan))
}

func (j *ReminderScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
