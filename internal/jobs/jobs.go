package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
	"shopstock/internal/logging"
	"shopstock/internal/mail"
)

type LowStockScanner interface {
	ScanLowStock(ctx context.Context) ([]domain.Product, error)
}

type Scheduler struct {
	cron    *gocron.Scheduler
	at      string
	scanner LowStockScanner
	mailer  mail.Mailer
	logger  logrus.FieldLogger
}

// NewScheduler runs the low-stock scan once a day at the HH:MM time in loc.
func NewScheduler(loc *time.Location, at string, scanner LowStockScanner, mailer mail.Mailer, logger logrus.FieldLogger) (*Scheduler, error) {
	if mailer == nil {
		mailer = mail.Noop{}
	}
	s := &Scheduler{
		cron:    gocron.NewScheduler(loc),
		at:      at,
		scanner: scanner,
		mailer:  mailer,
		logger:  logger,
	}
	if _, err := s.cron.Every(1).Day().At(at).Do(s.runScheduled); err != nil {
		return nil, fmt.Errorf("schedule low stock scan at %q: %w", at, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.logger.WithField("at", s.at).Info("low stock scan scheduled")
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.RunLowStock(ctx); err != nil {
		logging.LogError(s.logger, "jobs", "runScheduled", "low stock scan", nil, err)
	}
}

// RunLowStock scans once and mails a digest when anything is low. Mail
// failures are logged and do not fail the scan.
func (s *Scheduler) RunLowStock(ctx context.Context) ([]domain.Product, error) {
	products, err := s.scanner.ScanLowStock(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("count", len(products)).Info("low stock scan finished")
	if len(products) == 0 {
		return products, nil
	}

	subject := fmt.Sprintf("Low stock: %d products at or below reorder level", len(products))
	if err := s.mailer.Send(ctx, subject, Digest(products)); err != nil {
		logging.LogError(s.logger, "jobs", "RunLowStock", "send digest", len(products), err)
	}
	return products, nil
}

func Digest(products []domain.Product) string {
	var b strings.Builder
	b.WriteString("The following products need restocking:\n\n")
	for _, p := range products {
		fmt.Fprintf(&b, "%s  %s  qty %d (min %d)\n", p.Barcode, p.Name, p.Quantity, p.MinQuantity)
	}
	return b.String()
}
