package jobs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
)

type fakeScanner struct {
	products []domain.Product
	err      error
	calls    int
}

func (f *fakeScanner) ScanLowStock(_ context.Context) ([]domain.Product, error) {
	f.calls++
	return f.products, f.err
}

type recordingMailer struct {
	subjects []string
	bodies   []string
	err      error
}

func (m *recordingMailer) Send(_ context.Context, subject string, body string) error {
	m.subjects = append(m.subjects, subject)
	m.bodies = append(m.bodies, body)
	return m.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRunLowStockMailsDigest(t *testing.T) {
	scanner := &fakeScanner{products: []domain.Product{{Name: "Silk Stole", Barcode: "AP001VP0002", Quantity: 3, MinQuantity: 5}}}
	mailer := &recordingMailer{err: errors.New("smtp down")}

	s, err := NewScheduler(time.UTC, "08:00", scanner, mailer, quietLogger())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	products, err := s.RunLowStock(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	if len(mailer.subjects) != 1 || !strings.Contains(mailer.bodies[0], "AP001VP0002") {
		t.Fatalf("expected digest mentioning the barcode, got %v", mailer.bodies)
	}
}

func TestRunLowStockSkipsMailWhenNothingLow(t *testing.T) {
	mailer := &recordingMailer{}
	s, err := NewScheduler(time.UTC, "08:00", &fakeScanner{}, mailer, quietLogger())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if _, err := s.RunLowStock(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(mailer.subjects) != 0 {
		t.Fatalf("expected no mail, got %v", mailer.subjects)
	}
}

func TestNewSchedulerRejectsBadTime(t *testing.T) {
	if _, err := NewScheduler(time.UTC, "25:99", &fakeScanner{}, nil, quietLogger()); err == nil {
		t.Fatalf("expected error for invalid time")
	}
}
