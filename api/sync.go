/*
sync.go - Accounting sync worker

PURPOSE:
  Pushes finalized payroll records that have no journal reference yet to
  the accounting system as balanced journal entries, and stores the
  returned reference on the record.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Interval 0 disables the background loop; RunOnce still works and backs
    POST /api/admin/sync
  - A failed record is logged and retried on the next run
  - The journal reference is metadata: it never changes the content hash

JOURNAL LINES (per record):
  debit  payroll_expense                 gross + employer contributions
  credit net_pay_payable                 net pay
  credit employee_withholdings_payable   employee deductions
  credit employer_contributions_payable  employer contributions

USAGE:
  sync := NewAccountingSync(svc, NewWebhookJournal(url), time.Hour, log)
  sync.Start()
  // ... later
  sync.Stop()

SEE ALSO:
  - handlers.go: TriggerSync endpoint (manual sync)
  - payroll/service.go: PendingSync, AttachJournalRef
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// JOURNAL CLIENTS
// =============================================================================

// JournalLine is one debit or credit. Exactly one of Debit/Credit is non-zero.
type JournalLine struct {
	Account string `json:"account"`
	Debit   string `json:"debit"`
	Credit  string `json:"credit"`
}

// JournalEntry is what the accounting system receives for one record.
type JournalEntry struct {
	RecordID    string        `json:"record_id"`
	EmployeeID  string        `json:"employee_id"`
	Region      string        `json:"region"`
	PeriodStart string        `json:"period_start"`
	PeriodEnd   string        `json:"period_end"`
	Lines       []JournalLine `json:"lines"`
}

// JournalClient posts a journal entry and returns its reference.
type JournalClient interface {
	PostJournal(ctx context.Context, entry JournalEntry) (string, error)
}

// LocalJournal assigns references without an external system.
type LocalJournal struct{}

func (LocalJournal) PostJournal(_ context.Context, _ JournalEntry) (string, error) {
	return "local-" + uuid.NewString(), nil
}

// WebhookJournal posts entries as JSON and expects {"id": "..."} back.
type WebhookJournal struct {
	URL    string
	Client *http.Client
}

func NewWebhookJournal(url string) *WebhookJournal {
	return &WebhookJournal{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (wj *WebhookJournal) PostJournal(ctx context.Context, entry JournalEntry) (string, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to encode journal entry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wj.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build journal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", entry.RecordID)

	resp, err := wj.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post journal entry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("journal endpoint returned %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode journal response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("journal endpoint returned no id")
	}
	return out.ID, nil
}

// BuildJournalEntry turns a finalized record into balanced journal lines.
func BuildJournalEntry(rec payroll.PayrollRecord) JournalEntry {
	employer := rec.Deductions.EmployerSide.Total
	zero := "0.00"
	return JournalEntry{
		RecordID:    string(rec.ID),
		EmployeeID:  string(rec.EmployeeID),
		Region:      string(rec.Region),
		PeriodStart: rec.Period.Start.Format(payroll.DateLayout),
		PeriodEnd:   rec.Period.End.Format(payroll.DateLayout),
		Lines: []JournalLine{
			{Account: "payroll_expense", Debit: payroll.FormatField(rec.Earnings.Gross.Add(employer)), Credit: zero},
			{Account: "net_pay_payable", Debit: zero, Credit: payroll.FormatField(rec.NetPay)},
			{Account: "employee_withholdings_payable", Debit: zero, Credit: payroll.FormatField(rec.Deductions.EmployeeTotal)},
			{Account: "employer_contributions_payable", Debit: zero, Credit: payroll.FormatField(employer)},
		},
	}
}

// =============================================================================
// WORKER
// =============================================================================

// SyncResult summarizes one run.
type SyncResult struct {
	Synced int
	Failed int
	Refs   map[string]string
}

// AccountingSync handles automated accounting sync.
type AccountingSync struct {
	Service  *payroll.RecordService
	Journal  JournalClient
	Interval time.Duration
	Log      logrus.FieldLogger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running sync.Mutex // serializes RunOnce between the ticker and the API
}

// NewAccountingSync creates a sync worker. A nil journal uses LocalJournal.
func NewAccountingSync(svc *payroll.RecordService, journal JournalClient, interval time.Duration, log logrus.FieldLogger) *AccountingSync {
	if journal == nil {
		journal = LocalJournal{}
	}
	return &AccountingSync{
		Service:  svc,
		Journal:  journal,
		Interval: interval,
		Log:      log,
		stop:     make(chan struct{}),
	}
}

// Start begins the background loop. It is a no-op when Interval is zero.
func (s *AccountingSync) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Log.Info("accounting sync: interval not set, background sync disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run(s.ticker.C, s.stop)

	s.Log.WithField("interval", s.Interval.String()).Info("accounting sync started")
}

// Stop stops the background loop and waits for an in-flight run.
func (s *AccountingSync) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Log.Info("accounting sync stopped")
	}
}

func (s *AccountingSync) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-tick:
			if _, err := s.RunOnce(ctx); err != nil {
				s.Log.WithError(err).Error("accounting sync run failed")
			}
		case <-stop:
			return
		}
	}
}

// RunOnce syncs every pending record. Per-record failures are counted, not
// returned; only a failure to list pending records is an error.
func (s *AccountingSync) RunOnce(ctx context.Context) (SyncResult, error) {
	s.running.Lock()
	defer s.running.Unlock()

	pending, err := s.Service.PendingSync(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to list pending records: %w", err)
	}

	res := SyncResult{Refs: make(map[string]string)}
	for _, rec := range pending {
		log := s.Log.WithFields(logrus.Fields{"record_id": rec.ID, "employee_id": rec.EmployeeID})

		ref, err := s.Journal.PostJournal(ctx, BuildJournalEntry(rec))
		if err != nil {
			log.WithError(err).Warn("journal post failed")
			res.Failed++
			continue
		}
		if err := s.Service.AttachJournalRef(ctx, rec.ID, ref); err != nil {
			log.WithError(err).Warn("failed to store journal reference")
			res.Failed++
			continue
		}
		res.Refs[string(rec.ID)] = ref
		res.Synced++
	}

	if res.Synced > 0 || res.Failed > 0 {
		s.Log.WithFields(logrus.Fields{"synced": res.Synced, "failed": res.Failed}).Info("accounting sync completed")
	}
	return res, nil
}
