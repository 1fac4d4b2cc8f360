package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"
	"github.com/microaistudio/flowmatic-2r-full/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestTicketNumbering(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, "Account Opening", "A", 1, 999)

	first := createTicket(t, ctx, st, serviceID, 0)
	second := createTicket(t, ctx, st, serviceID, 0)

	if first.Ticket.TicketNumber != "A001" {
		t.Fatalf("expected A001, got %s", first.Ticket.TicketNumber)
	}
	if second.Ticket.TicketNumber != "A002" {
		t.Fatalf("expected A002, got %s", second.Ticket.TicketNumber)
	}
	if second.Queue.Waiting != 2 {
		t.Fatalf("expected 2 waiting, got %d", second.Queue.Waiting)
	}
}

func TestTicketNumberingRangeExhausted(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, "Tiny Range", "T", 1, 2)

	createTicket(t, ctx, st, serviceID, 0)
	createTicket(t, ctx, st, serviceID, 0)

	_, err := st.CreateTicket(ctx, store.CreateTicketInput{
		ServiceID: serviceID,
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrRangeExhausted) {
		t.Fatalf("expected ErrRangeExhausted, got %v", err)
	}
}

func TestPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, "Teller", "B", 1, 999)
	agentID := seedAgent(t, ctx, pool, "Teller One")
	counterID := seedCounter(t, ctx, pool, 1, serviceID)

	createTicket(t, ctx, st, serviceID, 0)
	vip := createTicket(t, ctx, st, serviceID, 2)

	result, err := st.CallNext(ctx, store.CallNextInput{
		CounterID: counterID,
		AgentID:   agentID,
		ServiceID: serviceID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if result.Ticket.ID != vip.Ticket.ID {
		t.Fatalf("expected the priority ticket first, got %s", result.Ticket.TicketNumber)
	}
}

func TestCallCompleteFlow(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, "Teller", "A", 1, 999)
	agentID := seedAgent(t, ctx, pool, "Teller One")
	counterID := seedCounter(t, ctx, pool, 1, serviceID)

	created := createTicket(t, ctx, st, serviceID, 0)

	called, err := st.CallNext(ctx, store.CallNextInput{
		CounterID: counterID,
		AgentID:   agentID,
		ServiceID: serviceID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.Ticket.ID != created.Ticket.ID {
		t.Fatalf("expected ticket %d, got %d", created.Ticket.ID, called.Ticket.ID)
	}
	if called.Ticket.Status != models.StatusCalled || called.Ticket.CalledAt == nil {
		t.Fatalf("expected called ticket, got %+v", called.Ticket)
	}
	if status := counterStatus(t, ctx, pool, counterID); status != models.CounterServing {
		t.Fatalf("expected serving counter, got %s", status)
	}
	if called.Queue.Waiting != 0 || called.Queue.Serving != 1 {
		t.Fatalf("unexpected queue counts: %+v", called.Queue)
	}

	completed, err := st.Complete(ctx, store.ActionInput{
		TicketID:   called.Ticket.ID,
		CounterID:  counterID,
		AgentID:    agentID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Ticket.Status != models.StatusCompleted || completed.Ticket.CompletedAt == nil {
		t.Fatalf("expected completed ticket, got %+v", completed.Ticket)
	}
	if completed.Ticket.ActualWait == nil || *completed.Ticket.ActualWait < 0 {
		t.Fatalf("expected non-negative actual wait, got %+v", completed.Ticket.ActualWait)
	}
	if status := counterStatus(t, ctx, pool, counterID); status != models.CounterAvailable {
		t.Fatalf("expected available counter, got %s", status)
	}

	_, err = st.Complete(ctx, store.ActionInput{
		TicketID:   called.Ticket.ID,
		CounterID:  counterID,
		AgentID:    agentID,
		OccurredAt: time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestCallNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, "Teller", "A", 1, 999)
	agentID := seedAgent(t, ctx, pool, "Teller One")
	counterA := seedCounter(t, ctx, pool, 1, serviceID)
	counterB := seedCounter(t, ctx, pool, 2, serviceID)

	createTicket(t, ctx, st, serviceID, 0)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, counterID := range []int64{counterA, counterB} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := st.CallNext(ctx, store.CallNextInput{
				CounterID: id,
				AgentID:   agentID,
				ServiceID: serviceID,
				CalledAt:  time.Now().UTC(),
			})
			results <- err
		}(counterID)
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, store.ErrNoTicket):
			lost++
		default:
			t.Fatalf("call next: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d losers", won, lost)
	}
}

func TestRecycleReturnsTicketToQueue(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, "Teller", "A", 1, 999)
	agentID := seedAgent(t, ctx, pool, "Teller One")
	counterID := seedCounter(t, ctx, pool, 1, serviceID)

	createTicket(t, ctx, st, serviceID, 0)
	called, err := st.CallNext(ctx, store.CallNextInput{
		CounterID: counterID,
		AgentID:   agentID,
		ServiceID: serviceID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}

	recycled, err := st.Recycle(ctx, store.ActionInput{
		TicketID:   called.Ticket.ID,
		CounterID:  counterID,
		AgentID:    agentID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("recycle: %v", err)
	}
	if recycled.Ticket.Status != models.StatusRecycled {
		t.Fatalf("expected recycled status, got %s", recycled.Ticket.Status)
	}
	if recycled.Ticket.CounterID != nil || recycled.Ticket.AgentID != nil ||
		recycled.Ticket.CalledAt != nil || recycled.Ticket.ServedAt != nil {
		t.Fatalf("recycle must clear assignment fields, got %+v", recycled.Ticket)
	}
	if recycled.Queue.Waiting != 1 || recycled.Queue.Serving != 0 {
		t.Fatalf("unexpected queue counts: %+v", recycled.Queue)
	}
	if status := counterStatus(t, ctx, pool, counterID); status != models.CounterAvailable {
		t.Fatalf("expected available counter, got %s", status)
	}

	// The recycled ticket is claimable again.
	again, err := st.CallNext(ctx, store.CallNextInput{
		CounterID: counterID,
		AgentID:   agentID,
		ServiceID: serviceID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("second call next: %v", err)
	}
	if again.Ticket.ID != called.Ticket.ID {
		t.Fatalf("expected the recycled ticket, got %d", again.Ticket.ID)
	}
}

func TestTransferMovesTicketAtomically(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fromID := seedService(t, ctx, pool, "Teller", "A", 1, 999)
	toID := seedService(t, ctx, pool, "Loans", "L", 1, 999)
	agentID := seedAgent(t, ctx, pool, "Teller One")
	counterID := seedCounter(t, ctx, pool, 1, fromID)

	created := createTicket(t, ctx, st, fromID, 0)
	called, err := st.CallNext(ctx, store.CallNextInput{
		CounterID: counterID,
		AgentID:   agentID,
		ServiceID: fromID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}

	result, err := st.Transfer(ctx, store.TransferInput{
		TicketID:        called.Ticket.ID,
		TargetServiceID: toID,
		CounterID:       counterID,
		AgentID:         agentID,
		OccurredAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	ticket := result.Ticket
	if ticket.ServiceID != toID || ticket.Status != models.StatusWaiting {
		t.Fatalf("expected waiting ticket in target service, got %+v", ticket)
	}
	if ticket.TicketNumber != created.Ticket.TicketNumber {
		t.Fatalf("transfer must keep the ticket number, got %s", ticket.TicketNumber)
	}
	if ticket.OriginalServiceID == nil || *ticket.OriginalServiceID != fromID {
		t.Fatalf("expected original service %d, got %+v", fromID, ticket.OriginalServiceID)
	}
	if ticket.TransferredAt == nil {
		t.Fatalf("expected transferred_at to be set")
	}

	var remaining int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets WHERE service_id = $1
	`, fromID).Scan(&remaining); err != nil {
		t.Fatalf("count source tickets: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected source queue to be empty, got %d tickets", remaining)
	}
	if result.From.ServiceID != fromID || result.To.ServiceID != toID {
		t.Fatalf("unexpected snapshots: from=%+v to=%+v", result.From, result.To)
	}
	if result.To.Waiting != 1 {
		t.Fatalf("expected 1 waiting in target, got %d", result.To.Waiting)
	}
}

func TestTransferSameServiceRejected(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, "Teller", "A", 1, 999)
	agentID := seedAgent(t, ctx, pool, "Teller One")
	counterID := seedCounter(t, ctx, pool, 1, serviceID)

	createTicket(t, ctx, st, serviceID, 0)
	called, err := st.CallNext(ctx, store.CallNextInput{
		CounterID: counterID,
		AgentID:   agentID,
		ServiceID: serviceID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}

	_, err = st.Transfer(ctx, store.TransferInput{
		TicketID:        called.Ticket.ID,
		TargetServiceID: serviceID,
		CounterID:       counterID,
		AgentID:         agentID,
		OccurredAt:      time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrSameService) {
		t.Fatalf("expected ErrSameService, got %v", err)
	}
}

func TestPresetQueue(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, "Teller", "A", 1, 999)

	result, err := st.PresetQueue(ctx, store.PresetInput{
		ServiceID:   serviceID,
		StartNumber: 11,
		Count:       5,
	})
	if err != nil {
		t.Fatalf("preset: %v", err)
	}
	if result.Created != 5 || result.Skipped != 0 {
		t.Fatalf("expected 5 created, got %+v", result)
	}
	if result.Queue.Waiting != 5 {
		t.Fatalf("expected 5 waiting, got %d", result.Queue.Waiting)
	}
	if len(result.Queue.Tickets) != 5 || result.Queue.Tickets[0].TicketNumber != "A011" ||
		result.Queue.Tickets[4].TicketNumber != "A015" {
		t.Fatalf("unexpected preset tickets: %+v", result.Queue.Tickets)
	}

	// Overlapping preset skips existing numbers instead of failing.
	again, err := st.PresetQueue(ctx, store.PresetInput{
		ServiceID:   serviceID,
		StartNumber: 14,
		Count:       4,
	})
	if err != nil {
		t.Fatalf("second preset: %v", err)
	}
	if again.Created != 2 || again.Skipped != 2 {
		t.Fatalf("expected 2 created and 2 skipped, got %+v", again)
	}

	// Numbering continues after the highest preset number.
	created := createTicket(t, ctx, st, serviceID, 0)
	if created.Ticket.TicketNumber != "A018" {
		t.Fatalf("expected A018 after presets, got %s", created.Ticket.TicketNumber)
	}
}

func TestResetSystem(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := seedService(t, ctx, pool, "Teller", "A", 1, 999)
	agentID := seedAgent(t, ctx, pool, "Teller One")
	counterID := seedCounter(t, ctx, pool, 1, serviceID)

	createTicket(t, ctx, st, serviceID, 0)
	createTicket(t, ctx, st, serviceID, 0)
	if _, err := st.CallNext(ctx, store.CallNextInput{
		CounterID: counterID,
		AgentID:   agentID,
		ServiceID: serviceID,
		CalledAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("call next: %v", err)
	}

	result, err := st.ResetSystem(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if result.TicketsDeleted != 2 {
		t.Fatalf("expected 2 tickets deleted, got %d", result.TicketsDeleted)
	}
	if status := counterStatus(t, ctx, pool, counterID); status != models.CounterAvailable {
		t.Fatalf("expected available counter after reset, got %s", status)
	}

	// Numbering restarts from the bottom of the range.
	created := createTicket(t, ctx, st, serviceID, 0)
	if created.Ticket.TicketNumber != "A001" {
		t.Fatalf("expected A001 after reset, got %s", created.Ticket.TicketNumber)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return NewStore(pool), pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedService(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name, prefix string, rangeStart, rangeEnd int) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO services (name, prefix, range_start, range_end, current_number, estimated_service_time, is_active)
		VALUES ($1, $2, $3, $4, $3 - 1, 300, TRUE)
		RETURNING id
	`, name, prefix, rangeStart, rangeEnd).Scan(&id)
	if err != nil {
		t.Fatalf("insert service: %v", err)
	}
	return id
}

func seedAgent(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO agents (name, is_active) VALUES ($1, TRUE) RETURNING id
	`, name).Scan(&id)
	if err != nil {
		t.Fatalf("insert agent: %v", err)
	}
	return id
}

func seedCounter(t *testing.T, ctx context.Context, pool *pgxpool.Pool, number int, defaultServiceID int64) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO counters (number, name, status, default_service_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, number, "Counter", models.CounterAvailable, defaultServiceID).Scan(&id)
	if err != nil {
		t.Fatalf("insert counter: %v", err)
	}
	return id
}

func counterStatus(t *testing.T, ctx context.Context, pool *pgxpool.Pool, counterID int64) string {
	t.Helper()
	var status string
	if err := pool.QueryRow(ctx, `
		SELECT status FROM counters WHERE id = $1
	`, counterID).Scan(&status); err != nil {
		t.Fatalf("counter status: %v", err)
	}
	return status
}

func createTicket(t *testing.T, ctx context.Context, st *Store, serviceID int64, priority int) store.ActionResult {
	t.Helper()
	result, err := st.CreateTicket(ctx, store.CreateTicketInput{
		ServiceID: serviceID,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return result
}
