package checkout_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/medlink/internal/checkout"
	"github.com/ariefcatur/medlink/internal/postgres"
	rx "github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPool connects to POSTGRES_TEST_DSN and migrates it; the tests in this
// file skip without it. Each test works in its own order year so reruns
// against the same database stay independent.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn, 8, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = postgres.NewMigrator(pool).Up(ctx)
	require.NoError(t, err)
	return pool
}

func resetYear(t *testing.T, pool *pgxpool.Pool, year int) {
	t.Helper()
	ctx := context.Background()
	like := fmt.Sprintf("ORD-%d-%%", year)
	for _, q := range []string{
		`DELETE FROM prescription_payment WHERE order_id IN (SELECT id FROM prescription_orders WHERE reference LIKE $1)`,
		`DELETE FROM order_details WHERE order_id IN (SELECT id FROM prescription_orders WHERE reference LIKE $1)`,
		`DELETE FROM prescription_orders WHERE reference LIKE $1`,
	} {
		_, err := pool.Exec(ctx, q, like)
		require.NoError(t, err)
	}
	_, err := pool.Exec(ctx, `DELETE FROM order_reference_counters WHERE year=$1`, year)
	require.NoError(t, err)
}

// seedPG stores a priced prescription awaiting payment (total 21.53 with tax).
func seedPG(t *testing.T, pool *pgxpool.Pool) (int64, []int64) {
	t.Helper()
	ctx := context.Background()
	var id int64
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO prescriptions(patient_id, hospital_id, pharmacy_id, status, total_amount)
		VALUES ($1, 2, 3, $2, 20.50) RETURNING id`, patientID, string(rx.StatusAwaitingPayment)).Scan(&id))

	var meds []int64
	for _, m := range []struct{ name, price string }{{"Amoxicillin", "12.50"}, {"Paracetamol", "8.00"}} {
		var mid int64
		require.NoError(t, pool.QueryRow(ctx, `
			INSERT INTO prescription_medicines(prescription_id, name, dosage, price)
			VALUES ($1, $2, '1 tab', $3) RETURNING id`, id, m.name, decimal.RequireFromString(m.price)).Scan(&mid))
		meds = append(meds, mid)
	}
	return id, meds
}

func pgService(pool *pgxpool.Pool, year int) (*checkout.PGStore, *fakeGateway, *checkout.Service) {
	store := checkout.NewPGStore(pool)
	gw := newGateway()
	at := time.Date(year, 6, 2, 10, 0, 0, 0, time.UTC)
	svc := checkout.NewService(store, gw,
		checkout.Settings{TaxRate: decimal.RequireFromString("0.05"), Currency: "GHS"},
		checkout.WithClock(func() time.Time { return at }),
	)
	return store, gw, svc
}

func pgRequest(id int64, ref string) checkout.Request {
	return checkout.Request{PatientID: patientID, PrescriptionID: id, TransactionReference: ref}
}

func TestPGStore_SequenceSeedsFromExistingReferences(t *testing.T) {
	pool := testPool(t)
	const year = 2091
	resetYear(t, pool, year)
	ctx := context.Background()

	old, _ := seedPG(t, pool)
	_, err := pool.Exec(ctx, `
		INSERT INTO prescription_orders(patient_id, prescription_id, reference, subtotal, tax, total, status)
		VALUES ($1, $2, 'ORD-2091-007', 20.50, 1.03, 21.53, 'paid')`, patientID, old)
	require.NoError(t, err)

	_, gw, svc := pgService(pool, year)
	first, _ := seedPG(t, pool)
	second, _ := seedPG(t, pool)
	ref1, ref2 := fmt.Sprintf("pg-seq-%d", first), fmt.Sprintf("pg-seq-%d", second)
	gw.pay(ref1, 2153)
	gw.pay(ref2, 2153)

	res, err := svc.CompleteCheckout(ctx, pgRequest(first, ref1))
	require.NoError(t, err)
	assert.Equal(t, "ORD-2091-008", res.OrderReference)

	res, err = svc.CompleteCheckout(ctx, pgRequest(second, ref2))
	require.NoError(t, err)
	assert.Equal(t, "ORD-2091-009", res.OrderReference)

	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM prescriptions WHERE id=$1`, first).Scan(&status))
	assert.Equal(t, string(rx.StatusPaymentReceived), status)
}

func TestPGStore_ConcurrentCheckoutsGetDistinctReferences(t *testing.T) {
	pool := testPool(t)
	const year = 2092
	resetYear(t, pool, year)
	_, gw, svc := pgService(pool, year)

	const n = 6
	ids := make([]int64, n)
	for i := range ids {
		ids[i], _ = seedPG(t, pool)
		gw.pay(fmt.Sprintf("pg-conc-%d", ids[i]), 2153)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		refs = map[string]bool{}
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			res, err := svc.CompleteCheckout(context.Background(), pgRequest(id, fmt.Sprintf("pg-conc-%d", id)))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			refs[res.OrderReference] = true
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	assert.Len(t, refs, n, "every checkout gets its own reference")
	for i := 1; i <= n; i++ {
		assert.True(t, refs[checkout.FormatOrderReference(year, i)], "missing sequence %d", i)
	}
}

func TestPGStore_DuplicateReferenceResolvesToSameOrder(t *testing.T) {
	pool := testPool(t)
	const year = 2093
	resetYear(t, pool, year)
	ctx := context.Background()
	store, gw, svc := pgService(pool, year)

	id, _ := seedPG(t, pool)
	ref := fmt.Sprintf("pg-dup-%d", id)
	gw.pay(ref, 2153)

	first, err := svc.CompleteCheckout(ctx, pgRequest(id, ref))
	require.NoError(t, err)
	again, err := svc.CompleteCheckout(ctx, pgRequest(id, ref))
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.OrderID, again.OrderID)
	assert.Equal(t, first.OrderReference, again.OrderReference)

	// a raw insert of the same reference maps the unique violation and
	// rolls the whole transaction back
	orphan := "ORD-2093-900"
	err = store.InCheckoutTx(ctx, func(tx checkout.Tx) error {
		o := &checkout.Order{
			PatientID: patientID, PrescriptionID: id, Reference: orphan,
			Subtotal: decimal.RequireFromString("20.50"), Tax: decimal.RequireFromString("1.03"),
			Total: decimal.RequireFromString("21.53"), Status: checkout.OrderStatusPaid, CreatedAt: time.Now(),
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, &checkout.Payment{
			OrderID: o.ID, TransactionReference: ref, Amount: decimal.RequireFromString("21.53"),
			Currency: "GHS", Channel: "card", Status: "success", CreatedAt: time.Now(),
		})
	})
	assert.ErrorIs(t, err, checkout.ErrDuplicatePayment)

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM prescription_orders WHERE reference=$1`, orphan).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM prescription_payment WHERE transaction_reference=$1`, ref).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestPGStore_SetMedicinePriceStaysOnItsPrescription(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := checkout.NewPGStore(pool)

	id, _ := seedPG(t, pool)
	_, otherMeds := seedPG(t, pool)

	err := store.InTx(ctx, func(tx rx.Tx) error {
		return tx.SetMedicinePrice(ctx, id, otherMeds[0], decimal.RequireFromString("99.00"))
	})
	assert.ErrorIs(t, err, rx.ErrNotFound)

	meds, err := store.Medicines(ctx, id)
	require.NoError(t, err)
	require.Len(t, meds, 2)
	assert.Equal(t, "12.50", meds[0].Price.Decimal.StringFixed(2))
}

func TestPGStore_FailedTransactionRollsBack(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := checkout.NewPGStore(pool)
	id, meds := seedPG(t, pool)

	err := store.InTx(ctx, func(tx rx.Tx) error {
		p, err := tx.LockPrescription(ctx, id)
		if err != nil {
			return err
		}
		p.Status = rx.StatusOnHold
		p.HeldFromStatus = rx.StatusAwaitingPayment
		if err := tx.UpdatePrescription(ctx, p); err != nil {
			return err
		}
		if err := tx.SetMedicinePrice(ctx, id, meds[0], decimal.RequireFromString("1.00")); err != nil {
			return err
		}
		return tx.SetMedicinePrice(ctx, id, -1, decimal.RequireFromString("1.00"))
	})
	assert.ErrorIs(t, err, rx.ErrNotFound)

	p, err := store.Prescription(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rx.StatusAwaitingPayment, p.Status)
	assert.Empty(t, p.HeldFromStatus)
	got, err := store.Medicines(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "12.50", got[0].Price.Decimal.StringFixed(2))
}

func TestPGStore_LockPrescriptionBlocksSecondWriter(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := checkout.NewPGStore(pool)
	id, _ := seedPG(t, pool)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.InTx(ctx, func(tx rx.Tx) error {
			if _, err := tx.LockPrescription(ctx, id); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	err := store.InTx(waitCtx, func(tx rx.Tx) error {
		_, err := tx.LockPrescription(waitCtx, id)
		return err
	})
	assert.Error(t, err, "row is held by the first transaction")

	close(release)
	require.NoError(t, <-done)
}

func TestPGStore_OrderLineForUnknownMedicine(t *testing.T) {
	pool := testPool(t)
	const year = 2094
	resetYear(t, pool, year)
	ctx := context.Background()
	store := checkout.NewPGStore(pool)
	id, _ := seedPG(t, pool)

	err := store.InCheckoutTx(ctx, func(tx checkout.Tx) error {
		o := &checkout.Order{
			PatientID: patientID, PrescriptionID: id, Reference: "ORD-2094-001",
			Subtotal: decimal.RequireFromString("20.50"), Tax: decimal.RequireFromString("1.03"),
			Total: decimal.RequireFromString("21.53"), Status: checkout.OrderStatusPaid, CreatedAt: time.Now(),
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		return tx.InsertOrderLine(ctx, &checkout.OrderLine{
			OrderID: o.ID, MedicineID: -1, Name: "ghost", Price: decimal.RequireFromString("1.00"),
		})
	})
	assert.ErrorIs(t, err, rx.ErrNotFound)
}
