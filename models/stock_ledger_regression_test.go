package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
	"github.com/ahjam-taoufik/gestion-stock-backend/models"
	"github.com/ahjam-taoufik/gestion-stock-backend/utils"
	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func assertLedger(t *testing.T, ctx context.Context, productId int, in, out, available string) {
	t.Helper()
	entry, err := models.GetStockLedgerEntry(ctx, productId)
	if err != nil {
		t.Fatalf("GetStockLedgerEntry(%d): %v", productId, err)
	}
	if !entry.CumulativeIn.Equal(mustDecimal(t, in)) {
		t.Fatalf("product %d cumulative_in = %s, want %s", productId, entry.CumulativeIn, in)
	}
	if !entry.CumulativeOut.Equal(mustDecimal(t, out)) {
		t.Fatalf("product %d cumulative_out = %s, want %s", productId, entry.CumulativeOut, out)
	}
	if !entry.Available.Equal(mustDecimal(t, available)) {
		t.Fatalf("product %d available = %s, want %s", productId, entry.Available, available)
	}
}

// End-to-end ledger semantics across the three document lifecycles, against
// real MySQL and Redis.
func TestStockLedgerDocumentLifecycles(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "gestion_stock_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	client, err := models.CreateClient(ctx, &models.NewClient{Name: "Ets Atlas", City: "Casablanca"})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Farine 25kg",
		Reference:  "FAR-25",
		UnitWeight: mustDecimal(t, "25"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	// Creating a product opens its ledger row at zero.
	assertLedger(t, ctx, product.ID, "0", "0", "0")

	// Receipt of 10 raises cumulative_in and available.
	receipt, err := models.CreateReceipt(ctx, &models.NewReceipt{
		ReceiptDate: time.Now(),
		Details: []models.NewReceiptDetail{
			{ProductId: product.ID, Quantity: mustDecimal(t, "10")},
		},
	})
	if err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "0", "10")

	// Delivery of 4 raises cumulative_out and lowers available.
	delivery, err := models.CreateDelivery(ctx, &models.NewDelivery{
		Number:       "BL0000001",
		DeliveryDate: time.Now(),
		ClientId:     client.ID,
		Details: []models.NewDeliveryDetail{
			{ProductId: product.ID, Quantity: mustDecimal(t, "4"), UnitPrice: mustDecimal(t, "100")},
		},
	})
	if err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "4", "6")

	// Editing the delivery line 4 -> 3 posts only the delta.
	delivery, err = models.GetDelivery(ctx, delivery.ID)
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	_, err = models.UpdateDelivery(ctx, delivery.ID, &models.NewDelivery{
		Number:       "BL0000001",
		DeliveryDate: delivery.DeliveryDate,
		ClientId:     client.ID,
		Details: []models.NewDeliveryDetail{
			{
				DetailId:  delivery.Details[0].ID,
				ProductId: product.ID,
				Quantity:  mustDecimal(t, "3"),
				UnitPrice: mustDecimal(t, "100"),
			},
		},
	})
	if err != nil {
		t.Fatalf("UpdateDelivery: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "3", "7")

	// A pending credit note never touches the ledger.
	note, err := models.CreateCreditNote(ctx, &models.NewCreditNote{
		CreditNoteDate: time.Now(),
		ClientId:       client.ID,
		Details: []models.NewCreditNoteDetail{
			{ProductId: product.ID, QuantityReturned: mustDecimal(t, "2"), UnitPrice: mustDecimal(t, "100")},
		},
	})
	if err != nil {
		t.Fatalf("CreateCreditNote: %v", err)
	}
	if note.Status != models.CreditNoteStatusPending {
		t.Fatalf("new credit note status = %q, want Pending", note.Status)
	}
	wantScope := models.DocumentNumberScope(models.CreditNoteNumberPrefix, time.Now())
	if !strings.HasPrefix(note.Number, wantScope) {
		t.Fatalf("credit note number %q not in scope %q", note.Number, wantScope)
	}
	assertLedger(t, ctx, product.ID, "10", "3", "7")

	// Validation raises available WITHOUT touching cumulative_in.
	note, err = models.ValidateCreditNote(ctx, note.ID, "retour client")
	if err != nil {
		t.Fatalf("ValidateCreditNote: %v", err)
	}
	if note.ValidatedAt == nil {
		t.Fatalf("validated note has nil ValidatedAt")
	}
	assertLedger(t, ctx, product.ID, "10", "3", "9")

	// Validating twice is refused and the ledger is untouched.
	if _, err := models.ValidateCreditNote(ctx, note.ID, "again"); err == nil {
		t.Fatalf("second validation should fail")
	}
	assertLedger(t, ctx, product.ID, "10", "3", "9")

	// A recompute rebuilds available from the counters and erases the
	// credit note offset. Known sharp edge, asserted on purpose.
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := models.RecomputeAvailable(tx, product.ID); err != nil {
		t.Fatalf("RecomputeAvailable: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit recompute: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "3", "7")

	// Deleting the validated note reverses only its available offset.
	// (Recompute above removed it already, so available dips below the
	// counter difference; nothing clamps it.)
	if _, err := models.DeleteCreditNote(ctx, note.ID); err != nil {
		t.Fatalf("DeleteCreditNote: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "3", "5")

	// Restoring re-applies the validated note's offset.
	if _, err := models.RestoreCreditNote(ctx, note.ID); err != nil {
		t.Fatalf("RestoreCreditNote: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "3", "7")

	// Deleting the receipt reverses exactly its lines, even into negatives.
	if _, err := models.DeleteReceipt(ctx, receipt.ID); err != nil {
		t.Fatalf("DeleteReceipt: %v", err)
	}
	assertLedger(t, ctx, product.ID, "0", "3", "-3")

	// Restoring the receipt puts the quantities back.
	if _, err := models.RestoreReceipt(ctx, receipt.ID); err != nil {
		t.Fatalf("RestoreReceipt: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "3", "7")

	// Deleting the delivery reverses its lines; restoring re-applies them.
	if _, err := models.DeleteDelivery(ctx, delivery.ID); err != nil {
		t.Fatalf("DeleteDelivery: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "0", "10")
	if _, err := models.RestoreDelivery(ctx, delivery.ID); err != nil {
		t.Fatalf("RestoreDelivery: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "3", "7")

	// Purging a live delivery reverses it once; purging after a soft delete
	// must not reverse twice.
	if _, err := models.DeleteDelivery(ctx, delivery.ID); err != nil {
		t.Fatalf("DeleteDelivery: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "0", "10")
	if _, err := models.DestroyDelivery(ctx, delivery.ID); err != nil {
		t.Fatalf("DestroyDelivery: %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "0", "10")

	// A ledger mutation for a product purged from the catalog is skipped as
	// a warning; sibling lines in the same document still post.
	orphan, err := models.CreateProduct(ctx, &models.NewProduct{Name: "Huile 5L", Reference: "HUI-5"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	mixed, err := models.CreateReceipt(ctx, &models.NewReceipt{
		ReceiptDate: time.Now(),
		Details: []models.NewReceiptDetail{
			{ProductId: product.ID, Quantity: mustDecimal(t, "5")},
			{ProductId: orphan.ID, Quantity: mustDecimal(t, "5")},
		},
	})
	if err != nil {
		t.Fatalf("CreateReceipt (mixed): %v", err)
	}
	assertLedger(t, ctx, product.ID, "15", "0", "15")
	assertLedger(t, ctx, orphan.ID, "5", "0", "5")

	db = config.GetDB()
	if err := db.Exec("DELETE FROM products WHERE id = ?", orphan.ID).Error; err != nil {
		t.Fatalf("purge orphan product: %v", err)
	}
	if _, err := models.DeleteReceipt(ctx, mixed.ID); err != nil {
		t.Fatalf("DeleteReceipt (mixed): %v", err)
	}
	assertLedger(t, ctx, product.ID, "10", "0", "10")
	// The orphan's row is untouched by the skipped reversal.
	assertLedger(t, ctx, orphan.ID, "5", "0", "5")
}

func TestDeliveryNumberUniqueAndValidated(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "gestion_stock_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	client, err := models.CreateClient(ctx, &models.NewClient{Name: "Ets Rif"})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	product, err := models.CreateProduct(ctx, &models.NewProduct{Name: "Sucre 1kg", Reference: "SUC-1"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	input := &models.NewDelivery{
		Number:       "BL7654321",
		DeliveryDate: time.Now(),
		ClientId:     client.ID,
		Details: []models.NewDeliveryDetail{
			{ProductId: product.ID, Quantity: mustDecimal(t, "1"), UnitPrice: mustDecimal(t, "10")},
		},
	}
	if _, err := models.CreateDelivery(ctx, input); err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}
	if _, err := models.CreateDelivery(ctx, input); err == nil {
		t.Fatalf("duplicate delivery number should be rejected")
	}

	bad := *input
	bad.Number = "BL123"
	if _, err := models.CreateDelivery(ctx, &bad); err == nil {
		t.Fatalf("malformed delivery number should be rejected")
	}
}

func TestCreditNoteNumberAllocationAndDeliveryLineDiff(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "gestion_stock_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	client, err := models.CreateClient(ctx, &models.NewClient{Name: "Ets Souss"})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	product, err := models.CreateProduct(ctx, &models.NewProduct{Name: "Thé 200g", Reference: "THE-200"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	noteInput := &models.NewCreditNote{
		CreditNoteDate: time.Now(),
		ClientId:       client.ID,
		Details: []models.NewCreditNoteDetail{
			{ProductId: product.ID, QuantityReturned: mustDecimal(t, "1")},
		},
	}

	// Numbers are allocated sequentially within the month scope.
	first, err := models.CreateCreditNote(ctx, noteInput)
	if err != nil {
		t.Fatalf("CreateCreditNote: %v", err)
	}
	second, err := models.CreateCreditNote(ctx, noteInput)
	if err != nil {
		t.Fatalf("CreateCreditNote: %v", err)
	}
	scope := models.DocumentNumberScope(models.CreditNoteNumberPrefix, time.Now())
	if first.Number != models.FormatDocumentNumber(scope, 1) {
		t.Fatalf("first number = %q, want %q", first.Number, models.FormatDocumentNumber(scope, 1))
	}
	if second.Number != models.FormatDocumentNumber(scope, 2) {
		t.Fatalf("second number = %q, want %q", second.Number, models.FormatDocumentNumber(scope, 2))
	}

	// A soft-deleted note still owns its number (the unique index ignores
	// deleted_at), so allocation must walk past it.
	if _, err := models.DeleteCreditNote(ctx, second.ID); err != nil {
		t.Fatalf("DeleteCreditNote: %v", err)
	}
	third, err := models.CreateCreditNote(ctx, noteInput)
	if err != nil {
		t.Fatalf("CreateCreditNote after soft delete: %v", err)
	}
	if third.Number != models.FormatDocumentNumber(scope, 3) {
		t.Fatalf("third number = %q, want %q", third.Number, models.FormatDocumentNumber(scope, 3))
	}

	// Delivery line diff: a stored line omitted from the update payload
	// survives and keeps counting toward the totals.
	delivery, err := models.CreateDelivery(ctx, &models.NewDelivery{
		Number:       "BL0001111",
		DeliveryDate: time.Now(),
		ClientId:     client.ID,
		Details: []models.NewDeliveryDetail{
			{ProductId: product.ID, Quantity: mustDecimal(t, "2"), UnitPrice: mustDecimal(t, "100")},
			{ProductId: product.ID, Quantity: mustDecimal(t, "1"), UnitPrice: mustDecimal(t, "50")},
		},
	})
	if err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}
	if !delivery.Total.Equal(mustDecimal(t, "250")) {
		t.Fatalf("initial total = %s, want 250", delivery.Total)
	}

	delivery, err = models.GetDelivery(ctx, delivery.ID)
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	updated, err := models.UpdateDelivery(ctx, delivery.ID, &models.NewDelivery{
		Number:       "BL0001111",
		DeliveryDate: delivery.DeliveryDate,
		ClientId:     client.ID,
		Details: []models.NewDeliveryDetail{
			// only the first stored line, quantity 2 -> 3
			{
				DetailId:  delivery.Details[0].ID,
				ProductId: product.ID,
				Quantity:  mustDecimal(t, "3"),
				UnitPrice: mustDecimal(t, "100"),
			},
			// deletion flag for a line that does not exist: ignored
			{
				DetailId:      999999,
				ProductId:     product.ID,
				IsDeletedItem: utils.NewTrue(),
			},
		},
	})
	if err != nil {
		t.Fatalf("UpdateDelivery: %v", err)
	}
	if len(updated.Details) != 2 {
		t.Fatalf("details after update = %d, want 2 (omitted line kept, flagged junk ignored)", len(updated.Details))
	}
	// 3*100 from the updated line plus 1*50 from the untouched one.
	if !updated.Total.Equal(mustDecimal(t, "350")) {
		t.Fatalf("total after update = %s, want 350", updated.Total)
	}
	if !updated.DocumentTotal.Equal(mustDecimal(t, "350")) {
		t.Fatalf("document total after update = %s, want 350", updated.DocumentTotal)
	}

	// Recalculating from storage agrees with what the update persisted.
	recalced, err := models.RecalculateDeliveryTotals(ctx, delivery.ID)
	if err != nil {
		t.Fatalf("RecalculateDeliveryTotals: %v", err)
	}
	if !recalced.Total.Equal(updated.Total) || !recalced.FinalAmount.Equal(updated.FinalAmount) {
		t.Fatalf("recalculated totals diverge: recalc total=%s final=%s, update total=%s final=%s",
			recalced.Total, recalced.FinalAmount, updated.Total, updated.FinalAmount)
	}
	assertLedger(t, ctx, product.ID, "0", "4", "-4")

	// Same no-op rule for receipts: a flagged unknown line creates nothing.
	receipt, err := models.CreateReceipt(ctx, &models.NewReceipt{
		ReceiptDate: time.Now(),
		Details: []models.NewReceiptDetail{
			{ProductId: product.ID, Quantity: mustDecimal(t, "6")},
		},
	})
	if err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	receipt, err = models.GetReceipt(ctx, receipt.ID)
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	receipt, err = models.UpdateReceipt(ctx, receipt.ID, &models.NewReceipt{
		ReceiptDate: receipt.ReceiptDate,
		Details: []models.NewReceiptDetail{
			{
				DetailId:  receipt.Details[0].ID,
				ProductId: product.ID,
				Quantity:  mustDecimal(t, "6"),
			},
			{
				DetailId:      888888,
				ProductId:     product.ID,
				IsDeletedItem: utils.NewTrue(),
			},
		},
	})
	if err != nil {
		t.Fatalf("UpdateReceipt: %v", err)
	}
	if len(receipt.Details) != 1 {
		t.Fatalf("receipt details after update = %d, want 1", len(receipt.Details))
	}
	assertLedger(t, ctx, product.ID, "6", "4", "2")
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("gestion-stock-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("gestion-stock-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=gestion_stock_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
