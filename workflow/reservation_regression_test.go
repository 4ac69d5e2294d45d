package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/config"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/models"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/utils"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/workflow"
)

func TestReservationLifecycleRegression(t *testing.T) {
	ctx, engine := setupIntegration(t)

	// Seed a SKU with 100 units on hand.
	sku, err := models.CreateSku(ctx, &models.NewSku{
		SkuCode:    "WIDGET-001",
		Name:       "Widget, Standard",
		InitialQty: 100,
	})
	if err != nil {
		t.Fatalf("CreateSku: %v", err)
	}

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	// 1) Hold 10 units: reservation becomes HELD, available drops to 90.
	hold, err := engine.CreateHold(ctx, &workflow.NewHold{
		ClientToken: "t1",
		Items:       []workflow.NewHoldItem{{SkuId: sku.ID, Qty: 10}},
		Strategy:    models.LockStrategyOptimistic,
	})
	if err != nil {
		t.Fatalf("CreateHold: %v", err)
	}
	if hold.Status != models.ReservationStatusHeld {
		t.Fatalf("expected HELD, got %s", hold.Status)
	}
	assertLedger(t, ctx, sku.ID, 100, 10, 0)

	// 2) Oversell rejected and the ledger stays untouched.
	levelBefore, err := models.GetInventoryLevel(db.WithContext(ctx), sku.ID, false)
	if err != nil {
		t.Fatalf("GetInventoryLevel: %v", err)
	}
	_, err = engine.CreateHold(ctx, &workflow.NewHold{
		ClientToken: "t-oversell",
		Items:       []workflow.NewHoldItem{{SkuId: sku.ID, Qty: 150}},
	})
	if !errors.Is(err, utils.ErrorInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	levelAfter, err := models.GetInventoryLevel(db.WithContext(ctx), sku.ID, false)
	if err != nil {
		t.Fatalf("GetInventoryLevel: %v", err)
	}
	if levelAfter.Version != levelBefore.Version {
		t.Fatalf("rejected hold must not touch the ledger (version %d -> %d)", levelBefore.Version, levelAfter.Version)
	}
	if existing, err := models.GetReservationByToken(db.WithContext(ctx), "t-oversell"); err != nil || existing != nil {
		t.Fatalf("rejected hold must not persist a reservation (res=%v err=%v)", existing, err)
	}

	// 3) Replaying the same token returns the same reservation without a
	//    second ledger mutation.
	replay, err := engine.CreateHold(ctx, &workflow.NewHold{
		ClientToken: "t1",
		Items:       []workflow.NewHoldItem{{SkuId: sku.ID, Qty: 10}},
	})
	if err != nil {
		t.Fatalf("replay CreateHold: %v", err)
	}
	if replay.ID != hold.ID {
		t.Fatalf("replay returned a different reservation: %s vs %s", replay.ID, hold.ID)
	}
	assertLedger(t, ctx, sku.ID, 100, 10, 0)

	// 4) Convert the hold: reserved moves to allocated, status ALLOCATED.
	converted, err := engine.ConvertHoldToAllocation(ctx, hold.ID)
	if err != nil {
		t.Fatalf("ConvertHoldToAllocation: %v", err)
	}
	if converted.Status != models.ReservationStatusAllocated {
		t.Fatalf("expected ALLOCATED, got %s", converted.Status)
	}
	if converted.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	assertLedger(t, ctx, sku.ID, 100, 0, 10)

	// 5) Converting again is a wrong-status error.
	if _, err := engine.ConvertHoldToAllocation(ctx, hold.ID); !errors.Is(err, utils.ErrorWrongStatus) {
		t.Fatalf("expected wrong-status on double convert, got %v", err)
	}

	// 6) Hold then release: reserved returns to available.
	hold2, err := engine.CreateHold(ctx, &workflow.NewHold{
		ClientToken: "t2",
		Items:       []workflow.NewHoldItem{{SkuId: sku.ID, Qty: 5}},
		Strategy:    models.LockStrategyPessimistic,
	})
	if err != nil {
		t.Fatalf("CreateHold t2: %v", err)
	}
	assertLedger(t, ctx, sku.ID, 100, 5, 10)

	released, err := engine.ReleaseHold(ctx, hold2.ID)
	if err != nil {
		t.Fatalf("ReleaseHold: %v", err)
	}
	if released.Status != models.ReservationStatusReleased {
		t.Fatalf("expected RELEASED, got %s", released.Status)
	}
	assertLedger(t, ctx, sku.ID, 100, 0, 10)

	// 7) Releasing a released reservation is a wrong-status error.
	if _, err := engine.ReleaseHold(ctx, hold2.ID); !errors.Is(err, utils.ErrorWrongStatus) {
		t.Fatalf("expected wrong-status on double release, got %v", err)
	}

	// 8) A 1-second hold expires on sweep and its stock comes back.
	hold3, err := engine.CreateHold(ctx, &workflow.NewHold{
		ClientToken:      "t3",
		Items:            []workflow.NewHoldItem{{SkuId: sku.ID, Qty: 7}},
		ExpiresInSeconds: 1,
	})
	if err != nil {
		t.Fatalf("CreateHold t3: %v", err)
	}
	assertLedger(t, ctx, sku.ID, 100, 7, 10)

	time.Sleep(1500 * time.Millisecond)
	count, err := engine.ExpireHolds(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ExpireHolds: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired reservation, got %d", count)
	}
	expired, err := models.GetReservation(db.WithContext(ctx), hold3.ID)
	if err != nil {
		t.Fatalf("GetReservation t3: %v", err)
	}
	if expired.Status != models.ReservationStatusExpired {
		t.Fatalf("expected EXPIRED, got %s", expired.Status)
	}
	assertLedger(t, ctx, sku.ID, 100, 0, 10)

	// A second sweep has nothing to do.
	count, err = engine.ExpireHolds(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("second ExpireHolds: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected idempotent sweep, got %d", count)
	}

	// 9) Direct allocation: hold+convert in one call.
	alloc, err := engine.CreateAllocation(ctx, &workflow.NewAllocation{
		ClientToken: "t4",
		Items:       []workflow.NewHoldItem{{SkuId: sku.ID, Qty: 3}},
	})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}
	if alloc.Status != models.ReservationStatusAllocated {
		t.Fatalf("expected ALLOCATED, got %s", alloc.Status)
	}
	assertLedger(t, ctx, sku.ID, 100, 0, 13)

	// Replaying the allocation token returns the same, already-allocated
	// reservation.
	allocReplay, err := engine.CreateAllocation(ctx, &workflow.NewAllocation{
		ClientToken: "t4",
		Items:       []workflow.NewHoldItem{{SkuId: sku.ID, Qty: 3}},
	})
	if err != nil {
		t.Fatalf("replay CreateAllocation: %v", err)
	}
	if allocReplay.ID != alloc.ID {
		t.Fatalf("allocation replay returned a different reservation: %s vs %s", allocReplay.ID, alloc.ID)
	}
	assertLedger(t, ctx, sku.ID, 100, 0, 13)

	// 10) The whole run left the ledger consistent, and every mutation wrote
	//     an audit row.
	report, err := models.CheckConsistency(ctx)
	if err != nil {
		t.Fatalf("CheckConsistency: %v", err)
	}
	if !report.IsConsistent {
		t.Fatalf("ledger inconsistent: %+v", report.InconsistentSkus)
	}

	var auditCount int64
	if err := db.WithContext(ctx).Model(&models.AuditLog{}).Where("sku_id = ?", sku.ID).Count(&auditCount).Error; err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	// t1 hold+convert, t2 hold+release, t3 hold+expire, t4 hold+convert.
	if auditCount != 8 {
		t.Fatalf("expected 8 audit rows, got %d", auditCount)
	}

	// 11) Operator adjustment moves total_qty and is audited; an adjustment
	//     that would push available below zero is refused.
	adjusted, err := models.AdjustTotalQuantity(ctx, sku.ID, 20, "ops")
	if err != nil {
		t.Fatalf("AdjustTotalQuantity: %v", err)
	}
	if adjusted.TotalQty != 120 {
		t.Fatalf("expected total 120 after adjustment, got %d", adjusted.TotalQty)
	}
	if _, err := models.AdjustTotalQuantity(ctx, sku.ID, -110, "ops"); !errors.Is(err, utils.ErrorInsufficientStock) {
		t.Fatalf("expected insufficient stock on over-adjustment, got %v", err)
	}
	assertLedger(t, ctx, sku.ID, 120, 0, 13)

	var adjustAudit models.AuditLog
	if err := db.WithContext(ctx).
		Where("sku_id = ? AND operation = ?", sku.ID, models.AuditOperationManualAdjust).
		First(&adjustAudit).Error; err != nil {
		t.Fatalf("fetch MANUAL_ADJUST audit row: %v", err)
	}
	if adjustAudit.Actor != "ops" || adjustAudit.Delta != 20 {
		t.Fatalf("unexpected adjustment audit row: actor=%q delta=%d", adjustAudit.Actor, adjustAudit.Delta)
	}

	// 12) Snapshot captures one row per SKU.
	n, err := models.SnapshotInventory(ctx)
	if err != nil {
		t.Fatalf("SnapshotInventory: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 snapshot row, got %d", n)
	}
}

func TestConcurrentHoldsNeverOversell(t *testing.T) {
	ctx, engine := setupIntegration(t)

	for _, strategy := range []models.LockStrategy{models.LockStrategyOptimistic, models.LockStrategyPessimistic} {
		sku, err := models.CreateSku(ctx, &models.NewSku{
			SkuCode:    fmt.Sprintf("CONTENDED-%s", strategy),
			Name:       "Contended",
			InitialQty: 100,
		})
		if err != nil {
			t.Fatalf("CreateSku(%s): %v", strategy, err)
		}

		const workers = 20
		const qtyEach = 10

		var wg sync.WaitGroup
		var mu sync.Mutex
		successes := 0

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := engine.CreateHold(ctx, &workflow.NewHold{
					ClientToken: fmt.Sprintf("%s-worker-%d", strategy, i),
					Items:       []workflow.NewHoldItem{{SkuId: sku.ID, Qty: qtyEach}},
					Strategy:    strategy,
				})
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				if !utils.IsRetryable(err) && !errors.Is(err, utils.ErrorInsufficientStock) {
					t.Errorf("%s worker %d: unexpected error %v", strategy, i, err)
				}
			}(i)
		}
		wg.Wait()

		if successes > 10 {
			t.Fatalf("%s: oversold: %d holds of %d against stock of 100", strategy, successes, qtyEach)
		}
		if successes == 0 {
			t.Fatalf("%s: no hold succeeded under contention", strategy)
		}
		// The pessimistic path queues on the per-SKU lock rather than failing
		// fast, so every worker either gets stock or a clean rejection.
		if strategy == models.LockStrategyPessimistic && successes != 10 {
			t.Fatalf("pessimistic: expected exactly 10 successful holds, got %d", successes)
		}

		assertLedger(t, ctx, sku.ID, 100, int64(successes)*qtyEach, 0)
	}
}

func TestOptimisticRetryRecoversFromConcurrentVersionBump(t *testing.T) {
	ctx, _ := setupIntegration(t)

	sku, err := models.CreateSku(ctx, &models.NewSku{
		SkuCode:    "RETRY-001",
		Name:       "Retry",
		InitialQty: 100,
	})
	if err != nil {
		t.Fatalf("CreateSku: %v", err)
	}

	db := config.GetDB()
	strategy := &workflow.OptimisticStrategy{MaxRetries: 3}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		t.Fatalf("begin: %v", tx.Error)
	}

	// Pin the transaction's consistent-read snapshot at version 1.
	snap, err := models.GetInventoryLevel(tx, sku.ID, false)
	if err != nil {
		t.Fatalf("snapshot read: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("expected fresh ledger at version 1, got %d", snap.Version)
	}

	// A concurrent writer commits a mutation, bumping the version to 2. The
	// snapshot above no longer matches the committed row.
	if ok, err := models.ApplyDelta(db.WithContext(ctx), sku.ID, 1, 0, nil); err != nil || !ok {
		t.Fatalf("concurrent bump: ok=%v err=%v", ok, err)
	}

	// Attempt 1 reads the stale snapshot and its CAS affects 0 rows; the
	// retry's locking read must see the committed version and succeed.
	before, after, err := strategy.ApplyItemDelta(ctx, tx, sku.ID, 5, 0)
	if err != nil {
		t.Fatalf("ApplyItemDelta should recover on retry, got %v", err)
	}
	if before.Version != 2 {
		t.Fatalf("retry read should see committed version 2, got %d", before.Version)
	}
	if after.Version != 3 || after.ReservedQty != 6 {
		t.Fatalf("unexpected post-retry state: %+v", after)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit: %v", err)
	}

	level, err := models.GetInventoryLevel(db.WithContext(ctx), sku.ID, false)
	if err != nil {
		t.Fatalf("final read: %v", err)
	}
	if level.ReservedQty != 6 || level.Version != 3 {
		t.Fatalf("expected reserved=6 version=3, got reserved=%d version=%d", level.ReservedQty, level.Version)
	}
}

func setupIntegration(t *testing.T) (context.Context, *workflow.Engine) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "inventory_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	return ctx, workflow.NewEngine(config.GetLogger(), config.LoadSettings())
}

func assertLedger(t *testing.T, ctx context.Context, skuId interface{ String() string }, total, reserved, allocated int64) {
	t.Helper()
	rows, err := models.GetAvailability(ctx, nil)
	if err != nil {
		t.Fatalf("GetAvailability: %v", err)
	}
	for _, row := range rows {
		if row.SkuId.String() != skuId.String() {
			continue
		}
		if row.TotalQty != total || row.ReservedQty != reserved || row.AllocatedQty != allocated {
			t.Fatalf("ledger mismatch for %s: got total=%d reserved=%d allocated=%d, want %d/%d/%d",
				skuId, row.TotalQty, row.ReservedQty, row.AllocatedQty, total, reserved, allocated)
		}
		if row.AvailableQty != total-reserved-allocated {
			t.Fatalf("derived available wrong for %s: %d", skuId, row.AvailableQty)
		}
		return
	}
	t.Fatalf("sku %s missing from availability", skuId)
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("inventory-test-redis-%d", time.Now().UnixNano())
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
	// wait until ready
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
	name := fmt.Sprintf("inventory-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=inventory_test",
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
	// wait until ready
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
	// Example: "127.0.0.1:49154\n"
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
