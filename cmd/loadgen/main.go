// Command loadgen drives a synthetic insert/update/delete
// workload against a pagedb engine, either once or on a cron schedule
// for long-running soak tests (grounded on the teacher's own
// cmd/tinysql flag-driven CLI and on cmd/benchmark-style load
// generators in the wider example pack).
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"pagedb"
	"pagedb/internal/value"
)

func main() {
	dir := flag.String("dir", "", "database directory (default: a fresh temp dir)")
	rows := flag.Int("rows", 10000, "rows to insert per run")
	withIndex := flag.Bool("index", true, "build a secondary index on the value column")
	schedule := flag.String("cron", "", "cron expression to repeat the run on (e.g. \"*/5 * * * *\"); empty runs once")
	flag.Parse()

	root := *dir
	if root == "" {
		tmp, err := os.MkdirTemp("", "pagedb-loadgen-*")
		if err != nil {
			log.Fatalf("loadgen: %v", err)
		}
		defer os.RemoveAll(tmp)
		root = tmp
	}

	run := func() {
		if err := runOnce(root, *rows, *withIndex); err != nil {
			log.Printf("loadgen: run failed: %v", err)
		}
	}

	if *schedule == "" {
		run()
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(*schedule, run); err != nil {
		log.Fatalf("loadgen: bad cron expression %q: %v", *schedule, err)
	}
	log.Printf("loadgen: scheduled %q against %s, press Ctrl+C to stop", *schedule, root)
	c.Start()
	select {}
}

func runOnce(dir string, rows int, withIndex bool) error {
	start := time.Now()
	eng, err := pagedb.Open(dir)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer eng.Close()

	name := fmt.Sprintf("load_%d", time.Now().UnixNano())
	t, err := eng.NewTable(name, []pagedb.Column{
		{Name: "id", Type: pagedb.TypeInt32, PrimaryKey: true},
		{Name: "value", Type: pagedb.TypeInt32},
		{Name: "label", Type: pagedb.TypeText},
	})
	if err != nil {
		return fmt.Errorf("new_table: %w", err)
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	ids := make([]uint32, 0, rows)
	for i := 0; i < rows; i++ {
		label, err := value.Text(fmt.Sprintf("row-%d", i))
		if err != nil {
			return fmt.Errorf("encode label: %w", err)
		}
		rowID, err := t.Insert([]value.Value{
			value.Int32(int32(i)),
			value.Int32(rnd.Int31n(int32(rows))),
			label,
		})
		if err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
		ids = append(ids, rowID)
	}

	if withIndex {
		if err := t.CreateIndex("value"); err != nil {
			return fmt.Errorf("create_index(value): %w", err)
		}
	}

	updates := rows / 10
	for i := 0; i < updates; i++ {
		rowID := ids[rnd.Intn(len(ids))]
		if err := t.Update(rowID, "value", value.Int32(rnd.Int31n(int32(rows)))); err != nil {
			return fmt.Errorf("update row %d: %w", rowID, err)
		}
	}

	deletes := rows / 20
	for i := 0; i < deletes; i++ {
		rowID := ids[rnd.Intn(len(ids))]
		if err := t.Delete(rowID); err != nil {
			continue // row id was already deleted by an earlier iteration
		}
	}

	elapsed := time.Since(start)
	log.Printf("loadgen: table %s: %d inserts, %d updates, %d delete attempts in %s",
		name, rows, updates, deletes, elapsed)
	return nil
}
