package ethstats

import (
	"context"
	"crypto/rand"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/oklog/ulid"
	"go.uber.org/atomic"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	archiveQueueSize    = 64
	archiveWriteTimeout = 5 * time.Second
)

type archiveEvent struct {
	typ     string
	payload interface{}
}

// Archive is a Transport that keeps a record of the events in postgres.
// It is write only, the agent never reads its own history back.
type Archive struct {
	logger hclog.Logger
	db     *sqlx.DB

	closed *atomic.Bool

	eventCh   chan *archiveEvent
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewArchive(logger hclog.Logger, endpoint string) (*Archive, error) {
	db, err := sqlx.Open("postgres", endpoint)
	if err != nil {
		return nil, err
	}
	a, err := NewArchiveWithDB(logger, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func NewArchiveWithDB(logger hclog.Logger, db *sqlx.DB) (*Archive, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	a := &Archive{
		logger:  logger,
		db:      db,
		closed:  atomic.NewBool(false),
		eventCh: make(chan *archiveEvent, archiveQueueSize),
		closeCh: make(chan struct{}),
	}
	if err := a.migrate(); err != nil {
		return nil, err
	}

	a.wg.Add(1)
	go a.run()

	return a, nil
}

func (a *Archive) migrate() error {
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sqlMigrations, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return err
	}
	for _, sqlExec := range sqlMigrations {
		sqlTableQuery, err := fs.ReadFile(migrations, "migrations/"+sqlExec.Name())
		if err != nil {
			return err
		}
		if _, err = tx.Exec(string(sqlTableQuery)); err != nil {
			return fmt.Errorf("failed to migrate sql %s: %v", sqlExec.Name(), err)
		}
	}
	return tx.Commit()
}

func (a *Archive) IsConnected() bool {
	return !a.closed.Load()
}

// OnOpen runs fn right away, the database is available from the start.
func (a *Archive) OnOpen(fn func()) {
	if a.IsConnected() {
		fn()
	}
}

func (a *Archive) Send(typ string, payload interface{}) bool {
	if a.closed.Load() {
		return false
	}
	switch typ {
	case "hello", "update":
	default:
		a.logger.Trace("event not archived", "typ", typ)
		return false
	}

	select {
	case a.eventCh <- &archiveEvent{typ: typ, payload: payload}:
		return true
	default:
		a.logger.Warn("archive queue full, event dropped", "typ", typ)
		return false
	}
}

func (a *Archive) run() {
	defer a.wg.Done()

	for {
		select {
		case evnt := <-a.eventCh:
			if err := a.write(evnt); err != nil {
				a.logger.Error("failed to archive event", "typ", evnt.typ, "err", err)
			}

		case <-a.closeCh:
			return
		}
	}
}

func (a *Archive) write(evnt *archiveEvent) error {
	ctx, cancelFn := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancelFn()

	switch obj := evnt.payload.(type) {
	case *NodeInfo:
		return a.WriteNodeInfo(ctx, obj)
	case *Snapshot:
		_, err := a.WriteSnapshot(ctx, obj)
		return err
	default:
		return fmt.Errorf("unexpected payload %T for '%s'", evnt.payload, evnt.typ)
	}
}

func (a *Archive) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		close(a.closeCh)
		a.wg.Wait()
		err = a.db.Close()
	})
	return err
}

func (a *Archive) GetNodeInfo(nodeID string) (*NodeInfo, error) {
	info := NodeInfo{}
	if err := a.db.Get(&info, "SELECT node_id, name, node, os, osver FROM nodeinfo WHERE node_id=$1", nodeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &info, nil
}

func (a *Archive) WriteNodeInfo(ctx context.Context, info *NodeInfo) error {
	if info.ID == "" {
		return fmt.Errorf("node id is empty")
	}

	query := `INSERT INTO nodeinfo ("node_id", "name", "node", "os", "osver")
		VALUES (:node_id, :name, :node, :os, :osver)
		ON CONFLICT (node_id) DO UPDATE SET name = EXCLUDED.name, node = EXCLUDED.node, os = EXCLUDED.os, osver = EXCLUDED.osver, updated_at = NOW()`

	if _, err := a.db.NamedExecContext(ctx, query, info); err != nil {
		return err
	}
	return nil
}

// ArchivedSnapshot is a row of the snapshots table.
type ArchivedSnapshot struct {
	SnapshotID   string          `db:"snapshot_id"`
	NodeID       string          `db:"node_id"`
	Active       bool            `db:"active"`
	Listening    bool            `db:"listening"`
	Mining       bool            `db:"mining"`
	Peers        int             `db:"peers"`
	Pending      int             `db:"pending"`
	GasPrice     *argBig         `db:"gas_price"`
	BlockNumber  uint64          `db:"block_number"`
	BlockHash    string          `db:"block_hash"`
	BlockTimeAvg float64         `db:"blocktime_avg"`
	Uptime       float64         `db:"uptime"`
	Errors       json.RawMessage `db:"errors"`
	CreatedAt    time.Time       `db:"created_at"`
}

// WriteSnapshot stores an update and returns the id of the new row.
func (a *Archive) WriteSnapshot(ctx context.Context, snapshot *Snapshot) (string, error) {
	if snapshot.ID == "" {
		return "", fmt.Errorf("node id is empty")
	}
	stats := snapshot.Stats
	if stats == nil {
		return "", fmt.Errorf("snapshot without stats")
	}

	// we use an ulid to identify each snapshot, they sort by creation time
	id, err := newUlid()
	if err != nil {
		return "", err
	}

	errs := stats.Errors
	if errs == nil {
		errs = []StatsError{}
	}
	errsData, err := json.Marshal(errs)
	if err != nil {
		return "", err
	}

	block := stats.Block
	if block == nil {
		block = sentinelBlock()
	}

	query := `INSERT INTO snapshots
		("snapshot_id", "node_id", "active", "listening", "mining", "peers", "pending", "gas_price", "block_number", "block_hash", "blocktime_avg", "uptime", "errors")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = a.db.ExecContext(ctx, query, id, snapshot.ID, stats.Active, stats.Listening, stats.Mining, stats.Peers, stats.Pending,
		stats.GasPrice, int64(block.Number), block.Hash, stats.BlockTimeAvg, stats.Uptime.Total, string(errsData))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (a *Archive) LatestSnapshot(nodeID string) (*ArchivedSnapshot, error) {
	snapshot := ArchivedSnapshot{}

	query := `SELECT * FROM snapshots WHERE node_id=$1 ORDER BY created_at DESC, snapshot_id DESC LIMIT 1`
	if err := a.db.Get(&snapshot, query, nodeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

func newUlid() (string, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
