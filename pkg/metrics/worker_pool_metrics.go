package metrics

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// =============================================================================
// Connection Pool Monitor
// =============================================================================

// RegisterSQLDB exposes database/sql pool statistics under dbName.
func RegisterSQLDB(dbName string, db *sql.DB) error {
	return register(collectors.NewDBStatsCollector(db, dbName))
}

// RegisterPgxPool exposes pgxpool statistics under dbName.
func RegisterPgxPool(dbName string, pool *pgxpool.Pool) error {
	return register(newPgxPoolCollector(dbName, pool))
}

func register(c prometheus.Collector) error {
	err := prometheus.Register(c)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

type pgxPoolCollector struct {
	pool *pgxpool.Pool

	total         *prometheus.Desc
	acquired      *prometheus.Desc
	idle          *prometheus.Desc
	max           *prometheus.Desc
	acquireCount  *prometheus.Desc
	acquireWait   *prometheus.Desc
	emptyAcquires *prometheus.Desc
}

func newPgxPoolCollector(dbName string, pool *pgxpool.Pool) *pgxPoolCollector {
	labels := prometheus.Labels{"db_name": dbName}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pgxpool", name), help, nil, labels)
	}
	return &pgxPoolCollector{
		pool:          pool,
		total:         desc("total_conns", "Connections currently open"),
		acquired:      desc("acquired_conns", "Connections currently checked out"),
		idle:          desc("idle_conns", "Idle connections"),
		max:           desc("max_conns", "Maximum pool size"),
		acquireCount:  desc("acquire_total", "Successful acquires"),
		acquireWait:   desc("acquire_seconds_total", "Total time spent acquiring connections"),
		emptyAcquires: desc("empty_acquire_total", "Acquires that had to wait for a connection"),
	}
}

func (c *pgxPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.acquired
	ch <- c.idle
	ch <- c.max
	ch <- c.acquireCount
	ch <- c.acquireWait
	ch <- c.emptyAcquires
}

func (c *pgxPoolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(stat.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireWait, prometheus.CounterValue, stat.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
}
