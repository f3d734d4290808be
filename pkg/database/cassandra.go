package database

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"pair-backend/pkg/config"
)

// CassandraDB connection wrapper
type CassandraDB struct {
	Session *gocql.Session
	Cluster *gocql.ClusterConfig
}

// NewCassandraDB creates a new Cassandra session
func NewCassandraDB(cfg *config.CassandraConfig) (*CassandraDB, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = cfg.Timeout

	cluster.NumConns = 2
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        time.Second,
		Max:        10 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	return &CassandraDB{
		Session: session,
		Cluster: cluster,
	}, nil
}

// Close closes the Cassandra session
func (db *CassandraDB) Close() {
	if db.Session != nil {
		db.Session.Close()
	}
}
