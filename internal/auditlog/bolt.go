package auditlog

import (
	"encoding/json"
	"fmt"
	"strconv"

	"go.etcd.io/bbolt"
)

var bucketCommands = []byte("commands")

// boltMirror writes every journal entry into a bbolt bucket keyed by its
// index, the way persistence.go writes workflow executions: one
// db.Update transaction per write, bucket created up front. bbolt is
// chosen over a SQL driver for the same reason the teacher gives —
// pure Go, no C dependencies, trivial to embed alongside the binary.
type boltMirror struct {
	db *bbolt.DB
}

func openBoltMirror(path string) (*boltMirror, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open bbolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCommands)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: create bucket: %w", err)
	}
	return &boltMirror{db: db}, nil
}

func (m *boltMirror) write(e Entry) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCommands)
		return b.Put([]byte(strconv.FormatUint(e.Index, 10)), body)
	})
}

func (m *boltMirror) close() error {
	return m.db.Close()
}
