// Copyright 2026 The etcd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package domain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	domainsBucket  = []byte("domains")
	versionsBucket = []byte("versions")

	ErrDomainNotFound   = errors.New("domain: domain not found")
	ErrDomainExists     = errors.New("domain: domain already exists")
	ErrVersionNotFound  = errors.New("domain: version not found")
	ErrVersionNotNext   = errors.New("domain: version number is not the next one")
	ErrInvalidPartition = errors.New("domain: partition count must be positive")
)

type domainMeta struct {
	Partitions  int   `json:"partitions"`
	NextVersion int64 `json:"next_version"`
}

// Catalog is the persistent registry of domains and their live versions,
// stored in a bbolt file. The domain builder writes to it; serving hosts
// open it read-only.
type Catalog struct {
	lg *zap.Logger
	db *bolt.DB
}

// OpenCatalog opens (creating if needed) the catalog at path.
func OpenCatalog(lg *zap.Logger, path string, readOnly bool) (*Catalog, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", path, err)
	}
	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(domainsBucket); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists(versionsBucket)
			return err
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Catalog{lg: lg, db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// CreateDomain registers a new domain.
func (c *Catalog) CreateDomain(name string, partitions int) error {
	if partitions <= 0 {
		return ErrInvalidPartition
	}
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(domainsBucket)
		if b.Get([]byte(name)) != nil {
			return ErrDomainExists
		}
		if err := putMeta(b, name, domainMeta{Partitions: partitions}); err != nil {
			return err
		}
		_, err := tx.Bucket(versionsBucket).CreateBucket([]byte(name))
		return err
	})
	if err == nil {
		c.lg.Info("created domain", zap.String("domain", name), zap.Int("partitions", partitions))
	}
	return err
}

// NextVersionNumber returns the number the next published version of the
// domain must carry. Numbers are never reused, even after pruning.
func (c *Catalog) NextVersionNumber(name string) (n int64, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		m, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		n = m.NextVersion
		return nil
	})
	return n, err
}

// AddVersion appends version v to the domain's live list. v.Number must
// equal NextVersionNumber.
func (c *Catalog) AddVersion(name string, v Version) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		m, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		if v.Number != m.NextVersion {
			return fmt.Errorf("%w: got %d, want %d", ErrVersionNotNext, v.Number, m.NextVersion)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := tx.Bucket(versionsBucket).Bucket([]byte(name)).Put(versionKey(v.Number), data); err != nil {
			return err
		}
		m.NextVersion++
		return putMeta(tx.Bucket(domainsBucket), name, m)
	})
	if err == nil {
		c.lg.Info("added domain version", zap.String("domain", name), zap.Int64("version", v.Number))
	}
	return err
}

// PruneVersion removes version n from the domain's live list.
func (c *Catalog) PruneVersion(name string, n int64) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		if _, err := getMeta(tx, name); err != nil {
			return err
		}
		b := tx.Bucket(versionsBucket).Bucket([]byte(name))
		if b.Get(versionKey(n)) == nil {
			return ErrVersionNotFound
		}
		return b.Delete(versionKey(n))
	})
	if err == nil {
		c.lg.Info("pruned domain version", zap.String("domain", name), zap.Int64("version", n))
	}
	return err
}

// Domain returns an in-memory snapshot of the named domain.
func (c *Catalog) Domain(name string) (*Memory, error) {
	var d *Memory
	err := c.db.View(func(tx *bolt.Tx) error {
		m, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		d = New(name, m.Partitions)
		return tx.Bucket(versionsBucket).Bucket([]byte(name)).ForEach(func(_, val []byte) error {
			var v Version
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			d.Add(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Domains lists registered domain names.
func (c *Catalog) Domains() (names []string, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(domainsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func getMeta(tx *bolt.Tx, name string) (domainMeta, error) {
	var m domainMeta
	b := tx.Bucket(domainsBucket)
	if b == nil {
		return m, ErrDomainNotFound
	}
	data := b.Get([]byte(name))
	if data == nil {
		return m, ErrDomainNotFound
	}
	err := json.Unmarshal(data, &m)
	return m, err
}

func putMeta(b *bolt.Bucket, name string, m domainMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.Put([]byte(name), data)
}

func versionKey(n int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(n))
	return k
}
