// Package store is the server's embedded key/value database: the resolved URL cache shared by all requests, and the
// comment payloads posted to the investigation collector.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/alanbriolat/post-archiver"
)

var Buckets = struct {
	Metadata       []byte
	Resolutions    []byte
	Investigations []byte
}{
	Metadata:       []byte("__metadata__"),
	Resolutions:    []byte("resolutions"),
	Investigations: []byte("investigations"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

var ErrNewerVersion = errors.New("database was written by a newer version")

type Store struct {
	db *bbolt.DB
}

// Investigation is one diagnostic payload received by the collector, stored verbatim.
type Investigation struct {
	ID       string          `json:"id"`
	Received time.Time       `json:"received"`
	Payload  json.RawMessage `json:"payload"`
}

type cachedResolution struct {
	post_archiver.ResolvedURL
	Cached time.Time `json:"cached"`
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) (err error) {
		// Ensure buckets exist
		var metadata *bbolt.Bucket
		if metadata, err = tx.CreateBucketIfNotExists(Buckets.Metadata); err != nil {
			return err
		}
		for _, name := range [][]byte{Buckets.Resolutions, Buckets.Investigations} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		// Get the current version of the database
		var version int
		if versionBytes := metadata.Get(MetadataKeys.Version); versionBytes == nil {
			version = 0
		} else if err = json.Unmarshal(versionBytes, &version); err != nil {
			return err
		}
		if version > currentVersion {
			return fmt.Errorf("%w: %d", ErrNewerVersion, version)
		}

		// Set the current version of the database
		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else if err = metadata.Put(MetadataKeys.Version, versionBytes); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetResolution returns a previously stored resolution of original, if there is one.
func (s *Store) GetResolution(original string) (resolved post_archiver.ResolvedURL, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(Buckets.Resolutions).Get([]byte(original))
		if data == nil {
			return nil
		}
		var cached cachedResolution
		if err := json.Unmarshal(data, &cached); err != nil {
			return err
		}
		resolved, ok = cached.ResolvedURL, true
		return nil
	})
	return resolved, ok, err
}

func (s *Store) PutResolution(resolved post_archiver.ResolvedURL) error {
	data, err := json.Marshal(cachedResolution{ResolvedURL: resolved, Cached: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Resolutions).Put([]byte(resolved.Original), data)
	})
}

func (s *Store) PutInvestigation(inv Investigation) error {
	if inv.ID == "" {
		return errors.New("investigation has no id")
	}
	data, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Investigations).Put([]byte(inv.ID), data)
	})
}

// ListInvestigations returns every stored investigation, oldest first.
func (s *Store) ListInvestigations() (investigations []Investigation, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Investigations).ForEach(func(k, v []byte) error {
			var inv Investigation
			if err := json.Unmarshal(v, &inv); err != nil {
				return err
			}
			investigations = append(investigations, inv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(investigations, func(i, j int) bool {
		return investigations[i].Received.Before(investigations[j].Received)
	})
	return investigations, nil
}
