// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/rxsage/rxsage/services/extraction"
)

// =============================================================================
// Prescription Record Store
// =============================================================================
//
// Storage layout:
//
//	rx/v1/{appointmentID}  →  JSON-encoded Record
//
// Records are small (a few KB of extracted JSON plus the raw text) and
// write-once in the common path, so there is no secondary index: listing
// iterates the prefix. Versioned (v1) to allow format changes without
// collision.

// recordKeyPrefix is prepended to the appointment ID to form the BadgerDB key.
const recordKeyPrefix = "rx/v1/"

// ErrNotFound is returned by Get when no record exists for the appointment ID.
var ErrNotFound = errors.New("prescription not found")

// Record is one stored prescription with its extracted document.
type Record struct {
	AppointmentID string               `json:"appointment_id"`
	PatientName   string               `json:"patient_name"`
	Age           int                  `json:"age"`
	Gender        string               `json:"gender"`
	Document      *extraction.Document `json:"document"`
	Timestamp     string               `json:"timestamp"`
	RawText       string               `json:"raw_text"`
}

// Summary is the appointment-list projection of a Record. Missing patient
// fields are filled with "Unknown"/0 so the list view never renders blanks.
type Summary struct {
	AppointmentID string `json:"appointment_id"`
	PatientName   string `json:"patient_name"`
	Age           int    `json:"age"`
	Gender        string `json:"gender"`
	Timestamp     string `json:"timestamp"`
}

// Store persists prescription records in BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by db.
//
// # Description
//
// The DB must be opened by the caller (typically in main) and must not be
// closed while the store is in use. The caller owns the DB lifecycle.
//
// # Inputs
//
//   - db: Opened BadgerDB instance. Must not be nil.
//   - logger: Logger. Nil falls back to slog.Default().
func NewStore(db *badger.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Save writes (or overwrites) a record. Upsert semantics: the update
// endpoint stores under IDs it has never seen.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.AppointmentID == "" {
		return fmt.Errorf("record must have an appointment id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.AppointmentID), payload)
	})
	if err != nil {
		return fmt.Errorf("writing record %s: %w", rec.AppointmentID, err)
	}

	s.logger.Info("prescription saved",
		slog.String("appointment_id", rec.AppointmentID),
		slog.Int("bytes", len(payload)),
	)
	return nil
}

// Get loads the record for an appointment ID. Returns ErrNotFound when the
// key is absent.
func (s *Store) Get(ctx context.Context, appointmentID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(appointmentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading record %s: %w", appointmentID, err)
	}
	return &rec, nil
}

// List returns summaries for every stored record in key order. Appointment
// IDs embed the creation timestamp, so key order is chronological.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(recordKeyPrefix)); it.Valid(); it.Next() {
			item := it.Item()
			var rec Record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				s.logger.Warn("skipping corrupt record",
					slog.String("key", string(item.Key())),
					slog.Any("error", err),
				)
				continue
			}
			summaries = append(summaries, summarize(&rec))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return summaries, nil
}

func recordKey(appointmentID string) []byte {
	return []byte(recordKeyPrefix + appointmentID)
}

// summarize projects a record to its list row, filling missing patient
// fields the way the review frontend expects them.
func summarize(rec *Record) Summary {
	sum := Summary{
		AppointmentID: rec.AppointmentID,
		PatientName:   rec.PatientName,
		Age:           rec.Age,
		Gender:        rec.Gender,
		Timestamp:     rec.Timestamp,
	}
	if sum.PatientName == "" {
		sum.PatientName = "Unknown"
	}
	if sum.Gender == "" {
		sum.Gender = "Unknown"
	}
	return sum
}
