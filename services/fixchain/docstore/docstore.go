// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docstore persists test results and run records as JSON
// documents in an embedded BadgerDB. Documents live in named
// collections and are addressed by collection and ID.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicateKey is returned by Insert when the ID already exists.
	ErrDuplicateKey = errors.New("document already exists")

	// ErrConnection is returned when the backing store is unreachable
	// or closed.
	ErrConnection = errors.New("document store unavailable")

	// ErrQuery is returned when a read or scan fails.
	ErrQuery = errors.New("document store query failed")
)

// MatchFunc filters raw documents during a Find scan. Returning true
// keeps the document.
type MatchFunc func(raw json.RawMessage) bool

// DocumentStore stores JSON documents in named collections.
//
// Implementations must be safe for concurrent use.
type DocumentStore interface {
	// Insert stores a new document. Fails with ErrDuplicateKey when the
	// ID is taken.
	Insert(ctx context.Context, collection, id string, doc any) error

	// Save stores a document, overwriting any existing one.
	Save(ctx context.Context, collection, id string, doc any) error

	// Get unmarshals the document with the given ID into out.
	Get(ctx context.Context, collection, id string, out any) error

	// Find scans a collection and returns the raw documents accepted by
	// match. A nil match returns everything.
	Find(ctx context.Context, collection string, match MatchFunc) ([]json.RawMessage, error)

	// Delete removes a document. Fails with ErrNotFound when absent.
	Delete(ctx context.Context, collection, id string) error

	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases the backing store.
	Close() error
}
