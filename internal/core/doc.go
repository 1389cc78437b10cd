// Package core provides the business logic of the part registry.
//
// This package holds every operation the HTTP layer exposes, independent of
// transport. It can be used by web handlers, the admin tooling or tests
// without modification; persistence is reached through the [Store]
// interface.
//
// # Architecture
//
//   - Identifiers: [Service.ReserveIDs] hands out gap-free, never-reused
//     ranges per prefix, formatted as PREFIX_000123.
//   - Candidates: [Service.Candidates] and [Service.CandidatesBulk] fetch
//     catalog parts that might be the same part as an incoming name.
//   - Imports: a session classifies a batch of rows, records review
//     decisions, assigns IDs and commits new parts to the catalog.
//   - Catalog: create, update, list and delete parts; item categories and
//     the last prefix used per module.
//
// # Import Flow
//
//  1. [Service.StartImport] normalizes and classifies rows
//  2. [Service.DecideRow] resolves each POSSIBLE_MATCH
//  3. [Service.UpdateRow] fixes item types, names and inclusion
//  4. [Service.AssignImportIDs] reserves IDs for the rows that need one
//  5. [Service.CommitImport] writes the parts and remembers confirmed matches
//
// # Error Handling
//
// Operations return sentinel errors ([ErrValidation], [ErrNotFound],
// [ErrConflict], [ErrPrecondition], [ErrTooManyImports], [ErrResetDisabled])
// wrapped with context. [MapError] turns any error into a user message with
// a support code:
//
//   - VAL001-VAL002: invalid input
//   - ID001-ID002: identifier conflicts and reset
//   - IMP001-IMP005: import session state
//   - DB001-DB007: database errors
//   - REQ001-REQ002: cancelled and timed out requests
package core
