// Package core provides the business logic for reviewing deduplicated CSV data.
//
// This package contains all domain logic independent of any UI or transport
// layer. The web server and the dedupectl CLI both drive it directly.
//
// # Flow
//
//  1. [ParseCSV] turns an uploaded file into processing records with fresh ids.
//  2. [Orchestrator.Submit] replaces the current dataset and dispatches one
//     call through the [Deduplicator] (normally a [Client]).
//  3. [Merge] applies the returned [DedupeResult]: the first id of each group
//     becomes the deduped parent, the rest become removed children, and every
//     untouched record becomes unique.
//  4. The terminal [Dataset] snapshot is committed and broadcast to
//     subscribers; readers render it with [Flatten] and [RenderRow].
//
// Any failure (timeout, service error, malformed body, merge contract
// violation) moves the whole dataset to the error state with every record
// marked failed. Nothing is retried.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DDP001-DDP007: Dedupe client and run lifecycle errors
//   - DDP010-DDP015: Dataset lookup and history errors
//   - FILE001-FILE006: File errors (size, format, row limit)
//   - RATE001: Rate limiting
//
// # Thread Safety
//
// [Orchestrator] is safe for concurrent use. [Dataset] and [Hierarchy] values
// are immutable once published and may be shared between goroutines.
// [ExpansionSet] is not synchronized; callers own one per viewer.
package core
