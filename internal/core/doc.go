// Package core provides the harmonization pipeline that merges many
// independently published tabular sources into one canonical table per topic.
//
// This package holds all domain logic independent of any transport, storage
// or file format. Retrieval of sources is delegated to a [Fetcher]; output is
// consumed from a [Stream] by whatever sink the caller chooses.
//
// # Architecture
//
// A run moves through four stages:
//
//  1. The [Registry] maps the transformation names used by a catalog to a
//     closed set of [Format] variants. It is built once with [NewRegistry].
//  2. [Select] filters a [Topic]'s sources by the caller's [Constraints]
//     (required columns, jurisdiction scope, strict mode) and computes the
//     sorted output [Header]. Every transformation of an accepted source is
//     bound at this point, so catalog mistakes fail before any row exists.
//  3. [SourcePlan.Harmonize] turns one [RawRow] into one [Row] with exactly
//     one cell per header label. Fields a source lacks are null.
//  4. [Merge] produces the header and then each source's rows in order,
//     reading one source at a time.
//
// # Transformations
//
// Each field of a topic schema names a transformation:
//
//	raw         fixed literal from the catalog ({"raw": "TX"})
//	date        strftime specifier, output YYYY-MM-DD
//	time        HH:MM, or HH:MM:SS in UTC with {"utc": true}
//	race        W/B/H/A/I/P/O/U codes, longer values uppercased
//	ethnicity   HISPANIC or NON-HISPANIC
//	sex         MALE or FEMALE
//	boolean     true for values starting with y or t
//	number      integer or float; text without digits passes through
//	lower, upper, capitalize
//	state       two-letter code from a name, code or partial name
//	condition   lowercased free text
//
// Malformed or empty cells never fail a run: the transformation yields null.
//
// # Error Handling
//
// [ConfigurationError] is fatal and is returned before a stream starts.
// [SourceFetchError] is recorded on the stream, logged, and the stream moves
// on to the next source. Errors are mapped to user-facing messages and codes
// with [MapError]:
//
//   - CFG001-CFG005: Catalog and request errors
//   - SRC001-SRC003: Source retrieval errors
//   - RUN001-RUN003: Run limits, cancellation and timeouts
package core
