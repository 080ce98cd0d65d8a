// Package fetch defines the single-call contract between the pipeline and a
// billing vendor.
//
// A Func issues exactly one request and returns the raw status, headers and
// body. Classify decides whether the result is usable, worth retrying, or a
// terminal rejection. Retrying is left to the retry package.
package fetch
