// Package batch runs independent per-item operations with bounded concurrency
// and reports one result per item.
//
// A failing item never stops the others. Callers read the Summary to see which
// items succeeded and which failed.
package batch
