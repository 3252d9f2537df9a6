// Package normalize turns uploaded score tables into canonical long-format
// score rows. It detects wide and long layouts, assigns stable ordinal
// question IDs, extracts full-score declarations and resolves the mixed
// rate/percentage/absolute conventions found in upstream files.
package normalize
