// Package ir holds the value model and declarations shared by every other
// package: instance data values, component and handler declarations, instance
// references and content-addressed identifiers.
//
// ir imports nothing internal. All other internal packages import ir.
//
// Constraints:
//   - no float values; numbers are int64 so records serialize deterministically
//   - JSON tags use snake_case
//   - ordering uses logical sequence numbers, never wall-clock time
package ir
