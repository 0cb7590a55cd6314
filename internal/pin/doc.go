// Package pin tracks the buffer pins one store instance holds on segment
// pin-test locations.
package pin
