// Package testutil provides test helpers for collectord tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertEqualSlices, etc.)
//   - fs_helpers.go: filesystem operations (WriteFile, MustExist)
//   - store.go: seeded chat store databases (CreateMessageStore)
package testutil
