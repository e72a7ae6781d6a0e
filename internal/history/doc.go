// Package history persists capability and role transitions in SQLite so
// they can be inspected after the fact (usbroled history) and pruned on a
// retention schedule.
//
// The tables are created by the embedded migrations; see the migrations
// package.
package history
