// Package harness runs end-to-end document store scenarios.
//
// A scenario drives a fresh docstore.Client through a flow of steps against
// throwaway local and remote SQLite files, with a manual clock and
// sequential ids so every run is reproducible. Each step and each remote
// bulk write is recorded in a trace, and assertions check the final state of
// both stores.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	flow:
//	  - do: create
//	    type: post
//	    id: p1
//	    data: { views: 1 }
//	  - do: update
//	    type: post
//	    id: p1
//	    data: { views: { $inc: 1 } }
//	  - do: drain
//	    expect: { rows: 1 }
//	assertions:
//	  - type: current
//	    doc: post
//	    id: p1
//	    expect: { views: 2 }
//
// # Step Kinds
//
//   - create, update, delete: document mutations, staged when tx is set
//   - begin, commit, rollback: transaction lifecycle, tx names the transaction
//   - burst: count upserts spread over docs documents of one type
//   - advance: move the clock by duration
//   - cleanup: remove expired staged rows older than grace
//   - drain: run one sync engine cycle
//   - sync: drain until nothing is left
//
// # Assertion Types
//
//   - current: the local current version exists and its data contains expect
//   - absent: the local document does not exist or is deleted
//   - listed: a list including deleted rows returns the document, deleted as given
//   - remote_current, remote_absent: the same checks against the remote store
//   - max_rows_per_write: no remote bulk write carried more than count rows
//   - tx_status: the transaction is in the given status
package harness
