// Package derive maintains derived tables with triggers.
//
// Two kinds of rules are supported, both declared in a YAML rules file:
//
//	rollups:
//	  - name: user_post_stats
//	    source: posts          # child table
//	    parent_key: user_id
//	    parent: users.id       # optional existence guard
//	    target: user_stats
//	    target_key: user_id
//	    filter: published = 1  # optional
//	    watch: [published]
//	    aggregates:
//	      - {column: post_count, func: count}
//	      - {column: total_score, func: total, of: score}
//	closures:
//	  - name: category_tree
//	    source: categories
//	    id: id
//	    parent: parent_id
//	    target: category_closure   # (ancestor, descendant, depth)
//
// A rollup trigger recomputes the full aggregate row of each affected
// parent with an upsert instead of adjusting counters, so firing it again
// converges to the same state. A closure trigger rewrites the edges of the
// moved or deleted subtree only.
//
// Triggers run inside the writing statement. A failure in a trigger fails
// the write that fired it and rolls back the whole transaction around it,
// so rows written earlier in that transaction are gone and Commit fails.
// Nothing else records the error.
//
// Verify recomputes every rule from scratch and reports drift. Rebuild
// repairs a rule's target table.
package derive
