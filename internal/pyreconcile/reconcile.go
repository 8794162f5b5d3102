// Package pyreconcile implements the pure two-manifest reconciliation
// decision procedure: no I/O, deterministic given identical inputs.
package pyreconcile

import "github.com/mterenzi/pysync-go/internal/pymanifest"

// PathSet partitions a bucket's paths into directories and files so the
// driver can create directories before their contents and delete them
// (leaves first) after.
type PathSet struct {
	Dirs  []string
	Files []string
}

func (s PathSet) empty() bool {
	return len(s.Dirs) == 0 && len(s.Files) == 0
}

// Direction separates a bucket into pull (receive) and push (send) sets,
// relative to the local side (manifest A) initiating the reconciliation.
type Direction struct {
	Pull PathSet
	Push PathSet
}

func (d Direction) empty() bool {
	return d.Pull.empty() && d.Push.empty()
}

// Plan is the reconciler's output: what to create and what to delete, each
// split by direction and then by directory/file.
type Plan struct {
	Creates Direction
	Deletes Direction
}

// IsNoOp reports whether the plan carries no actions at all — the sentinel
// the driver uses to skip straight to BYE.
func (p Plan) IsNoOp() bool {
	return p.Creates.empty() && p.Deletes.empty()
}

// Reconcile compares local manifest A against remote manifest B (both with
// Root already stripped so keys are directly comparable) and returns the
// action plan. purge enables deletion propagation (rule 4).
func Reconcile(a, b *pymanifest.Manifest, purge bool) Plan {
	var plan Plan

	classifyCreates(a, b, &plan)

	if purge {
		classifyDeletes(a, b, &plan)
	}

	return plan
}

// classifyCreates implements rules 1-3: paths present on only one side (live)
// become a create on the other; paths present on both with unequal last_mod
// flow from the newer side. Type mismatches at the same key are treated as
// rule 3 (newer wins); the driver is responsible for removing the older
// side's entry first when the replacement demands it.
func classifyCreates(a, b *pymanifest.Manifest, plan *Plan) {
	for path, infoA := range a.Entries {
		infoB, inB := b.Entries[path]

		switch {
		case !inB:
			if !infoA.IsTombstone() {
				appendTo(&plan.Creates.Push, path, infoA.Type)
			}
		case infoA.IsTombstone() || infoB.IsTombstone():
			// handled by classifyDeletes / rule 5 (no action).
		case infoA.LastMod > infoB.LastMod:
			appendTo(&plan.Creates.Push, path, infoA.Type)
		case infoB.LastMod > infoA.LastMod:
			appendTo(&plan.Creates.Pull, path, infoB.Type)
		}
	}

	for path, infoB := range b.Entries {
		if _, inA := a.Entries[path]; inA {
			continue
		}

		if !infoB.IsTombstone() {
			appendTo(&plan.Creates.Pull, path, infoB.Type)
		}
	}
}

// classifyDeletes implements rule 4: one side tombstoned, the other live,
// and the tombstone's last_mod strictly exceeds the live side's — the live
// side is a delete target. Rule 5 (tombstones on both sides) yields no
// action: the `IsTombstone()` checks below require the other side live.
func classifyDeletes(a, b *pymanifest.Manifest, plan *Plan) {
	for path, infoA := range a.Entries {
		infoB, inB := b.Entries[path]
		if !inB {
			continue
		}

		if infoA.IsTombstone() && !infoB.IsTombstone() && infoA.LastMod > infoB.LastMod {
			// A's tombstone outranks B's live entry: B's copy must go, which
			// needs a round trip to tell the remote (push-delete).
			appendTo(&plan.Deletes.Push, path, infoB.Type)
		}
	}

	for path, infoB := range b.Entries {
		infoA, inA := a.Entries[path]
		if !inA {
			continue
		}

		if infoB.IsTombstone() && !infoA.IsTombstone() && infoB.LastMod > infoA.LastMod {
			// B's tombstone outranks A's live entry: A's own copy must go,
			// which the leader can remove directly (pull-delete).
			appendTo(&plan.Deletes.Pull, path, infoA.Type)
		}
	}
}

func appendTo(dst *PathSet, path string, t pymanifest.EntryType) {
	if t == pymanifest.TypeDirectory {
		dst.Dirs = append(dst.Dirs, path)
	} else {
		dst.Files = append(dst.Files, path)
	}
}
