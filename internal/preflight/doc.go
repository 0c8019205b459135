// Package preflight checks that framescope can run against a metadata
// directory before it builds an index or serves searches.
//
// Required checks cover the keyframe metadata, writable index and data
// directories, free disk space and the open file limit. The detection and
// tag files, the embedder and the text index are reported as warnings:
// without them the corresponding modality is unavailable but the others
// still work.
//
//	checker := preflight.New(preflight.WithEmbedder(e), preflight.WithIndexProbe(probe))
//	results := checker.RunAll(ctx, preflight.Target{MetadataDir: dir, ...})
//	if preflight.HasCriticalFailures(results) {
//	    // refuse to continue
//	}
package preflight
