// Package sample holds the decoded data model of the pipeline.
//
// A Sample is one value on one channel, stamped by the Buffer with a sequence
// number that reflects arrival order. The Buffer retains a fixed number of
// samples and evicts oldest first:
//
//	buf, _ := sample.NewBuffer(5000)
//	buf.Append(decoded)
//	w := buf.Latest(500)        // trailing window for grid view
//	all := buf.All()            // full retained history
//	part := buf.Window(sample.Range{Start: 100, End: 200})
//
// Windows are copies. A window whose requested range reached into evicted
// history carries Truncated=true; that is not an error.
//
// Reset clears retained samples and bumps the generation number; sequence
// numbers are never reused, so a window can always be attributed to exactly
// one generation.
package sample
