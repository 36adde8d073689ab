// Package coordinator keeps a live document rewritten as it changes.
//
// A Coordinator performs one full sweep of the document body and then
// subscribes to the document's mutation feed, re-running the eligibility
// filter and the phrase rule on exactly the nodes each batch reports. Every
// write is guarded by an old/new comparison, so the character-data records
// produced by its own writes settle without further writes.
package coordinator
