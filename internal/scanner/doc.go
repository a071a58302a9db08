// Package scanner classifies worker and tunnel console lines.
//
// Classification is plain substring matching against a marker table. It does
// not parse the server protocol, so a marker stops matching as soon as an
// upstream release rewords the line. The table is therefore data: the
// defaults below reproduce the strings printed by Forge 1.16 era servers and
// the playit agent, and config.yaml may override every entry.
//
// A Transcript remembers which events have been seen during one run and
// answers the questions the shutdown protocol asks: has the worker become
// ready, and is world generation still in progress.
package scanner
