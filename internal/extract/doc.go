// Package extract turns page HTML and visible text into scored, deduplicated
// email candidates. Every function here is pure: no network, no clock, no
// shared state beyond the immutable configuration of an Extractor.
//
// Scores are fixed per source:
//
//	mailto links            100
//	obfuscated addresses     85
//	contact / imprint text   90
//	footer text              75
//	homepage text            60
//	free consumer domains    45 (text and obfuscated sources only)
package extract
