// Package crawler holds the domain model shared by the contact crawl worker:
// jobs and their statuses, companies, email matches, crawl results, the
// closed set of skip codes, and the narrow interfaces the engine, lifecycle
// manager and scheduler depend on.
package crawler
