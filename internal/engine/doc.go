// Package engine crawls one company website for contact addresses under fixed
// budgets: a page cap, a link inspection cap, a wall clock deadline checked
// between steps, and a per page email cap. Outbound requests go through a
// shared rate limiter.
package engine
