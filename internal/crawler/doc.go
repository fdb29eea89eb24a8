// Package crawler defines the task, option, response, and error types shared
// by the fetch engine and its transports, caches, and handlers.
package crawler
