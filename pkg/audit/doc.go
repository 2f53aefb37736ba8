// Package audit records who did what to which resource. Writes are
// asynchronous and lossy under pressure: a full buffer drops the entry and
// increments a counter instead of blocking the request path.
package audit
