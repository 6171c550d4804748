// Package httpapi serves audit verdicts and ledger verification over HTTP
// using a chi router.
package httpapi
