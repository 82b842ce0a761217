// Package proxy is the reference host for the depscope observer: a small
// mTLS-terminating reverse proxy that routes by authority, drives one
// observer through the request and response header phases of every
// transaction, and applies the optional publish gate to the edge header.
package proxy
