// Package admin serves the operator HTTP surface of the daemon:
//
//	GET  /health                component health
//	GET  /listeners             advertised mechanisms and TLS context per listener
//	POST /contexts/invalidate   drop cached TLS contexts after credential rotation
//
// The server speaks HTTP/1.1 and cleartext HTTP/2 on one port.
package admin
