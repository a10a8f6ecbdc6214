package errors

// disconnectMessages are lowercase fragments of OS and net/http errors that
// mean the client closed its side of the connection.
var disconnectMessages = []string{
	"broken pipe",
	"connection reset",
	"connection was aborted",
	"connection aborted",
	"use of closed network connection",
	"client disconnected",
}
