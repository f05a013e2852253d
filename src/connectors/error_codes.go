package connectors

import "fmt"

// BinanceErrorCodes maps Binance spot API error codes to their names.
var BinanceErrorCodes = map[int]string{
	-1000: "UNKNOWN",                  // Unknown error while processing the request
	-1001: "DISCONNECTED",             // Internal error, unable to process
	-1003: "TOO_MANY_REQUESTS",        // Request weight or order rate exceeded
	-1006: "UNEXPECTED_RESP",          // Unexpected response from the message bus
	-1007: "TIMEOUT",                  // Timeout waiting for backend, execution status unknown
	-1008: "SERVER_BUSY",              // Spot server overloaded
	-1013: "FILTER_FAILURE",           // Order failed a symbol filter (LOT_SIZE, NOTIONAL...)
	-1015: "TOO_MANY_ORDERS",          // Too many new orders
	-1021: "INVALID_TIMESTAMP",        // Timestamp outside recvWindow
	-1022: "INVALID_SIGNATURE",        // Signature not valid
	-1100: "ILLEGAL_CHARS",            // Illegal characters in a parameter
	-1102: "MANDATORY_PARAM_EMPTY",    // Mandatory parameter missing
	-1111: "BAD_PRECISION",            // Precision over the maximum for the asset
	-1116: "INVALID_ORDER_TYPE",       // Invalid orderType
	-1117: "INVALID_SIDE",             // Invalid side
	-1121: "INVALID_SYMBOL",           // Invalid symbol
	-2010: "NEW_ORDER_REJECTED",       // Order rejected by the matching engine (e.g. balance)
	-2011: "CANCEL_REJECTED",          // Cancel rejected
	-2013: "NO_SUCH_ORDER",            // Order does not exist
	-2014: "BAD_API_KEY_FMT",          // API key format invalid
	-2015: "REJECTED_MBX_KEY",         // Invalid API key, IP or permissions
}

// transientErrorCodes are worth retrying with the same request.
var transientErrorCodes = map[int]bool{
	-1000: true,
	-1001: true,
	-1003: true,
	-1006: true,
	-1007: true,
	-1008: true,
	-1015: true,
	-1021: true,
}

// GetErrorMsg returns the name of a Binance error code.
// If the code is unknown, returns a generic name including the code.
func GetErrorMsg(code int) string {
	if msg, ok := BinanceErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_BINANCE_ERROR_%d", code)
}
