package control

import "errors"

// Each control-plane failure mode is a distinct sentinel so the caller can
// tell connection setup, stream setup, transfer and decoding apart. None of
// them are retried here; retry policy belongs to the caller.
var (
	// ErrConfig marks an endpoint setup failure (bind, certificate
	// generation). Fatal at construction.
	ErrConfig = errors.New("control endpoint configuration failed")

	// ErrConnect marks a failed connection attempt to a peer.
	ErrConnect = errors.New("control connection failed")

	// ErrTrust marks a certificate verification failure during the
	// handshake.
	ErrTrust = errors.New("peer certificate rejected")

	// ErrStream marks a failure to open or accept the deal stream.
	ErrStream = errors.New("control stream failed")

	// ErrIO marks a read or write failure on an established stream.
	ErrIO = errors.New("control stream I/O failed")

	// ErrDecode marks malformed deal bytes.
	ErrDecode = errors.New("malformed deal payload")

	// ErrOversize marks a deal exceeding the wire size cap.
	ErrOversize = errors.New("deal payload too large")
)
